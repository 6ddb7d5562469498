package pipeline

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/civicfix-service/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var fieldLabels = map[string]string{
	"title":       "Title",
	"description": "Description",
	"category":    "Category",
	"fullAddress": "Full address",
	"city":        "City",
	"state":       "State",
	"pincode":     "Pincode",
	"country":     "Country",
	"userId":      "Reporter",
}

// Validate checks a normalized payload and its attachments before anything
// touches the network. It returns a *domain.ValidationError listing every
// problem, or nil.
func Validate(p domain.IssuePayload, photo, identity *domain.Attachment) error {
	verr := &domain.ValidationError{}

	if err := validate.Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		seen := make(map[string]bool)
		for _, fe := range fieldErrs {
			field, msg := describe(fe)
			if seen[field] {
				continue
			}
			seen[field] = true
			verr.Add(field, msg)
		}
	}

	if photo != nil {
		switch contentType(photo) {
		case "image/jpeg", "image/png":
		default:
			verr.Add("photo", "Only JPG and PNG images are allowed.")
		}
	}
	if identity != nil && !strings.HasPrefix(contentType(identity), "image/") {
		verr.Add("identity", "Identity document must be an image.")
	}
	return verr.OrNil()
}

// addressFields are the fields a reverse geocode can complete.
var addressFields = map[string]bool{
	"fullAddress": true,
	"city":        true,
	"state":       true,
	"pincode":     true,
	"country":     true,
}

// validateExceptAddress is Validate with problems in addressFields dropped.
// It gates the geocoder so a payload that cannot pass never costs a lookup.
func validateExceptAddress(p domain.IssuePayload, photo, identity *domain.Attachment) error {
	err := Validate(p, photo, identity)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	kept := &domain.ValidationError{}
	for _, f := range verr.Fields {
		if !addressFields[f.Field] {
			kept.Fields = append(kept.Fields, f)
		}
	}
	return kept.OrNil()
}

func describe(fe validator.FieldError) (field, msg string) {
	switch fe.Field() {
	case "lat", "lng":
		if fe.Tag() == "required" {
			return "location", "Select the issue location on the map."
		}
		return "location", "Location coordinates are out of range."
	case "aadharNumber":
		return "aadharNumber", "Aadhaar number must be exactly 12 digits."
	}
	label, ok := fieldLabels[fe.Field()]
	if !ok {
		label = fe.Field()
	}
	return fe.Field(), label + " is required."
}

// contentType trusts the declared type and sniffs the bytes otherwise.
func contentType(a *domain.Attachment) string {
	ct := strings.ToLower(strings.TrimSpace(a.ContentType))
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(a.Data)
	}
	ct, _, _ = strings.Cut(ct, ";")
	return ct
}
