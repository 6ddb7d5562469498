package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/civicfix-service/internal/domain"
	"github.com/couchcryptid/civicfix-service/internal/geo"
	"github.com/couchcryptid/civicfix-service/internal/triage"
)

// issueForm is a decoded submission: a JSON body, or a multipart form with a
// JSON "payload" field and optional "photo" and "identity" files.
type issueForm struct {
	payload  domain.IssuePayload
	photo    *domain.Attachment
	identity *domain.Attachment
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

func (h *handlers) decodeIssueForm(w http.ResponseWriter, r *http.Request) (issueForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.api.MaxUploadBytes)

	var form issueForm
	if !isMultipart(r) {
		if err := json.NewDecoder(r.Body).Decode(&form.payload); err != nil {
			return form, fmt.Errorf("invalid JSON body: %w", err)
		}
		return form, nil
	}

	if err := r.ParseMultipartForm(h.api.MaxUploadBytes); err != nil {
		return form, fmt.Errorf("invalid multipart form: %w", err)
	}
	if err := json.Unmarshal([]byte(r.FormValue("payload")), &form.payload); err != nil {
		return form, fmt.Errorf("invalid payload field: %w", err)
	}

	var err error
	if form.photo, err = formFile(r, "photo"); err != nil {
		return form, err
	}
	if form.identity, err = formFile(r, "identity"); err != nil {
		return form, err
	}
	return form, nil
}

// formFile reads an optional file part. A missing part is nil.
func formFile(r *http.Request, field string) (*domain.Attachment, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	return &domain.Attachment{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

type statusBody struct {
	Status    domain.Status `json:"status"`
	StaffID   string        `json:"staffId"`
	StaffName string        `json:"staffName"`
}

func (h *handlers) decodeStatusUpdate(w http.ResponseWriter, r *http.Request, id string) (triage.StatusUpdate, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.api.MaxUploadBytes)
	u := triage.StatusUpdate{IssueID: id}

	if !isMultipart(r) {
		var body statusBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return u, fmt.Errorf("invalid JSON body: %w", err)
		}
		u.Status, u.StaffID, u.StaffName = body.Status, body.StaffID, body.StaffName
		return u, nil
	}

	if err := r.ParseMultipartForm(h.api.MaxUploadBytes); err != nil {
		return u, fmt.Errorf("invalid multipart form: %w", err)
	}
	u.Status = domain.Status(r.FormValue("status"))
	u.StaffID = r.FormValue("staffId")
	u.StaffName = r.FormValue("staffName")
	var err error
	u.AfterImage, err = formFile(r, "afterImage")
	return u, err
}

// issueFilter reads category, userId, status (comma separated) and limit.
func issueFilter(r *http.Request) (triage.Filter, error) {
	q := r.URL.Query()
	f := triage.Filter{
		Category: q.Get("category"),
		UserID:   q.Get("userId"),
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := domain.Status(strings.TrimSpace(s))
			if !st.Valid() {
				return f, fmt.Errorf("unknown status %q", st)
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return f, fmt.Errorf("invalid limit %q", raw)
		}
		f.Limit = n
	}
	return f, nil
}

// floatParam parses a finite float query parameter.
func floatParam(r *http.Request, name string) (float64, error) {
	v, err := strconv.ParseFloat(r.URL.Query().Get(name), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}

// pointParam reads the lat and lng query parameters as a point on the globe.
func pointParam(r *http.Request) (geo.Point, error) {
	lat, err := floatParam(r, "lat")
	if err != nil {
		return geo.Point{}, err
	}
	lng, err := floatParam(r, "lng")
	if err != nil {
		return geo.Point{}, err
	}
	p := geo.Point{Lat: lat, Lng: lng}
	if !p.Valid() {
		return geo.Point{}, errors.New("location coordinates are out of range")
	}
	return p, nil
}

func minutesParam(r *http.Request, name string) (time.Duration, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return time.Duration(n) * time.Minute, nil
}
