package offline

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/couchcryptid/civicfix-service/internal/domain"
)

const defaultAttachmentName = "attachment"

// inline encodes an attachment as a data URL.
func inline(a *domain.Attachment) *domain.InlineFile {
	if a == nil {
		return nil
	}
	mimeType := a.ContentType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &domain.InlineFile{
		Name:    a.Name,
		Type:    a.ContentType,
		DataURL: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(a.Data),
	}
}

// Decode turns an inlined file back into an attachment. The stored type wins
// over the data URL prefix.
func Decode(f *domain.InlineFile) (*domain.Attachment, error) {
	if f == nil {
		return nil, nil
	}
	meta, payload, ok := strings.Cut(f.DataURL, ",")
	if !ok || !strings.HasPrefix(meta, "data:") {
		return nil, fmt.Errorf("invalid data URL")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data URL: %w", err)
	}

	mimeType := f.Type
	if mimeType == "" {
		mimeType, _, _ = strings.Cut(strings.TrimPrefix(meta, "data:"), ";")
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	name := f.Name
	if name == "" {
		name = defaultAttachmentName
	}
	return &domain.Attachment{Name: name, ContentType: mimeType, Data: data}, nil
}
