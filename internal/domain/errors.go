package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by stores when a record or draft does not exist.
var ErrNotFound = errors.New("not found")

var (
	// ErrAttachmentUpload matches a SubmissionError raised while uploading a file.
	ErrAttachmentUpload = errors.New("attachment upload failed")

	// ErrPersistence matches a SubmissionError raised while writing the record.
	ErrPersistence = errors.New("record write failed")

	// ErrStorageUnavailable matches an OfflineQueueError caused by the local
	// draft store rejecting a read or write.
	ErrStorageUnavailable = errors.New("offline storage unavailable")
)

// FieldError is one failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a submission.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return "invalid issue: " + strings.Join(msgs, "; ")
}

// Add appends a field problem.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns e if it holds any problems.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// SubmissionCode identifies which step of a submission failed.
type SubmissionCode string

const (
	CodeAttachmentUpload SubmissionCode = "storage-upload-failed"
	CodePersistence      SubmissionCode = "record-write-failed"
)

// SubmissionError is returned when an upload or the record write fails. Any
// assets uploaded before the failure have already been cleaned up.
type SubmissionError struct {
	Code    SubmissionCode
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Is lets errors.Is match the code-level sentinels.
func (e *SubmissionError) Is(target error) bool {
	switch target {
	case ErrAttachmentUpload:
		return e.Code == CodeAttachmentUpload
	case ErrPersistence:
		return e.Code == CodePersistence
	}
	return false
}

// DuplicateCheckError wraps a failed proximity query.
type DuplicateCheckError struct {
	Err error
}

func (e *DuplicateCheckError) Error() string { return "duplicate check: " + e.Err.Error() }
func (e *DuplicateCheckError) Unwrap() error { return e.Err }

// OfflineQueueError is returned when the local draft store cannot be used.
type OfflineQueueError struct {
	Op  string
	Err error
}

func (e *OfflineQueueError) Error() string {
	return fmt.Sprintf("offline queue %s: %v", e.Op, e.Err)
}

func (e *OfflineQueueError) Unwrap() error { return e.Err }

func (e *OfflineQueueError) Is(target error) bool { return target == ErrStorageUnavailable }

// UserMessage returns the text shown to a citizen for err.
func UserMessage(err error) string {
	var (
		verr *ValidationError
		serr *SubmissionError
		qerr *OfflineQueueError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return "Please fix the highlighted fields and try again."
	case errors.As(err, &serr):
		if serr.Message != "" {
			return serr.Message
		}
		if serr.Code == CodeAttachmentUpload {
			return "Photo upload failed. Please retry or remove the attachment."
		}
		return "Unable to save your issue right now. Please try again."
	case errors.As(err, &qerr):
		return "Unable to save your report offline. Please free up storage and try again."
	case errors.Is(err, ErrNotFound):
		return "We could not find that report."
	default:
		return "Something went wrong. Please try again."
	}
}
