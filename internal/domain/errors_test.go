package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubmissionError_IsMatchesCode(t *testing.T) {
	cause := errors.New("bucket unreachable")
	err := fmt.Errorf("create issue: %w", &SubmissionError{Code: CodeAttachmentUpload, Err: cause})

	assert.ErrorIs(t, err, ErrAttachmentUpload)
	assert.NotErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
}

func TestOfflineQueueError_IsStorageUnavailable(t *testing.T) {
	err := &OfflineQueueError{Op: "write", Err: errors.New("quota exceeded")}

	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestValidationError_OrNil(t *testing.T) {
	var verr ValidationError
	assert.NoError(t, verr.OrNil())

	verr.Add("title", "title is required")
	verr.Add("lat", "lat must be a valid latitude")
	err := verr.OrNil()

	assert.EqualError(t, err, "invalid issue: title is required; lat must be a valid latitude")
}

func TestUserMessage_DistinguishesFailures(t *testing.T) {
	upload := UserMessage(&SubmissionError{Code: CodeAttachmentUpload})
	write := UserMessage(&SubmissionError{Code: CodePersistence})
	offline := UserMessage(&OfflineQueueError{Op: "write", Err: errors.New("x")})

	assert.Contains(t, upload, "Photo upload failed")
	assert.Contains(t, write, "Unable to save your issue")
	assert.Contains(t, offline, "offline")
	assert.NotEqual(t, upload, write)
	assert.Empty(t, UserMessage(nil))
}

func TestEvent_Key(t *testing.T) {
	assert.Equal(t, "abc", Event{Name: EventIssueResolved, Params: map[string]any{"issue_id": "abc"}}.Key())
	assert.Equal(t, "issue_created", Event{Name: EventIssueCreated}.Key())
}
