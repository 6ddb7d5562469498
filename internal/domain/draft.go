package domain

// InlineFile is an attachment inlined as a data URL so a draft stays a
// single JSON document.
type InlineFile struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	DataURL string `json:"dataUrl"`
}

// Draft is a submission saved locally while offline. CreatedAt is Unix
// milliseconds. DeliveredIssueID is set once replay has written the record
// but has not yet removed the draft.
type Draft struct {
	ID               string       `json:"id"`
	CreatedAt        int64        `json:"createdAt"`
	Payload          IssuePayload `json:"payload"`
	Image            *InlineFile  `json:"image,omitempty"`
	IdentityImage    *InlineFile  `json:"identityImage,omitempty"`
	DeliveredIssueID string       `json:"deliveredIssueId,omitempty"`
}
