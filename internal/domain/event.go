package domain

import "time"

// EventName is a domain event identifier.
type EventName string

const (
	EventIssueCreated  EventName = "issue_created"
	EventIssueResolved EventName = "issue_resolved"
	EventUserVerified  EventName = "user_verified"
)

// Event is a named domain event with flat parameters. Params values are
// strings or numbers after normalization.
type Event struct {
	Name       EventName      `json:"name"`
	Params     map[string]any `json:"params"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Key returns a stable partitioning key: the issue id when present.
func (e Event) Key() string {
	if id, ok := e.Params["issue_id"].(string); ok && id != "" {
		return id
	}
	return string(e.Name)
}
