package domain

import (
	"strings"
	"time"
)

const defaultActorLabel = "City Staff"

// StatusChange is a staff update applied to a stored record.
type StatusChange struct {
	Status        Status
	StaffID       string
	AfterImageURL string
	History       []HistoryEntry
	UpdatedAt     time.Time
}

// PlanStatusChange builds the update for moving r to status. History entries
// are appended only for stages r does not already have.
func PlanStatusChange(r IssueRecord, status Status, staffID, staffName string) StatusChange {
	now := Now()
	actor := strings.TrimSpace(staffName)
	if actor == "" {
		actor = defaultActorLabel
	}

	existing := r.Stages()
	change := StatusChange{Status: status, StaffID: staffID, UpdatedAt: now}
	add := func(stage Stage, st Status, note string) {
		if existing[stage] {
			return
		}
		existing[stage] = true
		change.History = append(change.History, HistoryEntry{
			Stage:     stage,
			Status:    st,
			ChangedBy: staffID,
			ChangedAt: now,
			Note:      note,
		})
	}

	switch status {
	case StatusInProgress:
		add(StageAssigned, StatusInProgress, "Assigned to "+actor)
		add(StageInProgress, StatusInProgress, actor+" started work")
	case StatusResolved:
		add(StageAssigned, StatusInProgress, "Assigned to "+actor)
		add(StageInProgress, StatusInProgress, actor+" started work")
		add(StageResolved, StatusResolved, actor+" resolved the issue")
	}
	return change
}

// Apply returns r with the change applied, as a store would persist it.
func (c StatusChange) Apply(r IssueRecord) IssueRecord {
	r.Status = c.Status
	r.StaffID = c.StaffID
	r.UpdatedAt = c.UpdatedAt
	if c.AfterImageURL != "" {
		r.AfterImageURL = c.AfterImageURL
	}
	r.StatusHistory = append(append([]HistoryEntry(nil), r.StatusHistory...), c.History...)
	return r
}
