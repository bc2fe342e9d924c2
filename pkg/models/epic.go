package models

import "time"

// EpicStatus represents the current state of an epic.
// Epic status is derived from the statuses of its stories.
type EpicStatus string

const (
	// EpicStatusPending indicates no story in the epic has started.
	EpicStatusPending EpicStatus = "pending"
	// EpicStatusInProgress indicates at least one story has started.
	EpicStatusInProgress EpicStatus = "in_progress"
	// EpicStatusDone indicates every story reached a terminal status.
	EpicStatusDone EpicStatus = "done"
)

// Valid returns true if the status is a known value.
func (s EpicStatus) Valid() bool {
	switch s {
	case EpicStatusPending, EpicStatusInProgress, EpicStatusDone:
		return true
	default:
		return false
	}
}

// Epic represents a themed group of related stories.
type Epic struct {
	// ID is the unique identifier for this epic.
	ID string `json:"id"`
	// Title is the short description of the epic.
	Title string `json:"title"`
	// Description provides detailed information about the epic.
	Description string `json:"description,omitempty"`
	// Priority orders the epic relative to its siblings.
	Priority Priority `json:"priority"`
	// Status is derived from the stories; see DeriveEpicStatus.
	Status EpicStatus `json:"status"`
	// Stories lists the IDs of stories belonging to this epic, in creation order.
	Stories []string `json:"stories"`
	// CreatedAt is when the epic was created.
	CreatedAt time.Time `json:"created_at"`
}

// DeriveEpicStatus computes an epic's status from its stories.
func DeriveEpicStatus(stories []*Story) EpicStatus {
	if len(stories) == 0 {
		return EpicStatusPending
	}
	allTerminal := true
	anyStarted := false
	for _, s := range stories {
		if !s.Status.Terminal() {
			allTerminal = false
		}
		if s.Status != StoryStatusBacklog && s.Status != StoryStatusPending {
			anyStarted = true
		}
	}
	switch {
	case allTerminal:
		return EpicStatusDone
	case anyStarted:
		return EpicStatusInProgress
	default:
		return EpicStatusPending
	}
}
