package models

import "time"

// StoryStatus represents the current state of a story.
type StoryStatus string

const (
	// StoryStatusBacklog indicates the story has been created but not groomed for dispatch.
	StoryStatusBacklog StoryStatus = "backlog"
	// StoryStatusPending indicates the story is ready and waiting for a free agent slot.
	StoryStatusPending StoryStatus = "pending"
	// StoryStatusInProgress indicates a coder agent is working on the story.
	StoryStatusInProgress StoryStatus = "in_progress"
	// StoryStatusTesting indicates a tester agent is verifying the story.
	StoryStatusTesting StoryStatus = "testing"
	// StoryStatusCompleted indicates the story finished successfully.
	StoryStatusCompleted StoryStatus = "completed"
	// StoryStatusFailed indicates the story failed after exhausting retries.
	StoryStatusFailed StoryStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s StoryStatus) Valid() bool {
	switch s {
	case StoryStatusBacklog, StoryStatusPending, StoryStatusInProgress,
		StoryStatusTesting, StoryStatusCompleted, StoryStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
func (s StoryStatus) Terminal() bool {
	return s == StoryStatusCompleted || s == StoryStatusFailed
}

// Active returns true if an agent currently holds the story.
func (s StoryStatus) Active() bool {
	return s == StoryStatusInProgress || s == StoryStatusTesting
}

// Priority orders stories for dispatch.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns a sortable rank where lower is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	return p.Rank() < 4
}

// Story represents a unit of dispatchable work within an epic.
type Story struct {
	// ID is the unique identifier for this story.
	ID string `json:"id"`
	// EpicID is the ID of the epic this story belongs to.
	EpicID string `json:"epic_id"`
	// Title is the short description of the story.
	Title string `json:"title"`
	// Description provides detailed information about the story.
	Description string `json:"description,omitempty"`
	// AcceptanceCriteria defines the criteria for completion.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	// StoryPoints is the estimated effort.
	StoryPoints int `json:"story_points,omitempty"`
	// Priority orders the story relative to its siblings.
	Priority Priority `json:"priority"`
	// Status is the current state of the story.
	Status StoryStatus `json:"status"`
	// AssignedTo is the instance ID of the agent holding the story, if any.
	AssignedTo string `json:"assigned_to,omitempty"`
	// DependsOn lists story IDs that must complete before this story.
	DependsOn []string `json:"depends_on,omitempty"`
	// Foundation marks the story that must complete before parallel fan-out.
	Foundation bool `json:"foundation,omitempty"`
	// Batch is the batch index the story belongs to in batch mode (-1 when unbatched).
	Batch int `json:"batch,omitempty"`
	// Coded marks a story whose implementation finished and which is
	// waiting for (or undergoing) testing.
	Coded bool `json:"coded,omitempty"`
	// Files lists paths the story touched.
	Files []string `json:"files,omitempty"`
	// Result is the agent's completion summary.
	Result string `json:"result,omitempty"`
	// Error contains the failure message if the story failed.
	Error string `json:"error,omitempty"`
	// RetryCount is the number of times this story has been retried.
	RetryCount int `json:"retry_count,omitempty"`
	// CreatedAt is when the story was created. Dispatch ties break FIFO on this.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the story reached a terminal status, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Dispatchable returns true if the story's own status allows it to be
// picked up by an agent. Dependency checks are the backlog's concern.
func (s *Story) Dispatchable() bool {
	return (s.Status == StoryStatusBacklog || s.Status == StoryStatusPending) && s.AssignedTo == ""
}
