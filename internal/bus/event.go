// Package bus provides the typed event stream for build sessions.
// Events form a closed union: every lifecycle occurrence the orchestrator
// reports is one of the concrete types below, so subscribers can switch
// exhaustively instead of matching on string names.
package bus

import (
	"time"

	"github.com/mbranton/hive/pkg/models"
)

// Kind identifies the variant of an Event.
type Kind string

const (
	KindTaskCreated        Kind = "task:created"
	KindTaskUpdated        Kind = "task:updated"
	KindStoryStarted       Kind = "story:started"
	KindStoryTesting       Kind = "story:testing"
	KindStoryCompleted     Kind = "story:completed"
	KindStoryFailed        Kind = "story:failed"
	KindEpicCreated        Kind = "epic:created"
	KindAgentStatus        Kind = "agent:status"
	KindFileChanged        Kind = "file:changed"
	KindCommandStart       Kind = "command:start"
	KindCommandComplete    Kind = "command:complete"
	KindToolUse            Kind = "tool:use"
	KindTestResults        Kind = "test:results"
	KindSecurityReport     Kind = "security:report"
	KindFoundationComplete Kind = "foundation:complete"
	KindAgentText          Kind = "agent:text"
	KindSessionComplete    Kind = "session:complete"
	KindSessionError       Kind = "session:error"
)

// Event is one immutable lifecycle occurrence. Implementations are the only
// event variants; the unexported method keeps the union closed.
type Event interface {
	Kind() Kind
	OccurredAt() time.Time
	sealed()
}

// Stamp carries the emission timestamp shared by all variants.
type Stamp struct {
	Timestamp time.Time `json:"timestamp"`
}

// OccurredAt returns the emission time.
func (s Stamp) OccurredAt() time.Time { return s.Timestamp }

func (Stamp) sealed() {}

// Now returns a Stamp for the current time.
func Now() Stamp { return Stamp{Timestamp: time.Now()} }

// TaskCreated announces a new story in the backlog.
type TaskCreated struct {
	Stamp
	ID     string             `json:"id"`
	Title  string             `json:"title"`
	Status models.StoryStatus `json:"status"`
}

func (TaskCreated) Kind() Kind { return KindTaskCreated }

// TaskUpdated announces a story status change.
type TaskUpdated struct {
	Stamp
	ID     string             `json:"id"`
	Title  string             `json:"title"`
	Status models.StoryStatus `json:"status"`
}

func (TaskUpdated) Kind() Kind { return KindTaskUpdated }

// StoryStarted announces that an agent picked up a story.
type StoryStarted struct {
	Stamp
	StoryID    string `json:"story_id"`
	StoryTitle string `json:"story_title"`
	AgentID    string `json:"agent_id"`
}

func (StoryStarted) Kind() Kind { return KindStoryStarted }

// StoryTesting announces that a tester picked up a story.
type StoryTesting struct {
	Stamp
	StoryID    string `json:"story_id"`
	StoryTitle string `json:"story_title"`
	AgentID    string `json:"agent_id"`
}

func (StoryTesting) Kind() Kind { return KindStoryTesting }

// StoryCompleted announces a story reaching its success terminal state.
type StoryCompleted struct {
	Stamp
	StoryID    string `json:"story_id"`
	StoryTitle string `json:"story_title"`
	Success    bool   `json:"success"`
}

func (StoryCompleted) Kind() Kind { return KindStoryCompleted }

// StoryFailed announces a story permanently failing.
type StoryFailed struct {
	Stamp
	StoryID    string `json:"story_id"`
	StoryTitle string `json:"story_title"`
	Error      string `json:"error"`
}

func (StoryFailed) Kind() Kind { return KindStoryFailed }

// EpicCreated announces a new epic.
type EpicCreated struct {
	Stamp
	EpicID string `json:"epic_id"`
	Title  string `json:"title"`
}

func (EpicCreated) Kind() Kind { return KindEpicCreated }

// AgentStatus announces an agent slot transition.
type AgentStatus struct {
	Stamp
	Role       models.Role              `json:"role"`
	InstanceID string                   `json:"instance_id"`
	Status     models.AgentHandleStatus `json:"status"`
}

func (AgentStatus) Kind() Kind { return KindAgentStatus }

// FileAction describes what happened to a file.
type FileAction string

const (
	FileWrite  FileAction = "write"
	FileEdit   FileAction = "edit"
	FileDelete FileAction = "delete"
)

// FileChanged announces a file mutation reported by an agent tool call.
type FileChanged struct {
	Stamp
	Path    string     `json:"path"`
	Action  FileAction `json:"action"`
	Content string     `json:"content,omitempty"`
}

func (FileChanged) Kind() Kind { return KindFileChanged }

// CommandStart announces an agent shell command starting.
type CommandStart struct {
	Stamp
	Command string `json:"command"`
}

func (CommandStart) Kind() Kind { return KindCommandStart }

// CommandComplete announces an agent shell command finishing.
type CommandComplete struct {
	Stamp
	ExitCode int `json:"exit_code"`
}

func (CommandComplete) Kind() Kind { return KindCommandComplete }

// ToolUse announces an agent tool invocation.
type ToolUse struct {
	Stamp
	StoryID string `json:"story_id,omitempty"`
	Tool    string `json:"tool"`
	Input   string `json:"input,omitempty"`
}

func (ToolUse) Kind() Kind { return KindToolUse }

// TestResults carries aggregated test outcomes for one story.
type TestResults struct {
	Stamp
	StoryID     string  `json:"task_id"`
	TotalTests  int     `json:"total_tests"`
	PassedTests int     `json:"passed_tests"`
	FailedTests int     `json:"failed_tests"`
	Coverage    float64 `json:"coverage,omitempty"`
}

func (TestResults) Kind() Kind { return KindTestResults }

// SecurityReport carries a security audit result.
type SecurityReport struct {
	Stamp
	Score     int            `json:"score"`
	Findings  int            `json:"findings"`
	Breakdown map[string]int `json:"breakdown,omitempty"`
}

func (SecurityReport) Kind() Kind { return KindSecurityReport }

// FoundationComplete announces that the foundation story finished and
// parallel fan-out may begin. Emitted at most once per session.
type FoundationComplete struct {
	Stamp
}

func (FoundationComplete) Kind() Kind { return KindFoundationComplete }

// AgentText carries free-form agent output, including unparseable stream
// lines surfaced as low-priority text rather than silently dropped.
type AgentText struct {
	Stamp
	AgentID string `json:"agent_id,omitempty"`
	StoryID string `json:"story_id,omitempty"`
	Text    string `json:"text"`
}

func (AgentText) Kind() Kind { return KindAgentText }

// SessionComplete is the terminal summary of a session.
type SessionComplete struct {
	Stamp
	ProjectID string              `json:"project_id"`
	Summary   models.BuildSummary `json:"summary"`
}

func (SessionComplete) Kind() Kind { return KindSessionComplete }

// SessionError reports a fatal session-level failure.
type SessionError struct {
	Stamp
	ProjectID string `json:"project_id"`
	Error     string `json:"error"`
}

func (SessionError) Kind() Kind { return KindSessionError }
