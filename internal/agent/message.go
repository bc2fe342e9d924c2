package agent

import "encoding/json"

// MessageType classifies normalized agent output.
type MessageType string

const (
	// MessageThinking is internal reasoning the agent chose to surface.
	MessageThinking MessageType = "thinking"
	// MessageText is plain narration.
	MessageText MessageType = "text"
	// MessageAction is a tool invocation (file write, command run, ...).
	MessageAction MessageType = "action"
	// MessageTestResult carries structured test counts.
	MessageTestResult MessageType = "test_result"
	// MessageComplete is the agent's terminal self-report.
	MessageComplete MessageType = "complete"
	// MessageError is an agent-reported error.
	MessageError MessageType = "error"
)

// TestResult is the structured outcome of a test run reported by an agent.
type TestResult struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Coverage float64 `json:"coverage,omitempty"`
}

// Message is one normalized unit of agent output. Fields beyond Type are
// populated per type; Raw preserves the original line for debugging.
type Message struct {
	Type       MessageType
	Text       string
	Tool       string
	ToolInput  json.RawMessage
	TestResult *TestResult
	Success    bool
	Summary    string
	Error      string
	Raw        json.RawMessage
}

// Terminal reports whether this message ends the invocation.
func (m Message) Terminal() bool {
	return m.Type == MessageComplete || m.Type == MessageError
}
