package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/mbranton/hive/internal/agent"
	"github.com/mbranton/hive/internal/bus"
)

// emit publishes an event and folds it into the session metrics. Every
// lifecycle occurrence goes through here so the metrics and the bus never
// disagree on what happened.
func (s *Session) emit(e bus.Event) {
	s.Metrics.Apply(e)
	s.Bus.Publish(e)
}

// toolInput is the subset of tool arguments the orchestrator inspects.
// Agents pass richer payloads; only paths and commands matter here.
type toolInput struct {
	Path     string `json:"path,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	Command  string `json:"command,omitempty"`
}

// handleAgentMessage translates one normalized agent message into bus
// events. Terminal messages carry the run outcome and are settled by the
// run loop, not here.
func (s *Session) handleAgentMessage(instanceID, storyID string, msg agent.Message) {
	switch msg.Type {
	case agent.MessageThinking, agent.MessageText:
		s.appendTranscript(instanceID, storyID, msg.Text)
		s.emit(bus.AgentText{Stamp: bus.Now(), AgentID: instanceID, StoryID: storyID, Text: msg.Text})

	case agent.MessageAction:
		s.emitAction(storyID, msg)

	case agent.MessageTestResult:
		if msg.TestResult != nil {
			s.emit(bus.TestResults{
				Stamp:       bus.Now(),
				StoryID:     storyID,
				TotalTests:  msg.TestResult.Total,
				PassedTests: msg.TestResult.Passed,
				FailedTests: msg.TestResult.Failed,
				Coverage:    msg.TestResult.Coverage,
			})
		}
	}
}

func (s *Session) emitAction(storyID string, msg agent.Message) {
	var in toolInput
	if len(msg.ToolInput) > 0 {
		if err := json.Unmarshal(msg.ToolInput, &in); err != nil {
			debugLog("unparseable input for tool %s: %v", msg.Tool, err)
		}
	}
	path := in.Path
	if path == "" {
		path = in.FilePath
	}

	input := path
	if in.Command != "" {
		input = in.Command
	}
	s.emit(bus.ToolUse{Stamp: bus.Now(), StoryID: storyID, Tool: msg.Tool, Input: input})

	switch canonicalTool(msg.Tool) {
	case "write":
		s.emit(bus.FileChanged{Stamp: bus.Now(), Path: path, Action: bus.FileWrite})
	case "edit":
		s.emit(bus.FileChanged{Stamp: bus.Now(), Path: path, Action: bus.FileEdit})
	case "delete":
		s.emit(bus.FileChanged{Stamp: bus.Now(), Path: path, Action: bus.FileDelete})
	case "command":
		s.emit(bus.CommandStart{Stamp: bus.Now(), Command: in.Command})
	}
}

// canonicalTool maps the CLI agent's and the API agent's tool names onto one
// action vocabulary. Unrecognized tools still surface as ToolUse events.
func canonicalTool(name string) string {
	switch strings.ToLower(name) {
	case "write", "write_file", "create_file":
		return "write"
	case "edit", "edit_file", "multiedit", "str_replace":
		return "edit"
	case "delete_file", "remove_file":
		return "delete"
	case "bash", "shell", "run_command":
		return "command"
	default:
		return ""
	}
}
