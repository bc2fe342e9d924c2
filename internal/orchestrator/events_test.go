package orchestrator

import (
	"testing"

	"github.com/mbranton/hive/internal/agent"
	"github.com/mbranton/hive/internal/bus"
)

func TestHandleAgentMessageTranslatesActions(t *testing.T) {
	s := newTestSession(t, SessionConfig{})
	defer s.Close()
	sub := s.Bus.Subscribe(64)

	s.handleAgentMessage("coder-1", "s1", agent.Message{
		Type:      agent.MessageAction,
		Tool:      "write_file",
		ToolInput: []byte(`{"path":"cmd/main.go"}`),
	})
	s.handleAgentMessage("coder-1", "s1", agent.Message{
		Type:      agent.MessageAction,
		Tool:      "Bash",
		ToolInput: []byte(`{"command":"go test ./..."}`),
	})
	s.handleAgentMessage("coder-1", "s1", agent.Message{Type: agent.MessageText, Text: "working on it"})

	events := drainEvents(sub)
	var kinds []bus.Kind
	for _, e := range events {
		kinds = append(kinds, e.Kind())
	}
	want := []bus.Kind{
		bus.KindToolUse, bus.KindFileChanged,
		bus.KindToolUse, bus.KindCommandStart,
		bus.KindAgentText,
	}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}

	fc := events[1].(bus.FileChanged)
	if fc.Path != "cmd/main.go" || fc.Action != bus.FileWrite {
		t.Errorf("file change = %+v", fc)
	}
	cs := events[3].(bus.CommandStart)
	if cs.Command != "go test ./..." {
		t.Errorf("command = %q", cs.Command)
	}
	if len(s.transcript) != 1 || s.transcript[0].Text != "working on it" {
		t.Errorf("transcript = %+v, want the narration entry", s.transcript)
	}
}

func TestCanonicalTool(t *testing.T) {
	cases := map[string]string{
		"Write":       "write",
		"write_file":  "write",
		"Edit":        "edit",
		"str_replace": "edit",
		"Bash":        "command",
		"run_command": "command",
		"delete_file": "delete",
		"Read":        "",
	}
	for name, want := range cases {
		if got := canonicalTool(name); got != want {
			t.Errorf("canonicalTool(%q) = %q, want %q", name, got, want)
		}
	}
}
