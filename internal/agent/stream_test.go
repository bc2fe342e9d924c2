package agent

import (
	"strings"
	"testing"
)

func TestDecodeLineRecognizedTypes(t *testing.T) {
	tests := []struct {
		name string
		line string
		want MessageType
	}{
		{"thinking", `{"type":"thinking","thinking":"planning"}`, MessageThinking},
		{"text", `{"type":"text","text":"hello"}`, MessageText},
		{"assistant alias", `{"type":"assistant","text":"hi"}`, MessageText},
		{"tool_use", `{"type":"tool_use","tool":"write_file","tool_input":{"path":"a.go"}}`, MessageAction},
		{"action alias", `{"type":"action","tool":"run"}`, MessageAction},
		{"test_results", `{"type":"test_results","tests":{"total":5,"passed":5,"failed":0}}`, MessageTestResult},
		{"complete", `{"type":"complete","success":true,"summary":"done"}`, MessageComplete},
		{"result alias", `{"type":"result","success":false}`, MessageComplete},
		{"error", `{"type":"error","error":"boom"}`, MessageError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeLine([]byte(tt.line))
			if got.Type != tt.want {
				t.Errorf("DecodeLine(%s) type = %s, want %s", tt.line, got.Type, tt.want)
			}
		})
	}
}

func TestDecodeLineMalformedFallsBackToText(t *testing.T) {
	got := DecodeLine([]byte("not json at all"))
	if got.Type != MessageText {
		t.Errorf("expected text fallback, got %s", got.Type)
	}
	if got.Text != "not json at all" {
		t.Errorf("expected original line preserved, got %q", got.Text)
	}
}

func TestDecodeLineUnknownTypeFallsBackToText(t *testing.T) {
	got := DecodeLine([]byte(`{"type":"telemetry","payload":42}`))
	if got.Type != MessageText {
		t.Errorf("expected text fallback for unknown type, got %s", got.Type)
	}
}

func TestDecodeLineCompleteSuccessFlag(t *testing.T) {
	got := DecodeLine([]byte(`{"type":"complete","success":true,"summary":"all green"}`))
	if !got.Success || got.Summary != "all green" {
		t.Errorf("expected success with summary, got %+v", got)
	}
	got = DecodeLine([]byte(`{"type":"complete","summary":"no flag"}`))
	if got.Success {
		t.Error("missing success flag must decode as failure")
	}
}

func TestParseStreamEmitsOneMessagePerLine(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"thinking","thinking":"start"}`,
		``,
		`garbage line`,
		`{"type":"tool_use","tool":"write_file"}`,
		`{"type":"complete","success":true,"summary":"ok"}`,
	}, "\n")

	var msgs []Message
	for msg := range ParseStream(strings.NewReader(input)) {
		msgs = append(msgs, msg)
	}

	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages (blank skipped), got %d", len(msgs))
	}
	if msgs[1].Type != MessageText {
		t.Errorf("garbage line should surface as text, got %s", msgs[1].Type)
	}
	last := msgs[len(msgs)-1]
	if !last.Terminal() || !last.Success {
		t.Errorf("expected terminal success, got %+v", last)
	}
}
