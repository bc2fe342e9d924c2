package agent

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// wireMessage is the raw line format emitted by agent services. The agent
// boundary is lenient by contract: arbitrary interleavings and partial JSON
// must not crash the core.
type wireMessage struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	Success   *bool           `json:"success,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Error     string          `json:"error,omitempty"`
	Tests     *TestResult     `json:"tests,omitempty"`
}

// DecodeLine parses one stream line into a normalized Message. Lines that
// are not valid JSON, or whose type is unrecognized, are surfaced as
// low-priority text messages rather than dropped.
func DecodeLine(line []byte) Message {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return Message{Type: MessageText}
	}

	var w wireMessage
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return Message{Type: MessageText, Text: trimmed, Raw: json.RawMessage(trimmed)}
	}

	raw := json.RawMessage(trimmed)
	switch w.Type {
	case "thinking":
		text := w.Thinking
		if text == "" {
			text = w.Text
		}
		return Message{Type: MessageThinking, Text: text, Raw: raw}
	case "text", "assistant":
		return Message{Type: MessageText, Text: w.Text, Raw: raw}
	case "tool_use", "action":
		return Message{Type: MessageAction, Tool: w.Tool, ToolInput: w.ToolInput, Raw: raw}
	case "tool_result":
		// Tool results are informational; surface as text.
		return Message{Type: MessageText, Text: w.Text, Raw: raw}
	case "test_results":
		if w.Tests == nil {
			return Message{Type: MessageText, Text: trimmed, Raw: raw}
		}
		return Message{Type: MessageTestResult, TestResult: w.Tests, Raw: raw}
	case "complete", "result":
		success := w.Success != nil && *w.Success
		return Message{Type: MessageComplete, Success: success, Summary: w.Summary, Raw: raw}
	case "error":
		return Message{Type: MessageError, Error: w.Error, Raw: raw}
	default:
		return Message{Type: MessageText, Text: trimmed, Raw: raw}
	}
}

// ParseStream reads newline-delimited JSON from r and emits normalized
// messages until EOF. Blank lines are skipped; everything else produces
// exactly one message.
func ParseStream(r io.Reader) <-chan Message {
	out := make(chan Message)

	go func() {
		defer close(out)

		scanner := bufio.NewScanner(r)
		// Agent tool inputs can be large; allow long lines.
		const maxScanTokenSize = 1024 * 1024
		buf := make([]byte, maxScanTokenSize)
		scanner.Buffer(buf, maxScanTokenSize)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			out <- DecodeLine([]byte(line))
		}
	}()

	return out
}
