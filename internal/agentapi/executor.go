package agentapi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const maxToolOutput = 30000

// executor runs workspace tools for one invocation. Control tools
// (report_done, report_tests) are handled by the loop, not here.
type executor struct {
	workDir string
}

// result is one tool call's outcome, fed back to the model.
type result struct {
	content string
	isError bool
}

func errResult(format string, args ...interface{}) result {
	return result{content: fmt.Sprintf(format, args...), isError: true}
}

func (e *executor) run(ctx context.Context, name string, input json.RawMessage) result {
	switch name {
	case toolReadFile:
		return e.readFile(input)
	case toolWriteFile:
		return e.writeFile(input)
	case toolEditFile:
		return e.editFile(input)
	case toolRunCommand:
		return e.runCommand(ctx, input)
	case toolListDir:
		return e.listDir(input)
	default:
		return errResult("unknown tool: %s", name)
	}
}

func (e *executor) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workDir, path)
}

func (e *executor) readFile(input json.RawMessage) result {
	var p struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return errResult("invalid parameters: %v", err)
	}

	content, err := os.ReadFile(e.resolve(p.Path))
	if err != nil {
		return errResult("read %s: %v", p.Path, err)
	}

	var b strings.Builder
	for i, line := range strings.Split(string(content), "\n") {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, line)
	}
	return result{content: truncate(b.String())}
}

func (e *executor) writeFile(input json.RawMessage) result {
	var p struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return errResult("invalid parameters: %v", err)
	}

	path := e.resolve(p.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errResult("create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(p.Content), 0644); err != nil {
		return errResult("write %s: %v", p.Path, err)
	}
	return result{content: fmt.Sprintf("wrote %d bytes to %s", len(p.Content), p.Path)}
}

func (e *executor) editFile(input json.RawMessage) result {
	var p struct {
		Path string `json:"path"`
		Old  string `json:"old"`
		New  string `json:"new"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return errResult("invalid parameters: %v", err)
	}

	path := e.resolve(p.Path)
	content, err := os.ReadFile(path)
	if err != nil {
		return errResult("read %s: %v", p.Path, err)
	}

	text := string(content)
	switch n := strings.Count(text, p.Old); {
	case n == 0:
		return errResult("old text not found in %s", p.Path)
	case n > 1:
		return errResult("old text occurs %d times in %s, must be unique", n, p.Path)
	}

	if err := os.WriteFile(path, []byte(strings.Replace(text, p.Old, p.New, 1)), 0644); err != nil {
		return errResult("write %s: %v", p.Path, err)
	}
	return result{content: "edit applied"}
}

func (e *executor) runCommand(ctx context.Context, input json.RawMessage) result {
	var p struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return errResult("invalid parameters: %v", err)
	}

	timeout := 120 * time.Second
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", p.Command)
	cmd.Dir = e.workDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errResult("command timed out after %v:\n%s", timeout, output)
		}
		return errResult("%s\nerror: %v", output, err)
	}
	return result{content: truncate(string(output))}
}

func (e *executor) listDir(input json.RawMessage) result {
	var p struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &p); err != nil {
		return errResult("invalid parameters: %v", err)
	}

	entries, err := os.ReadDir(e.resolve(p.Path))
	if err != nil {
		return errResult("list %s: %v", p.Path, err)
	}

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "%s/\n", entry.Name())
		} else {
			fmt.Fprintf(&b, "%s\n", entry.Name())
		}
	}
	return result{content: b.String()}
}

func truncate(s string) string {
	if len(s) > maxToolOutput {
		return s[:maxToolOutput] + "\n... (output truncated)"
	}
	return s
}
