package agentapi

import (
	"github.com/anthropics/anthropic-sdk-go"
)

// Tool names understood by the executor. report_done and report_tests are
// control tools: they carry the agent's structured verdict instead of
// touching the workspace.
const (
	toolReadFile    = "read_file"
	toolWriteFile   = "write_file"
	toolEditFile    = "edit_file"
	toolRunCommand  = "run_command"
	toolListDir     = "list_dir"
	toolReportTests = "report_tests"
	toolReportDone  = "report_done"
)

// toolDefinitions returns the tool schemas offered to API-backed agents.
func toolDefinitions() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		{
			OfTool: &anthropic.ToolParam{
				Name:        toolReadFile,
				Description: anthropic.String("Read a file from the project. Returns the contents with line numbers."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "Path to the file, relative to the project root",
						},
					},
					Required: []string{"path"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        toolWriteFile,
				Description: anthropic.String("Create or overwrite a file. Parent directories are created as needed."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "Path to the file, relative to the project root",
						},
						"content": map[string]interface{}{
							"type":        "string",
							"description": "Full file contents",
						},
					},
					Required: []string{"path", "content"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        toolEditFile,
				Description: anthropic.String("Replace text in a file. The old text must occur exactly once."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "Path to the file, relative to the project root",
						},
						"old": map[string]interface{}{
							"type":        "string",
							"description": "Exact text to replace",
						},
						"new": map[string]interface{}{
							"type":        "string",
							"description": "Replacement text",
						},
					},
					Required: []string{"path", "old", "new"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        toolRunCommand,
				Description: anthropic.String("Run a shell command in the project directory and return its output."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"command": map[string]interface{}{
							"type":        "string",
							"description": "The command to run",
						},
						"timeout_seconds": map[string]interface{}{
							"type":        "integer",
							"description": "Optional timeout, default 120",
						},
					},
					Required: []string{"command"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        toolListDir,
				Description: anthropic.String("List the entries of a directory."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "Directory path, relative to the project root",
						},
					},
					Required: []string{"path"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        toolReportTests,
				Description: anthropic.String("Report structured results after running the test suite."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"total":  map[string]interface{}{"type": "integer"},
						"passed": map[string]interface{}{"type": "integer"},
						"failed": map[string]interface{}{"type": "integer"},
						"coverage": map[string]interface{}{
							"type":        "number",
							"description": "Coverage percentage, if measured",
						},
					},
					Required: []string{"total", "passed", "failed"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        toolReportDone,
				Description: anthropic.String("Report that the task is finished. Call exactly once, at the end."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"success": map[string]interface{}{
							"type":        "boolean",
							"description": "Whether the task was completed successfully",
						},
						"summary": map[string]interface{}{
							"type":        "string",
							"description": "One-paragraph summary of what was done",
						},
					},
					Required: []string{"success", "summary"},
				},
			},
		},
	}
}
