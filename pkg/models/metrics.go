package models

// BuildMetrics accumulates counters describing build activity.
// All fields are monotonically increasing and derived solely from events.
type BuildMetrics struct {
	ToolCalls     int `json:"tool_calls"`
	FilesCreated  int `json:"files_created"`
	FilesModified int `json:"files_modified"`
	FilesDeleted  int `json:"files_deleted"`
	CommandsRun   int `json:"commands_run"`
}

// TestingMetrics accumulates test totals across stories.
// Results are deduplicated per story: a re-run replaces the story's
// previous contribution rather than double counting.
type TestingMetrics struct {
	TotalTests  int     `json:"total_tests"`
	PassedTests int     `json:"passed_tests"`
	FailedTests int     `json:"failed_tests"`
	Coverage    float64 `json:"coverage,omitempty"`
}

// SecurityMetrics records the latest security audit outcome.
type SecurityMetrics struct {
	Score     int            `json:"score"`
	Findings  int            `json:"findings"`
	Breakdown map[string]int `json:"breakdown,omitempty"`
}

// SessionMetrics groups all per-session counters.
type SessionMetrics struct {
	Build    BuildMetrics   `json:"build"`
	Testing  TestingMetrics `json:"testing"`
	Security SecurityMetrics `json:"security"`
}

// BuildSummary is the terminal accounting of a session reported with the
// session's final event.
type BuildSummary struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}
