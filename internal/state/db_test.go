package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mbranton/hive/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Errorf("second migrate: %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)

	rec := &SessionRecord{
		ID:          "sess-1",
		ProjectID:   "proj-1",
		ProjectDir:  "/tmp/proj",
		BuildNumber: 1,
		Status:      SessionActive,
		StartedAt:   time.Now(),
	}
	if err := db.CreateSession(rec); err != nil {
		t.Fatalf("create session: %v", err)
	}

	active, err := db.ActiveSession("proj-1")
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if active == nil || active.ID != "sess-1" {
		t.Fatalf("expected sess-1 active, got %+v", active)
	}
	if active.CompletedAt != nil {
		t.Error("active session should have no completion time")
	}

	if err := db.UpdateSessionStatus("sess-1", SessionCompleted); err != nil {
		t.Fatalf("update status: %v", err)
	}
	active, err = db.ActiveSession("proj-1")
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if active != nil {
		t.Errorf("expected no active session after completion, got %+v", active)
	}

	got, err := db.GetSession("sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != SessionCompleted || got.CompletedAt == nil {
		t.Errorf("expected completed session with timestamp, got %+v", got)
	}
}

func TestNextBuildNumber(t *testing.T) {
	db := openTestDB(t)

	n, err := db.NextBuildNumber("proj-1")
	if err != nil {
		t.Fatalf("next build number: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 for fresh project, got %d", n)
	}

	db.CreateSession(&SessionRecord{
		ID: "sess-1", ProjectID: "proj-1", ProjectDir: "/tmp",
		BuildNumber: 3, Status: SessionCompleted, StartedAt: time.Now(),
	})

	n, err = db.NextBuildNumber("proj-1")
	if err != nil {
		t.Fatalf("next build number: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4, got %d", n)
	}
}

func TestAgentUpsertReplacesRow(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	rec := &AgentRecord{
		InstanceID: "coder-1",
		SessionID:  "sess-1",
		Role:       models.RoleCoder,
		Status:     models.AgentWorking,
		StoryID:    "s-1",
		StartedAt:  &now,
	}
	if err := db.UpsertAgent(rec); err != nil {
		t.Fatalf("upsert agent: %v", err)
	}

	rec.Status = models.AgentIdle
	rec.StoryID = ""
	if err := db.UpsertAgent(rec); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	agents, err := db.ListAgents("sess-1")
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent row, got %d", len(agents))
	}
	if agents[0].Status != models.AgentIdle || agents[0].StoryID != "" {
		t.Errorf("expected replaced row, got %+v", agents[0])
	}
}

func TestMetricsRoundTrip(t *testing.T) {
	db := openTestDB(t)

	m := models.SessionMetrics{
		Build:   models.BuildMetrics{ToolCalls: 12, CommandsRun: 4},
		Testing: models.TestingMetrics{TotalTests: 10, PassedTests: 9, FailedTests: 1},
	}
	if err := db.SaveMetrics("sess-1", m); err != nil {
		t.Fatalf("save metrics: %v", err)
	}

	got, err := db.GetMetrics("sess-1")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	if got.Build.ToolCalls != 12 || got.Testing.PassedTests != 9 {
		t.Errorf("metrics mismatch: %+v", got)
	}

	// Upsert replaces.
	m.Build.ToolCalls = 20
	if err := db.SaveMetrics("sess-1", m); err != nil {
		t.Fatalf("second save: %v", err)
	}
	got, _ = db.GetMetrics("sess-1")
	if got.Build.ToolCalls != 20 {
		t.Errorf("expected replaced metrics, got %+v", got)
	}
}

func TestGetMetricsMissingReturnsZero(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetMetrics("ghost")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	if got.Build.ToolCalls != 0 {
		t.Errorf("expected zero metrics, got %+v", got)
	}
}
