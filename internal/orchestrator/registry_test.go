package orchestrator

import (
	"testing"

	"github.com/mbranton/hive/internal/state"
	"github.com/mbranton/hive/pkg/models"
)

func TestRegistrySupersedesExistingSession(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()

	first, err := r.CreateSession("proj", dir, SessionConfig{}, false, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := r.CreateSession("proj", dir, SessionConfig{}, false, 2)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	defer r.Dispose("proj")

	if first.ID == second.ID {
		t.Fatal("superseding session reused the old ID")
	}
	if got := r.Lookup("proj"); got != second {
		t.Fatal("lookup did not return the superseding session")
	}
}

func TestRegistryResumeRestoresBacklog(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()

	sess, err := r.CreateSession("proj", dir, SessionConfig{}, false, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	seedBacklog(t, sess.Backlog,
		&models.Story{ID: "s1", Title: "scaffold"},
		&models.Story{ID: "s2", Title: "api", DependsOn: []string{"s1"}},
	)
	if err := sess.Backlog.UpdateStoryStatus("s1", models.StoryStatusInProgress, ""); err != nil {
		t.Fatalf("start s1: %v", err)
	}

	// Persist synchronously: the checkpointer is asynchronous, so the test
	// writes the snapshot itself before the process "dies".
	snap := sess.snapshot()
	if err := sess.files.SaveBacklog(&state.BacklogDoc{Epics: snap.Epics, Stories: snap.Stories}); err != nil {
		t.Fatalf("save backlog: %v", err)
	}
	if err := sess.files.SaveSnapshot(snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	resumed, err := r.CreateSession("proj", dir, SessionConfig{}, true, 2)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	defer r.Dispose("proj")

	if got := resumed.Backlog.Total(); got != 2 {
		t.Fatalf("restored stories = %d, want 2", got)
	}
	// Mid-flight work re-dispatches rather than staying orphaned.
	if got := resumed.Backlog.Story("s1").Status; got != models.StoryStatusPending {
		t.Errorf("s1 status = %q, want pending", got)
	}
	if got := resumed.Backlog.Story("s2").DependsOn[0]; got != "s1" {
		t.Errorf("s2 dependency = %q, want s1", got)
	}
	if got := resumed.Backlog.FoundationID(); got != "s1" {
		t.Errorf("foundation = %q, want s1", got)
	}
}

func TestRegistryLookupUnknownProject(t *testing.T) {
	r := NewRegistry()
	if got := r.Lookup("nope"); got != nil {
		t.Fatalf("lookup = %v, want nil", got)
	}
	// Disposing an unknown project is a no-op.
	r.Dispose("nope")
}
