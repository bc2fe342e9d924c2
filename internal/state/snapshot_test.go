package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mbranton/hive/pkg/models"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		SessionID:   "sess-1",
		ProjectID:   "proj-1",
		BuildNumber: 2,
		Epics: []*models.Epic{
			{ID: "e-1", Title: "Auth", Priority: models.PriorityHigh, Stories: []string{"s-1"}},
		},
		Stories: []*models.Story{
			{ID: "s-1", EpicID: "e-1", Title: "Login", Status: models.StoryStatusCompleted, CreatedAt: time.Now()},
			{ID: "s-2", EpicID: "e-1", Title: "Logout", Status: models.StoryStatusPending, CreatedAt: time.Now()},
		},
		Metrics: models.SessionMetrics{
			Build: models.BuildMetrics{ToolCalls: 7, FilesCreated: 3},
		},
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir())

	snap := sampleSnapshot()
	if err := store.SaveSnapshot(snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	loaded, err := store.LoadFullState()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected state, got nil")
	}
	if loaded.SessionID != "sess-1" || loaded.BuildNumber != 2 {
		t.Errorf("session identity lost: %+v", loaded)
	}
	if len(loaded.Stories) != 2 || loaded.Stories[0].Status != models.StoryStatusCompleted {
		t.Errorf("stories not restored: %+v", loaded.Stories)
	}
	if loaded.Metrics.Build.ToolCalls != 7 {
		t.Errorf("metrics not restored: %+v", loaded.Metrics)
	}
}

func TestLoadFullStateEmptyDirReturnsNil(t *testing.T) {
	store := NewFileStore(t.TempDir())
	loaded, err := store.LoadFullState()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for fresh project, got %+v", loaded)
	}
}

func TestSaveSnapshotIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	snap := sampleSnapshot()

	if err := store.SaveSnapshot(snap); err != nil {
		t.Fatalf("first save: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(store.Root(), "stories", "s-1.json"))
	if err != nil {
		t.Fatalf("read story file: %v", err)
	}

	if err := store.SaveSnapshot(snap); err != nil {
		t.Fatalf("second save: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(store.Root(), "stories", "s-1.json"))
	if err != nil {
		t.Fatalf("read story file: %v", err)
	}

	if string(first) != string(second) {
		t.Error("replaying the same snapshot changed on-disk state")
	}
}

func TestAuthoritativeBacklogWinsOverSnapshot(t *testing.T) {
	store := NewFileStore(t.TempDir())

	if err := store.SaveSnapshot(sampleSnapshot()); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	// The backlog document disagrees: one story, different status.
	doc := &BacklogDoc{
		Epics: []*models.Epic{{ID: "e-1", Title: "Auth"}},
		Stories: []*models.Story{
			{ID: "s-1", EpicID: "e-1", Title: "Login", Status: models.StoryStatusFailed},
		},
	}
	if err := store.SaveBacklog(doc); err != nil {
		t.Fatalf("save backlog: %v", err)
	}

	loaded, err := store.LoadFullState()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Stories) != 1 {
		t.Fatalf("expected backlog's task list to replace the snapshot's, got %d stories", len(loaded.Stories))
	}
	if loaded.Stories[0].Status != models.StoryStatusFailed {
		t.Errorf("expected backlog status to win, got %s", loaded.Stories[0].Status)
	}
	// Identity and metrics still come from the session snapshot.
	if loaded.SessionID != "sess-1" || loaded.Metrics.Build.ToolCalls != 7 {
		t.Errorf("session metadata lost during reconciliation: %+v", loaded)
	}
}

func TestBacklogOnlyResume(t *testing.T) {
	store := NewFileStore(t.TempDir())

	doc := &BacklogDoc{
		Epics:   []*models.Epic{{ID: "e-1"}},
		Stories: []*models.Story{{ID: "s-1", EpicID: "e-1", Status: models.StoryStatusPending}},
	}
	if err := store.SaveBacklog(doc); err != nil {
		t.Fatalf("save backlog: %v", err)
	}

	loaded, err := store.LoadFullState()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || len(loaded.Stories) != 1 {
		t.Fatalf("expected backlog-only state, got %+v", loaded)
	}
}

func TestCheckpointerWritesSubmittedSnapshot(t *testing.T) {
	store := NewFileStore(t.TempDir())
	cp := NewCheckpointer(store)

	cp.Submit(sampleSnapshot())
	cp.Close()

	loaded, err := store.LoadFullState()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || loaded.SessionID != "sess-1" {
		t.Errorf("expected snapshot persisted before Close returned, got %+v", loaded)
	}
}

func TestCheckpointerCoalescesToLatest(t *testing.T) {
	store := NewFileStore(t.TempDir())
	cp := NewCheckpointer(store)

	for i := 1; i <= 5; i++ {
		snap := sampleSnapshot()
		snap.BuildNumber = i
		cp.Submit(snap)
	}
	cp.Close()

	loaded, err := store.LoadFullState()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.BuildNumber != 5 {
		t.Errorf("expected latest snapshot to win, got build %d", loaded.BuildNumber)
	}
}
