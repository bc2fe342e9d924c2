package backlog

import (
	"testing"
	"time"

	"github.com/mbranton/hive/pkg/models"
)

func TestMarkCodedHandsStoryToTesters(t *testing.T) {
	b := New()
	seedEpic(t, b, "e-1")
	seedStory(t, b, "s-1", "e-1")

	b.Assign("s-1", "coder-1")
	b.UpdateStoryStatus("s-1", models.StoryStatusInProgress, "")

	if err := b.MarkCoded("s-1"); err != nil {
		t.Fatalf("mark coded: %v", err)
	}

	s := b.Story("s-1")
	if !s.Coded || s.Status != models.StoryStatusPending || s.AssignedTo != "" {
		t.Errorf("expected coded pending unassigned story, got %+v", s)
	}
}

func TestRequeueIncrementsRetryCount(t *testing.T) {
	b := New()
	seedEpic(t, b, "e-1")
	seedStory(t, b, "s-1", "e-1")
	b.Assign("s-1", "coder-1")

	n, err := b.Requeue("s-1")
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 1 {
		t.Errorf("expected retry count 1, got %d", n)
	}

	s := b.Story("s-1")
	if s.Status != models.StoryStatusPending || s.AssignedTo != "" {
		t.Errorf("expected pending unassigned story, got %+v", s)
	}

	if n, _ = b.Requeue("s-1"); n != 2 {
		t.Errorf("expected retry count 2, got %d", n)
	}
}

func TestMarkFailedStampsErrorAndCompletion(t *testing.T) {
	b := New()
	seedEpic(t, b, "e-1")
	seedStory(t, b, "s-1", "e-1")

	if err := b.MarkFailed("s-1", "retries exhausted"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	s := b.Story("s-1")
	if s.Status != models.StoryStatusFailed || s.Error != "retries exhausted" {
		t.Errorf("failure not recorded: %+v", s)
	}
	if s.CompletedAt == nil {
		t.Error("expected completion timestamp on terminal state")
	}
	if b.Epic("e-1").Status != models.EpicStatusDone {
		t.Errorf("expected epic done, got %s", b.Epic("e-1").Status)
	}
}

func TestRestoreRebuildsGraphAndResetsActiveStories(t *testing.T) {
	epics := []*models.Epic{
		{ID: "e-1", Title: "Auth", Priority: models.PriorityHigh, CreatedAt: time.Now()},
	}
	stories := []*models.Story{
		{ID: "s-f", EpicID: "e-1", Status: models.StoryStatusCompleted, Foundation: true, CreatedAt: time.Now()},
		{ID: "s-1", EpicID: "e-1", Status: models.StoryStatusInProgress, AssignedTo: "coder-1",
			DependsOn: []string{"s-f"}, CreatedAt: time.Now()},
		{ID: "s-2", EpicID: "e-1", Status: models.StoryStatusTesting, Coded: true, CreatedAt: time.Now()},
	}

	b := New()
	if err := b.Restore(epics, stories); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if b.FoundationID() != "s-f" || !b.FoundationDone() {
		t.Errorf("foundation not restored: id=%s done=%v", b.FoundationID(), b.FoundationDone())
	}

	s1 := b.Story("s-1")
	if s1.Status != models.StoryStatusPending || s1.AssignedTo != "" {
		t.Errorf("mid-flight story not reset: %+v", s1)
	}
	s2 := b.Story("s-2")
	if s2.Status != models.StoryStatusPending || !s2.Coded {
		t.Errorf("testing story should resume as coded pending: %+v", s2)
	}

	// Restored graph dispatches normally.
	next := b.NextDispatchable(models.RoleCoder, nil)
	if next == nil || next.ID != "s-1" {
		t.Errorf("expected s-1 dispatchable after restore, got %v", next)
	}
	if got := b.NextDispatchable(models.RoleTester, nil); got == nil || got.ID != "s-2" {
		t.Errorf("expected s-2 for tester after restore, got %v", got)
	}
}

func TestRestoreRejectsForwardDanglingDependency(t *testing.T) {
	b := New()
	err := b.Restore(
		[]*models.Epic{{ID: "e-1"}},
		[]*models.Story{{ID: "s-1", EpicID: "e-1", DependsOn: []string{"ghost"}}},
	)
	if err == nil {
		t.Error("expected error for dangling dependency")
	}
}

func TestRestoreIntoPopulatedBacklogFails(t *testing.T) {
	b := New()
	seedEpic(t, b, "e-1")
	if err := b.Restore([]*models.Epic{{ID: "e-2"}}, nil); err == nil {
		t.Error("expected error restoring into non-empty backlog")
	}
}
