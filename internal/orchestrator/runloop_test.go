package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mbranton/hive/internal/agent"
	"github.com/mbranton/hive/internal/backlog"
	"github.com/mbranton/hive/internal/bus"
	"github.com/mbranton/hive/internal/state"
	"github.com/mbranton/hive/pkg/models"
)

func newTestSession(t *testing.T, cfg SessionConfig) *Session {
	t.Helper()
	dir := t.TempDir()
	files := state.NewFileStore(dir)
	return &Session{
		ID:           "test-session",
		ProjectID:    "proj",
		ProjectDir:   dir,
		BuildNumber:  1,
		Config:       cfg.withDefaults(),
		Backlog:      backlog.New(),
		Bus:          bus.New(),
		Metrics:      NewAggregator(),
		files:        files,
		checkpointer: state.NewCheckpointer(files),
		logger:       NopLogger(),
		phase:        PhaseIdle,
		agents:       make(map[string]*models.AgentHandle),
	}
}

type fakeStream struct {
	msgs chan agent.Message
	err  error
}

func (f *fakeStream) Messages() <-chan agent.Message { return f.msgs }
func (f *fakeStream) Wait() error                    { return f.err }
func (f *fakeStream) Kill() error                    { return nil }

// scriptedService answers every invocation with the messages the script
// function produces for it.
type scriptedService struct {
	mu     sync.Mutex
	script func(inv agent.Invocation) []agent.Message
	calls  []agent.Invocation
}

func (s *scriptedService) Start(ctx context.Context, inv agent.Invocation) (agent.Stream, error) {
	s.mu.Lock()
	s.calls = append(s.calls, inv)
	script := s.script
	s.mu.Unlock()

	msgs := script(inv)
	ch := make(chan agent.Message, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &fakeStream{msgs: ch}, nil
}

func (s *scriptedService) invocations(role models.Role) []agent.Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []agent.Invocation
	for _, inv := range s.calls {
		if inv.Role == role {
			out = append(out, inv)
		}
	}
	return out
}

func completeMsg(success bool, summary string) agent.Message {
	return agent.Message{Type: agent.MessageComplete, Success: success, Summary: summary}
}

func drainEvents(sub *bus.Subscription) []bus.Event {
	var out []bus.Event
	for {
		select {
		case e := <-sub.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

const pipelinePlan = `{"epics":[{"id":"e1","title":"Core","stories":[
  {"id":"s1","title":"Scaffold","foundation":true},
  {"id":"s2","title":"API","depends_on":["s1"]},
  {"id":"s3","title":"CLI","depends_on":["s1"]}
]}]}`

func TestRunParallelFullPipeline(t *testing.T) {
	svc := &scriptedService{script: func(inv agent.Invocation) []agent.Message {
		switch inv.Role {
		case models.RoleProductOwner:
			return []agent.Message{completeMsg(true, pipelinePlan)}
		case models.RoleCoder:
			return []agent.Message{
				{Type: agent.MessageAction, Tool: "write_file", ToolInput: []byte(`{"path":"main.go"}`)},
				completeMsg(true, "implemented"),
			}
		case models.RoleTester:
			return []agent.Message{
				{Type: agent.MessageTestResult, TestResult: &agent.TestResult{Total: 4, Passed: 4}},
				completeMsg(true, "verified"),
			}
		default:
			return []agent.Message{completeMsg(true, "")}
		}
	}}

	s := newTestSession(t, SessionConfig{ParallelCoders: 2, ParallelTesters: 1, RetryLimit: 1})
	defer s.Close()
	sub := s.Bus.Subscribe(1024)

	err := s.RunParallel(context.Background(), RunOptions{
		Requirements: "build a small web service",
		Service:      svc,
		tickInterval: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := s.Phase(); got != PhaseComplete {
		t.Errorf("phase = %q, want complete", got)
	}
	counts := s.Backlog.Counts()
	if counts[models.StoryStatusCompleted] != 3 {
		t.Fatalf("completed = %d, want 3", counts[models.StoryStatusCompleted])
	}

	// Foundation gating: the first coder invocation must be the scaffold.
	coderCalls := svc.invocations(models.RoleCoder)
	if len(coderCalls) != 3 {
		t.Fatalf("coder invocations = %d, want 3", len(coderCalls))
	}
	if !strings.Contains(coderCalls[0].Task, "Story s1:") {
		t.Errorf("first coder task is not the foundation story:\n%s", coderCalls[0].Task)
	}

	var foundationEvents, sessionComplete int
	var summary models.BuildSummary
	for _, e := range drainEvents(sub) {
		switch ev := e.(type) {
		case bus.FoundationComplete:
			foundationEvents++
		case bus.SessionComplete:
			sessionComplete++
			summary = ev.Summary
		}
	}
	if foundationEvents != 1 {
		t.Errorf("foundation:complete emitted %d times, want 1", foundationEvents)
	}
	if sessionComplete != 1 {
		t.Fatalf("session:complete emitted %d times, want 1", sessionComplete)
	}
	if summary.Completed != 3 || summary.Failed != 0 || summary.Skipped != 0 {
		t.Errorf("summary = %+v, want 3/0/0", summary)
	}

	metrics := s.Metrics.Snapshot()
	if metrics.Build.FilesCreated != 3 {
		t.Errorf("files created = %d, want 3", metrics.Build.FilesCreated)
	}
	if metrics.Testing.TotalTests != 12 || metrics.Testing.PassedTests != 12 {
		t.Errorf("testing = %+v, want 12/12", metrics.Testing)
	}
}

func TestRunParallelFailureSkipsDependents(t *testing.T) {
	svc := &scriptedService{script: func(inv agent.Invocation) []agent.Message {
		switch inv.Role {
		case models.RoleProductOwner:
			return []agent.Message{completeMsg(true, `{"epics":[{"id":"e1","title":"Core","stories":[
				{"id":"s1","title":"Scaffold","foundation":true},
				{"id":"s2","title":"API","depends_on":["s1"]},
				{"id":"s3","title":"CLI","depends_on":["s2"]}
			]}]}`)}
		case models.RoleCoder:
			if strings.Contains(inv.Task, "Story s2:") {
				return []agent.Message{completeMsg(false, "cannot satisfy acceptance criteria")}
			}
			return []agent.Message{completeMsg(true, "implemented")}
		default:
			return []agent.Message{completeMsg(true, "")}
		}
	}}

	s := newTestSession(t, SessionConfig{ParallelCoders: 1, RetryLimit: 1})
	defer s.Close()
	sub := s.Bus.Subscribe(1024)

	err := s.RunParallel(context.Background(), RunOptions{
		Requirements: "build it",
		Service:      svc,
		tickInterval: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := s.Backlog.Story("s2").Status; got != models.StoryStatusFailed {
		t.Errorf("s2 status = %q, want failed", got)
	}
	if got := s.Backlog.Story("s2").RetryCount; got != 1 {
		t.Errorf("s2 retries = %d, want 1", got)
	}
	if got := s.Backlog.Story("s3").Status; got.Terminal() {
		t.Errorf("s3 status = %q, want non-terminal (skipped)", got)
	}

	var summary models.BuildSummary
	var storyFailed int
	for _, e := range drainEvents(sub) {
		switch ev := e.(type) {
		case bus.SessionComplete:
			summary = ev.Summary
		case bus.StoryFailed:
			storyFailed++
		}
	}
	if summary.Completed != 1 || summary.Failed != 1 || summary.Skipped != 1 {
		t.Errorf("summary = %+v, want 1 completed 1 failed 1 skipped", summary)
	}
	if storyFailed != 1 {
		t.Errorf("story:failed emitted %d times, want 1", storyFailed)
	}
	// Conservation: every story is accounted for exactly once.
	if summary.Completed+summary.Failed+summary.Skipped != s.Backlog.Total() {
		t.Errorf("summary does not account for all %d stories", s.Backlog.Total())
	}
}

func TestRunParallelSkipsPlanningWithExistingBacklog(t *testing.T) {
	svc := &scriptedService{script: func(inv agent.Invocation) []agent.Message {
		if inv.Role == models.RoleProductOwner {
			return []agent.Message{completeMsg(false, "should not be invoked")}
		}
		return []agent.Message{completeMsg(true, "implemented")}
	}}

	s := newTestSession(t, SessionConfig{ParallelCoders: 1})
	defer s.Close()
	seedBacklog(t, s.Backlog,
		&models.Story{ID: "s1", Title: "restore me"},
		&models.Story{ID: "s2", Title: "and me"},
	)

	err := s.RunParallel(context.Background(), RunOptions{
		Service:      svc,
		tickInterval: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if po := svc.invocations(models.RoleProductOwner); len(po) != 0 {
		t.Errorf("product owner invoked %d times on a resumed backlog, want 0", len(po))
	}
	if got := s.Backlog.Counts()[models.StoryStatusCompleted]; got != 2 {
		t.Errorf("completed = %d, want 2", got)
	}
}

func TestRunParallelSecurityPhase(t *testing.T) {
	svc := &scriptedService{script: func(inv agent.Invocation) []agent.Message {
		switch inv.Role {
		case models.RoleSecurity:
			return []agent.Message{completeMsg(true, `{"score":92,"findings":1,"breakdown":{"secrets":1}}`)}
		default:
			return []agent.Message{completeMsg(true, "implemented")}
		}
	}}

	s := newTestSession(t, SessionConfig{ParallelCoders: 1})
	defer s.Close()
	seedBacklog(t, s.Backlog, &models.Story{ID: "s1", Title: "only story"})

	err := s.RunParallel(context.Background(), RunOptions{
		Service:      svc,
		Security:     true,
		tickInterval: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	sec := s.Metrics.Snapshot().Security
	if sec.Score != 92 || sec.Findings != 1 {
		t.Errorf("security metrics = %+v, want score 92 findings 1", sec)
	}
}

// blockedStream never produces output and unwinds only when its context is
// cancelled, like an agent process that ignores the task.
type blockedStream struct{ ctx context.Context }

func (b *blockedStream) Messages() <-chan agent.Message {
	ch := make(chan agent.Message)
	go func() {
		<-b.ctx.Done()
		close(ch)
	}()
	return ch
}
func (b *blockedStream) Wait() error { return b.ctx.Err() }
func (b *blockedStream) Kill() error { return nil }

// haltingService answers every invocation with a blocked stream and fires
// signal once, when the first invocation starts.
type haltingService struct {
	once   sync.Once
	signal func()
}

func (h *haltingService) Start(ctx context.Context, inv agent.Invocation) (agent.Stream, error) {
	h.once.Do(h.signal)
	return &blockedStream{ctx: ctx}, nil
}

func TestRunParallelStopReturnsInFlightToQueue(t *testing.T) {
	s := newTestSession(t, SessionConfig{ParallelCoders: 1})
	defer s.Close()
	seedBacklog(t, s.Backlog, &models.Story{ID: "s1", Title: "long haul"})
	sub := s.Bus.Subscribe(256)

	svc := &haltingService{signal: func() {
		marker := filepath.Join(s.ProjectDir, ".hive", "signals", "stop")
		if err := os.WriteFile(marker, []byte("now"), 0644); err != nil {
			t.Errorf("write stop marker: %v", err)
		}
	}}

	err := s.RunParallel(context.Background(), RunOptions{
		Service:       svc,
		RetryAttempts: 1,
		RetryBackoff:  time.Millisecond,
		tickInterval:  2 * time.Millisecond,
		stopGrace:     10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := s.Phase(); got != PhaseIdle {
		t.Errorf("phase = %q, want idle", got)
	}

	// The interrupted story goes back to the queue intact: unassigned,
	// pending, and with its retry budget untouched.
	st := s.Backlog.Story("s1")
	if st.Status != models.StoryStatusPending {
		t.Errorf("status = %q, want pending", st.Status)
	}
	if st.AssignedTo != "" {
		t.Errorf("assigned to %q, want unassigned", st.AssignedTo)
	}
	if st.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", st.RetryCount)
	}

	for _, e := range drainEvents(sub) {
		switch e.(type) {
		case bus.StoryFailed:
			t.Error("story:failed emitted for an interrupted story")
		case bus.SessionComplete:
			t.Error("session:complete emitted after a stop")
		}
	}
}

func TestRunParallelPlanningFailureFailsSession(t *testing.T) {
	svc := &scriptedService{script: func(inv agent.Invocation) []agent.Message {
		return []agent.Message{completeMsg(false, "requirements are contradictory")}
	}}

	s := newTestSession(t, SessionConfig{})
	defer s.Close()
	sub := s.Bus.Subscribe(64)

	err := s.RunParallel(context.Background(), RunOptions{
		Requirements: "build something impossible",
		Service:      svc,
		tickInterval: 2 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("run succeeded with a failed planning phase")
	}
	if got := s.Phase(); got != PhaseFailed {
		t.Errorf("phase = %q, want failed", got)
	}

	var sessionErrors int
	for _, e := range drainEvents(sub) {
		if _, ok := e.(bus.SessionError); ok {
			sessionErrors++
		}
	}
	if sessionErrors != 1 {
		t.Errorf("session:error emitted %d times, want 1", sessionErrors)
	}
}
