package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/mbranton/hive/internal/backlog"
	"github.com/mbranton/hive/internal/bus"
	"github.com/mbranton/hive/internal/state"
	"github.com/mbranton/hive/pkg/models"
)

// SessionConfig holds the per-session scheduling knobs.
type SessionConfig struct {
	ParallelCoders  int  `json:"parallel_coders"`
	ParallelTesters int  `json:"parallel_testers"`
	BatchMode       bool `json:"batch_mode"`
	BatchSize       int  `json:"batch_size"`
	RetryLimit      int  `json:"retry_limit"`
	ExistingProject bool `json:"existing_project"`
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.ParallelCoders < 1 {
		c.ParallelCoders = 1
	}
	if c.ParallelTesters < 0 {
		c.ParallelTesters = 0
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	return c
}

// Phase is the session's coarse lifecycle stage.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhasePlanning Phase = "planning"
	PhaseBuilding Phase = "building"
	PhaseSecurity Phase = "security"
	PhaseComplete Phase = "complete"
	PhaseFailed   Phase = "failed"
)

// Session owns one build for one project: the backlog, the event bus, the
// metrics fold and the persistence hooks. A session runs at most one
// RunParallel at a time.
type Session struct {
	ID          string
	ProjectID   string
	ProjectDir  string
	BuildNumber int
	Config      SessionConfig

	Backlog *backlog.Backlog
	Bus     *bus.Bus
	Metrics *Aggregator

	files        *state.FileStore
	checkpointer *state.Checkpointer
	logger       *DebugLogger

	mu         sync.RWMutex
	phase      Phase
	agents     map[string]*models.AgentHandle
	transcript []state.TranscriptEntry

	cancel context.CancelFunc
}

// StatusReport is the non-blocking projection served to status queries.
type StatusReport struct {
	Active         bool  `json:"active"`
	Phase          Phase `json:"phase"`
	TaskCount      int   `json:"task_count"`
	CompletedCount int   `json:"completed_count"`
	FailedCount    int   `json:"failed_count"`
}

// Phase returns the session's current lifecycle stage.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
	s.logger.Log("phase → %s", p)
}

// Status returns the session projection without touching the run loop.
func (s *Session) Status() StatusReport {
	s.mu.RLock()
	phase := s.phase
	s.mu.RUnlock()

	counts := s.Backlog.Counts()
	return StatusReport{
		Active:         phase == PhasePlanning || phase == PhaseBuilding || phase == PhaseSecurity,
		Phase:          phase,
		TaskCount:      s.Backlog.Total(),
		CompletedCount: counts[models.StoryStatusCompleted],
		FailedCount:    counts[models.StoryStatusFailed],
	}
}

// Agents returns a copy of the current agent handles.
func (s *Session) Agents() []models.AgentHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AgentHandle, 0, len(s.agents))
	for _, h := range s.agents {
		out = append(out, *h)
	}
	return out
}

// setAgent records an agent slot transition and announces it on the bus.
func (s *Session) setAgent(instanceID string, role models.Role, status models.AgentHandleStatus, storyID string) {
	s.mu.Lock()
	h, ok := s.agents[instanceID]
	if !ok {
		h = &models.AgentHandle{InstanceID: instanceID, Role: role}
		s.agents[instanceID] = h
	}
	h.Status = status
	h.CurrentStoryID = storyID
	if status == models.AgentWorking {
		h.StartedAt = time.Now()
	}
	s.mu.Unlock()

	s.Bus.Publish(bus.AgentStatus{Stamp: bus.Now(), Role: role, InstanceID: instanceID, Status: status})
}

func (s *Session) appendTranscript(instanceID, storyID, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.transcript = append(s.transcript, state.TranscriptEntry{
		InstanceID: instanceID,
		StoryID:    storyID,
		Text:       text,
		Timestamp:  time.Now(),
	})
	s.mu.Unlock()
}

// snapshot captures the session's full resumable state. Epics and stories
// are deep copies: the checkpointer serializes the snapshot on its own
// goroutine while the run loop keeps mutating the backlog.
func (s *Session) snapshot() *state.Snapshot {
	s.mu.RLock()
	transcript := make([]state.TranscriptEntry, len(s.transcript))
	copy(transcript, s.transcript)
	s.mu.RUnlock()

	epics, stories := s.Backlog.SnapshotItems()
	return &state.Snapshot{
		SessionID:   s.ID,
		ProjectID:   s.ProjectID,
		BuildNumber: s.BuildNumber,
		Epics:       epics,
		Stories:     stories,
		Metrics:     s.Metrics.Snapshot(),
		Transcript:  transcript,
	}
}

// checkpoint submits the current state for asynchronous persistence.
// It never blocks scheduling.
func (s *Session) checkpoint() {
	if s.checkpointer != nil {
		s.checkpointer.Submit(s.snapshot())
	}
}

// Stop cancels the session's run loop, if one is active.
func (s *Session) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Close flushes pending checkpoints and releases session resources.
func (s *Session) Close() {
	if s.checkpointer != nil {
		s.checkpointer.Close()
	}
	s.Bus.Close()
	s.logger.Close()
}
