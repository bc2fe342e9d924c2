package orchestrator

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mbranton/hive/internal/backlog"
	"github.com/mbranton/hive/internal/bus"
	"github.com/mbranton/hive/internal/state"
	"github.com/mbranton/hive/pkg/models"
)

// Registry tracks at most one session per project. Creating a session for a
// project that already has one supersedes the old session: it is stopped and
// replaced, never run alongside.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session // by project ID
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// CreateSession allocates a session for the project. With resume set, state
// persisted by an earlier run is rehydrated: the authoritative backlog
// document defines the task list and the snapshot supplies metrics and
// transcript.
func (r *Registry) CreateSession(projectID, projectDir string, cfg SessionConfig, resume bool, buildNumber int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old := r.sessions[projectID]; old != nil {
		debugLog("superseding session %s for project %s", old.ID, projectID)
		old.Stop()
		old.Close()
		delete(r.sessions, projectID)
	}

	cfg = cfg.withDefaults()
	files := state.NewFileStore(projectDir)
	logger := NewDebugLoggerForProject(projectDir)
	setPackageLogger(logger)

	sess := &Session{
		ID:           uuid.New().String(),
		ProjectID:    projectID,
		ProjectDir:   projectDir,
		BuildNumber:  buildNumber,
		Config:       cfg,
		Backlog:      backlog.New(),
		Bus:          bus.New(),
		Metrics:      NewAggregator(),
		files:        files,
		checkpointer: state.NewCheckpointer(files),
		logger:       logger,
		phase:        PhaseIdle,
		agents:       make(map[string]*models.AgentHandle),
	}

	if cfg.BatchMode {
		sess.Backlog.EnableBatchMode(cfg.BatchSize)
	}

	if resume {
		snap, err := files.LoadFullState()
		if err != nil {
			return nil, fmt.Errorf("load persisted state: %w", err)
		}
		if snap != nil {
			if err := sess.Backlog.Restore(snap.Epics, snap.Stories); err != nil {
				return nil, fmt.Errorf("rehydrate backlog: %w", err)
			}
			sess.Metrics.Restore(snap.Metrics)
			sess.transcript = snap.Transcript
			if snap.SessionID != "" {
				logger.Log("resumed from session %s (build %d)", snap.SessionID, snap.BuildNumber)
			}
		}
	}

	r.sessions[projectID] = sess
	return sess, nil
}

// Lookup returns the project's session, or nil.
func (r *Registry) Lookup(projectID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[projectID]
}

// Dispose stops and removes the project's session.
func (r *Registry) Dispose(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess := r.sessions[projectID]; sess != nil {
		sess.Stop()
		sess.Close()
		delete(r.sessions, projectID)
	}
}
