package state

import (
	"io"

	"github.com/mbranton/hive/pkg/models"
)

// SessionStore handles session row persistence.
type SessionStore interface {
	CreateSession(s *SessionRecord) error
	GetSession(id string) (*SessionRecord, error)
	ActiveSession(projectID string) (*SessionRecord, error)
	UpdateSessionStatus(id string, status SessionStatus) error
	NextBuildNumber(projectID string) (int, error)
}

// AgentStore handles agent slot persistence.
type AgentStore interface {
	UpsertAgent(a *AgentRecord) error
	ListAgents(sessionID string) ([]AgentRecord, error)
}

// MetricsStore handles per-session metrics persistence.
type MetricsStore interface {
	SaveMetrics(sessionID string, m models.SessionMetrics) error
	GetMetrics(sessionID string) (models.SessionMetrics, error)
}

// Migrator applies pending schema migrations.
type Migrator interface {
	Migrate() error
}

// Store is the full database surface the orchestrator depends on. Composing
// focused sub-interfaces keeps callers decoupled from the SQLite backend.
type Store interface {
	io.Closer
	Migrator
	SessionStore
	AgentStore
	MetricsStore
}

// Compile-time verification that DB satisfies the store interfaces.
var (
	_ Store        = (*DB)(nil)
	_ Migrator     = (*DB)(nil)
	_ SessionStore = (*DB)(nil)
	_ AgentStore   = (*DB)(nil)
	_ MetricsStore = (*DB)(nil)
)
