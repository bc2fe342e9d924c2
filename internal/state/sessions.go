package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbranton/hive/pkg/models"
)

// SessionStatus is the lifecycle state of a persisted session record.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCanceled  SessionStatus = "canceled"
)

// SessionRecord is one build session's database row.
type SessionRecord struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id"`
	ProjectDir  string        `json:"project_dir"`
	BuildNumber int           `json:"build_number"`
	Status      SessionStatus `json:"status"`
	Config      string        `json:"config,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// AgentRecord is one agent slot's database row, scoped to a session.
type AgentRecord struct {
	InstanceID string                   `json:"instance_id"`
	SessionID  string                   `json:"session_id"`
	Role       models.Role              `json:"role"`
	Status     models.AgentHandleStatus `json:"status"`
	StoryID    string                   `json:"story_id,omitempty"`
	StartedAt  *time.Time               `json:"started_at,omitempty"`
}

// CreateSession inserts a new session row.
func (db *DB) CreateSession(s *SessionRecord) error {
	_, err := db.Exec(`
		INSERT INTO sessions (id, project_id, project_dir, build_number, status, config, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.ProjectID, s.ProjectDir, s.BuildNumber, string(s.Status), s.Config, formatTime(s.StartedAt))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID, or nil when absent.
func (db *DB) GetSession(id string) (*SessionRecord, error) {
	row := db.QueryRow(`
		SELECT id, project_id, project_dir, build_number, status, config, started_at, completed_at
		FROM sessions WHERE id = ?
	`, id)
	return scanSession(row.Scan)
}

// ActiveSession returns the project's active session, or nil.
func (db *DB) ActiveSession(projectID string) (*SessionRecord, error) {
	row := db.QueryRow(`
		SELECT id, project_id, project_dir, build_number, status, config, started_at, completed_at
		FROM sessions WHERE project_id = ? AND status = ?
		ORDER BY started_at DESC LIMIT 1
	`, projectID, string(SessionActive))
	return scanSession(row.Scan)
}

func scanSession(scan func(...any) error) (*SessionRecord, error) {
	var (
		s           SessionRecord
		startedAt   string
		completedAt sql.NullString
	)
	err := scan(&s.ID, &s.ProjectID, &s.ProjectDir, &s.BuildNumber, &s.Status,
		&s.Config, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.StartedAt, _ = parseTime(startedAt)
	s.CompletedAt = parseNullableTime(completedAt)
	return &s, nil
}

// UpdateSessionStatus transitions a session row, stamping completion time on
// terminal states.
func (db *DB) UpdateSessionStatus(id string, status SessionStatus) error {
	var completedAt *string
	if status != SessionActive {
		now := formatTime(time.Now())
		completedAt = &now
	}
	_, err := db.Exec(`
		UPDATE sessions SET status = ?, completed_at = ? WHERE id = ?
	`, string(status), completedAt, id)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

// NextBuildNumber returns one past the highest build number recorded for the
// project.
func (db *DB) NextBuildNumber(projectID string) (int, error) {
	var max int
	row := db.QueryRow("SELECT COALESCE(MAX(build_number), 0) FROM sessions WHERE project_id = ?", projectID)
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("next build number: %w", err)
	}
	return max + 1, nil
}

// UpsertAgent records the current state of one agent slot.
func (db *DB) UpsertAgent(a *AgentRecord) error {
	var startedAt *string
	if a.StartedAt != nil {
		s := formatTime(*a.StartedAt)
		startedAt = &s
	}
	_, err := db.Exec(`
		INSERT INTO agents (instance_id, session_id, role, status, story_id, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (instance_id, session_id)
		DO UPDATE SET status = excluded.status, story_id = excluded.story_id,
			started_at = excluded.started_at
	`, a.InstanceID, a.SessionID, string(a.Role), string(a.Status), a.StoryID, startedAt)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// ListAgents returns all agent rows for a session.
func (db *DB) ListAgents(sessionID string) ([]AgentRecord, error) {
	rows, err := db.Query(`
		SELECT instance_id, session_id, role, status, story_id, started_at
		FROM agents WHERE session_id = ? ORDER BY instance_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []AgentRecord
	for rows.Next() {
		var (
			a         AgentRecord
			storyID   sql.NullString
			startedAt sql.NullString
		)
		if err := rows.Scan(&a.InstanceID, &a.SessionID, &a.Role, &a.Status, &storyID, &startedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.StoryID = storyID.String
		a.StartedAt = parseNullableTime(startedAt)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// SaveMetrics upserts the session's metrics as a JSON document.
func (db *DB) SaveMetrics(sessionID string, m models.SessionMetrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO metrics (session_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, sessionID, string(data), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save metrics: %w", err)
	}
	return nil
}

// GetMetrics loads the session's metrics, returning zero values when none
// are stored.
func (db *DB) GetMetrics(sessionID string) (models.SessionMetrics, error) {
	var m models.SessionMetrics
	var data string
	row := db.QueryRow("SELECT data FROM metrics WHERE session_id = ?", sessionID)
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("get metrics: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return m, fmt.Errorf("unmarshal metrics: %w", err)
	}
	return m, nil
}
