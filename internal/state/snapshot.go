package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mbranton/hive/pkg/models"
)

// Snapshot is the full resumable state of one session: graph, transcript
// and metrics. It is what the checkpointer writes and what resume loads.
type Snapshot struct {
	SessionID   string                `json:"session_id"`
	ProjectID   string                `json:"project_id"`
	BuildNumber int                   `json:"build_number"`
	SavedAt     time.Time             `json:"saved_at"`
	Epics       []*models.Epic        `json:"epics"`
	Stories     []*models.Story       `json:"stories"`
	Metrics     models.SessionMetrics `json:"metrics"`
	Transcript  []TranscriptEntry     `json:"transcript,omitempty"`
}

// TranscriptEntry is one accumulated agent message kept for resume context.
type TranscriptEntry struct {
	InstanceID string    `json:"instance_id"`
	StoryID    string    `json:"story_id,omitempty"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// BacklogDoc is the authoritative backlog document. On resume its task list
// is the single source of truth and takes precedence over the session
// snapshot; conflicting lists are never merged.
type BacklogDoc struct {
	SavedAt time.Time       `json:"saved_at"`
	Epics   []*models.Epic  `json:"epics"`
	Stories []*models.Story `json:"stories"`
}

// FileStore persists snapshots under <projectDir>/.hive/state: the
// authoritative backlog.json, the full-session session.json, and one file
// per epic and story for external inspection.
type FileStore struct {
	root string
}

// NewFileStore creates a file store rooted at the project's state directory.
func NewFileStore(projectDir string) *FileStore {
	return &FileStore{root: filepath.Join(projectDir, ".hive", "state")}
}

// Root returns the store's directory.
func (f *FileStore) Root() string { return f.root }

func (f *FileStore) backlogPath() string { return filepath.Join(f.root, "backlog.json") }
func (f *FileStore) sessionPath() string { return filepath.Join(f.root, "session.json") }

// SaveBacklog writes the authoritative backlog document.
func (f *FileStore) SaveBacklog(doc *BacklogDoc) error {
	doc.SavedAt = time.Now()
	return writeJSONAtomic(f.backlogPath(), doc)
}

// SaveSnapshot writes the full-session snapshot plus per-item files. Writes
// are atomic renames, so replaying the same snapshot produces identical
// on-disk state.
func (f *FileStore) SaveSnapshot(snap *Snapshot) error {
	snap.SavedAt = time.Now()

	if err := writeJSONAtomic(f.sessionPath(), snap); err != nil {
		return err
	}
	for _, e := range snap.Epics {
		path := filepath.Join(f.root, "epics", e.ID+".json")
		if err := writeJSONAtomic(path, e); err != nil {
			return err
		}
	}
	for _, s := range snap.Stories {
		path := filepath.Join(f.root, "stories", s.ID+".json")
		if err := writeJSONAtomic(path, s); err != nil {
			return err
		}
	}
	return nil
}

// LoadFullState reconstructs a resumable snapshot, or nil when no state has
// been persisted. When both the authoritative backlog document and the
// session snapshot exist, reconcile decides which task list survives.
func (f *FileStore) LoadFullState() (*Snapshot, error) {
	var snap *Snapshot
	if err := readJSON(f.sessionPath(), &snap); err != nil {
		return nil, err
	}

	var backlog *BacklogDoc
	if err := readJSON(f.backlogPath(), &backlog); err != nil {
		return nil, err
	}

	return reconcile(snap, backlog), nil
}

// reconcile applies the precedence rule in one place: the authoritative
// backlog document's epics and stories replace the session snapshot's
// wholesale whenever it exists. Session identity, metrics and transcript
// always come from the snapshot.
func reconcile(snap *Snapshot, backlog *BacklogDoc) *Snapshot {
	switch {
	case snap == nil && backlog == nil:
		return nil
	case snap == nil:
		return &Snapshot{
			SavedAt: backlog.SavedAt,
			Epics:   backlog.Epics,
			Stories: backlog.Stories,
		}
	case backlog == nil:
		return snap
	}

	snap.Epics = backlog.Epics
	snap.Stories = backlog.Stories
	return snap
}

// writeJSONAtomic writes v as JSON via a temp file and rename.
func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// readJSON unmarshals path into v, leaving v untouched when the file does
// not exist.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
