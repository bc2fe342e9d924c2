// Package backlog maintains the work-item graph for a build session:
// epics, stories, dependency edges, and dispatch selection.
package backlog

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mbranton/hive/pkg/models"
)

// ErrCycleDetected indicates a circular dependency in the story graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrUnknownEpic indicates a story referenced an epic that was never added.
var ErrUnknownEpic = errors.New("unknown epic")

// ErrUnknownStory indicates an operation referenced a story that does not exist.
var ErrUnknownStory = errors.New("unknown story")

// ErrDuplicateID indicates an epic or story ID was added twice.
var ErrDuplicateID = errors.New("duplicate id")

// Backlog is the dependency graph of a session's epics and stories.
// Stories are nodes; DependsOn edges are "blocked by" relationships.
// All methods are safe for concurrent use.
type Backlog struct {
	mu sync.RWMutex

	epics     map[string]*models.Epic
	epicOrder []string

	stories map[string]*models.Story
	order   []string // story creation order, for FIFO tie-breaking

	// foundationID is the designated foundation story, if any.
	foundationID string

	batchMode bool
	batchSize int
}

// New creates an empty Backlog.
func New() *Backlog {
	return &Backlog{
		epics:   make(map[string]*models.Epic),
		stories: make(map[string]*models.Story),
	}
}

// EnableBatchMode groups subsequently added stories into batches of size n.
func (b *Backlog) EnableBatchMode(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 1 {
		n = 1
	}
	b.batchMode = true
	b.batchSize = n
	b.renumberBatchesLocked()
}

// AddEpic registers a new epic.
func (b *Backlog) AddEpic(e *models.Epic) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.epics[e.ID]; exists {
		return fmt.Errorf("epic %s: %w", e.ID, ErrDuplicateID)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Status == "" {
		e.Status = models.EpicStatusPending
	}
	b.epics[e.ID] = e
	b.epicOrder = append(b.epicOrder, e.ID)
	return nil
}

// AddStory registers a new story under an existing epic. Dependencies must
// reference stories that were added earlier; the first dependency-free story
// is designated the foundation story unless one is already marked.
func (b *Backlog) AddStory(s *models.Story) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.stories[s.ID]; exists {
		return fmt.Errorf("story %s: %w", s.ID, ErrDuplicateID)
	}
	epic, ok := b.epics[s.EpicID]
	if !ok {
		return fmt.Errorf("story %s references epic %s: %w", s.ID, s.EpicID, ErrUnknownEpic)
	}
	for _, depID := range s.DependsOn {
		if _, ok := b.stories[depID]; !ok {
			return fmt.Errorf("story %s depends on %s: %w", s.ID, depID, ErrUnknownStory)
		}
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.Status == "" {
		s.Status = models.StoryStatusBacklog
	}
	if s.Priority == "" {
		s.Priority = models.PriorityMedium
	}
	s.Batch = -1

	b.stories[s.ID] = s
	b.order = append(b.order, s.ID)
	epic.Stories = append(epic.Stories, s.ID)

	if b.hasCycleLocked() {
		// Roll back: the new edge set is rejected wholesale.
		delete(b.stories, s.ID)
		b.order = b.order[:len(b.order)-1]
		epic.Stories = epic.Stories[:len(epic.Stories)-1]
		return fmt.Errorf("story %s: %w", s.ID, ErrCycleDetected)
	}

	if s.Foundation {
		b.foundationID = s.ID
	} else if b.foundationID == "" && len(s.DependsOn) == 0 {
		s.Foundation = true
		b.foundationID = s.ID
	}

	if b.batchMode {
		b.renumberBatchesLocked()
	}
	return nil
}

// hasCycleLocked detects back edges with DFS coloring. Caller holds the lock.
func (b *Backlog) hasCycleLocked() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	colors := make(map[string]int, len(b.stories))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		for _, depID := range b.stories[id].DependsOn {
			switch colors[depID] {
			case gray:
				return true
			case white:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = black
		return false
	}

	for id := range b.stories {
		if colors[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// renumberBatchesLocked assigns batch indices in creation order.
// Caller holds the lock.
func (b *Backlog) renumberBatchesLocked() {
	if !b.batchMode || b.batchSize < 1 {
		return
	}
	for i, id := range b.order {
		b.stories[id].Batch = i / b.batchSize
	}
}

// Epic returns the epic with the given ID, or nil.
func (b *Backlog) Epic(id string) *models.Epic {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.epics[id]
}

// Story returns the story with the given ID, or nil.
func (b *Backlog) Story(id string) *models.Story {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stories[id]
}

// Epics returns all epics in creation order.
func (b *Backlog) Epics() []*models.Epic {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*models.Epic, 0, len(b.epicOrder))
	for _, id := range b.epicOrder {
		out = append(out, b.epics[id])
	}
	return out
}

// Stories returns all stories in creation order.
func (b *Backlog) Stories() []*models.Story {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.storiesLocked()
}

func (b *Backlog) storiesLocked() []*models.Story {
	out := make([]*models.Story, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.stories[id])
	}
	return out
}

// SnapshotItems returns deep copies of every epic and story in creation
// order. The copies share nothing with the live graph, so a checkpoint
// writer can serialize them while dispatch keeps mutating the originals.
func (b *Backlog) SnapshotItems() ([]*models.Epic, []*models.Story) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	epics := make([]*models.Epic, 0, len(b.epicOrder))
	for _, id := range b.epicOrder {
		e := *b.epics[id]
		e.Stories = append([]string(nil), e.Stories...)
		epics = append(epics, &e)
	}

	stories := make([]*models.Story, 0, len(b.order))
	for _, id := range b.order {
		s := *b.stories[id]
		s.AcceptanceCriteria = append([]string(nil), s.AcceptanceCriteria...)
		s.DependsOn = append([]string(nil), s.DependsOn...)
		s.Files = append([]string(nil), s.Files...)
		if s.CompletedAt != nil {
			at := *s.CompletedAt
			s.CompletedAt = &at
		}
		stories = append(stories, &s)
	}
	return epics, stories
}

// FoundationID returns the designated foundation story ID, or "".
func (b *Backlog) FoundationID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.foundationID
}

// FoundationDone reports whether the foundation story has completed.
// A backlog without a foundation story is treated as done.
func (b *Backlog) FoundationDone() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.foundationID == "" {
		return true
	}
	f, ok := b.stories[b.foundationID]
	return ok && f.Status == models.StoryStatusCompleted
}

// UpdateStoryStatus transitions a story and records the result summary.
// Terminal transitions stamp CompletedAt; the owning epic's derived status
// is refreshed. Advancing to in_progress with unmet dependencies is refused.
func (b *Backlog) UpdateStoryStatus(id string, status models.StoryStatus, result string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.stories[id]
	if !ok {
		return fmt.Errorf("story %s: %w", id, ErrUnknownStory)
	}
	if !status.Valid() {
		return fmt.Errorf("story %s: invalid status %q", id, status)
	}
	if status == models.StoryStatusInProgress && !b.depsSatisfiedLocked(s) {
		return fmt.Errorf("story %s cannot start: unmet dependencies", id)
	}

	s.Status = status
	if result != "" {
		s.Result = result
	}
	if status.Terminal() {
		now := time.Now()
		s.CompletedAt = &now
		s.AssignedTo = ""
	}

	if epic, ok := b.epics[s.EpicID]; ok {
		epic.Status = models.DeriveEpicStatus(b.epicStoriesLocked(epic))
	}
	return nil
}

// Assign binds a story to an agent instance.
func (b *Backlog) Assign(id, instanceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stories[id]
	if !ok {
		return fmt.Errorf("story %s: %w", id, ErrUnknownStory)
	}
	s.AssignedTo = instanceID
	return nil
}

// Release clears a story's assignment, typically when re-queueing a retry.
func (b *Backlog) Release(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.stories[id]; ok {
		s.AssignedTo = ""
	}
}

func (b *Backlog) epicStoriesLocked(e *models.Epic) []*models.Story {
	out := make([]*models.Story, 0, len(e.Stories))
	for _, id := range e.Stories {
		if s, ok := b.stories[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// DepsSatisfied reports whether every dependency of the story is completed.
func (b *Backlog) DepsSatisfied(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.stories[id]
	if !ok {
		return false
	}
	return b.depsSatisfiedLocked(s)
}

func (b *Backlog) depsSatisfiedLocked(s *models.Story) bool {
	for _, depID := range s.DependsOn {
		dep, ok := b.stories[depID]
		if !ok || dep.Status != models.StoryStatusCompleted {
			return false
		}
	}
	return true
}

// Counts returns the number of stories per status.
func (b *Backlog) Counts() map[models.StoryStatus]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	counts := make(map[models.StoryStatus]int)
	for _, s := range b.stories {
		counts[s.Status]++
	}
	return counts
}

// Total returns the number of stories in the backlog.
func (b *Backlog) Total() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.stories)
}

// Skipped returns the stories that can never run because a transitive
// dependency failed. Reported at session completion.
func (b *Backlog) Skipped() []*models.Story {
	b.mu.RLock()
	defer b.mu.RUnlock()

	blocked := make(map[string]bool)
	var isBlocked func(s *models.Story) bool
	isBlocked = func(s *models.Story) bool {
		if v, seen := blocked[s.ID]; seen {
			return v
		}
		blocked[s.ID] = false
		for _, depID := range s.DependsOn {
			dep, ok := b.stories[depID]
			if !ok {
				continue
			}
			if dep.Status == models.StoryStatusFailed || isBlocked(dep) {
				blocked[s.ID] = true
				return true
			}
		}
		return false
	}

	var out []*models.Story
	for _, id := range b.order {
		s := b.stories[id]
		if s.Status.Terminal() {
			continue
		}
		if isBlocked(s) {
			out = append(out, s)
		}
	}
	return out
}
