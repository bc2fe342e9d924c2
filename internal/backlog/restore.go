package backlog

import (
	"fmt"
	"time"

	"github.com/mbranton/hive/pkg/models"
)

// MarkCoded records that a story's implementation finished and hands it to
// the tester pool: the story returns to pending, unassigned, with Coded set.
func (b *Backlog) MarkCoded(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stories[id]
	if !ok {
		return fmt.Errorf("story %s: %w", id, ErrUnknownStory)
	}
	s.Coded = true
	s.Status = models.StoryStatusPending
	s.AssignedTo = ""
	return nil
}

// Requeue returns a story to the dispatch queue after a failed attempt,
// incrementing its retry count. The new count is returned.
func (b *Backlog) Requeue(id string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stories[id]
	if !ok {
		return 0, fmt.Errorf("story %s: %w", id, ErrUnknownStory)
	}
	s.RetryCount++
	s.Status = models.StoryStatusPending
	s.AssignedTo = ""
	return s.RetryCount, nil
}

// MarkFailed transitions a story to its permanent failed state with the
// given error message.
func (b *Backlog) MarkFailed(id, errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stories[id]
	if !ok {
		return fmt.Errorf("story %s: %w", id, ErrUnknownStory)
	}
	s.Status = models.StoryStatusFailed
	s.Error = errMsg
	s.AssignedTo = ""
	now := time.Now()
	s.CompletedAt = &now
	if epic, ok := b.epics[s.EpicID]; ok {
		epic.Status = models.DeriveEpicStatus(b.epicStoriesLocked(epic))
	}
	return nil
}

// Restore rebuilds the graph from persisted epics and stories, preserving
// statuses and flags. Stories that were mid-flight when the process died
// (in_progress or testing) return to pending with their assignment cleared,
// so they re-dispatch on resume.
func (b *Backlog) Restore(epics []*models.Epic, stories []*models.Story) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.stories) > 0 || len(b.epics) > 0 {
		return fmt.Errorf("restore into non-empty backlog")
	}

	for _, e := range epics {
		if _, exists := b.epics[e.ID]; exists {
			return fmt.Errorf("epic %s: %w", e.ID, ErrDuplicateID)
		}
		// Story membership is rebuilt below from the stories themselves.
		e.Stories = nil
		b.epics[e.ID] = e
		b.epicOrder = append(b.epicOrder, e.ID)
	}

	for _, s := range stories {
		if _, exists := b.stories[s.ID]; exists {
			return fmt.Errorf("story %s: %w", s.ID, ErrDuplicateID)
		}
		epic, ok := b.epics[s.EpicID]
		if !ok {
			return fmt.Errorf("story %s references epic %s: %w", s.ID, s.EpicID, ErrUnknownEpic)
		}

		if s.Status.Active() {
			s.Status = models.StoryStatusPending
		}
		s.AssignedTo = ""

		b.stories[s.ID] = s
		b.order = append(b.order, s.ID)
		epic.Stories = append(epic.Stories, s.ID)

		if s.Foundation {
			b.foundationID = s.ID
		}
	}

	// Dependencies may reference stories restored later in the list, so
	// validate edges only after every node exists.
	for _, s := range stories {
		for _, depID := range s.DependsOn {
			if _, ok := b.stories[depID]; !ok {
				return fmt.Errorf("story %s depends on %s: %w", s.ID, depID, ErrUnknownStory)
			}
		}
	}
	if b.hasCycleLocked() {
		return fmt.Errorf("restored graph: %w", ErrCycleDetected)
	}

	for _, e := range b.epics {
		e.Status = models.DeriveEpicStatus(b.epicStoriesLocked(e))
	}
	return nil
}
