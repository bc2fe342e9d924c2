package backlog

import (
	"github.com/mbranton/hive/pkg/models"
)

// NextDispatchable selects the next story an agent of the given role should
// pick up, or nil when nothing is ready. Selection rules:
//   - the story is unassigned and in backlog or pending status
//   - every dependency is completed
//   - coders take un-coded stories, testers take coded ones
//   - in batch mode coders only take stories from the open batch
//   - ties break by priority (critical > high > medium > low), then FIFO
//     by creation order so dispatch is deterministic
//
// Stories listed in exclude are skipped regardless; the scheduler passes the
// set of stories already bound to in-flight runners.
func (b *Backlog) NextDispatchable(role models.Role, exclude map[string]bool) *models.Story {
	b.mu.RLock()
	defer b.mu.RUnlock()

	openBatch := -1
	if b.batchMode && role == models.RoleCoder {
		// A batch is worked by a single coder instance: while any story is
		// being implemented, no further coder dispatch happens.
		for _, s := range b.stories {
			if s.Status == models.StoryStatusInProgress {
				return nil
			}
		}
		openBatch = b.openBatchLocked()
	}

	var best *models.Story
	for _, id := range b.order {
		s := b.stories[id]
		if exclude[s.ID] || !s.Dispatchable() {
			continue
		}
		switch role {
		case models.RoleTester:
			if !s.Coded {
				continue
			}
		default:
			if s.Coded {
				continue
			}
		}
		if !b.depsSatisfiedLocked(s) {
			continue
		}
		if openBatch >= 0 && s.Batch != openBatch {
			continue
		}
		if best == nil || s.Priority.Rank() < best.Priority.Rank() {
			best = s
		}
	}
	return best
}

// NextFoundation returns the foundation story if it is ready for a coder to
// pick up, regardless of how other stories outrank it. It returns nil when no
// foundation exists or when it is assigned, coded, or terminal. A gated coder
// pool asks for the foundation directly so that a higher-priority
// dependency-free story can never starve it.
func (b *Backlog) NextFoundation(exclude map[string]bool) *models.Story {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.foundationID == "" {
		return nil
	}
	f, ok := b.stories[b.foundationID]
	if !ok || exclude[f.ID] || f.Coded || !f.Dispatchable() {
		return nil
	}
	if !b.depsSatisfiedLocked(f) {
		return nil
	}
	return f
}

// openBatchLocked returns the lowest batch index that still has stories
// needing implementation. Batches are worked strictly in order; a new batch
// opens only once every story in the previous one is coded or terminal.
// Caller holds the lock.
func (b *Backlog) openBatchLocked() int {
	open := -1
	for _, id := range b.order {
		s := b.stories[id]
		if s.Status.Terminal() || s.Coded {
			continue
		}
		if open == -1 || s.Batch < open {
			open = s.Batch
		}
	}
	return open
}

// OpenBatch returns the batch index coders are currently restricted to,
// or -1 when batch mode is off or all batches are done.
func (b *Backlog) OpenBatch() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.batchMode {
		return -1
	}
	return b.openBatchLocked()
}

// Remaining reports whether any story could still make progress: a story is
// live if it is non-terminal and not transitively blocked by a failure.
func (b *Backlog) Remaining() bool {
	skipped := make(map[string]bool, len(b.Skipped()))
	for _, s := range b.Skipped() {
		skipped[s.ID] = true
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.stories {
		if !s.Status.Terminal() && !skipped[s.ID] {
			return true
		}
	}
	return false
}
