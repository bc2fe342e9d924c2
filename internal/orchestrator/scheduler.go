package orchestrator

import (
	"github.com/mbranton/hive/internal/backlog"
	"github.com/mbranton/hive/pkg/models"
)

// PoolScheduler binds one role's bounded agent slots to dispatchable
// stories. It is driven from the run loop's single goroutine: Tick and
// Complete never run concurrently with each other.
type PoolScheduler struct {
	role    models.Role
	slots   int
	backlog *backlog.Backlog

	// gateOnFoundation restricts coder dispatch to the foundation story
	// until it completes. Only set when more than one coder slot exists.
	gateOnFoundation bool

	retryLimit int

	running map[string]int // story ID → slot index
	busy    []bool
}

// assignment is one slot newly bound to a story by Tick.
type assignment struct {
	story      *models.Story
	instanceID string
	slot       int
}

// completionKind classifies what Complete decided for a story.
type completionKind int

const (
	// completionCoded: implementation done, story handed to the tester pool.
	completionCoded completionKind = iota
	// completionDone: story reached completed.
	completionDone
	// completionRequeued: failed attempt, story returned to the queue.
	completionRequeued
	// completionFailed: retries exhausted, story permanently failed.
	completionFailed
)

// completion is the outcome of Complete, for the run loop to emit events on.
type completion struct {
	story *models.Story
	kind  completionKind
	retry int
}

func newPoolScheduler(role models.Role, slots int, b *backlog.Backlog, retryLimit int) *PoolScheduler {
	if slots < 1 {
		slots = 1
	}
	return &PoolScheduler{
		role:             role,
		slots:            slots,
		backlog:          b,
		gateOnFoundation: role == models.RoleCoder && slots > 1,
		retryLimit:       retryLimit,
		running:          make(map[string]int),
		busy:             make([]bool, slots),
	}
}

// Running returns the number of occupied slots.
func (p *PoolScheduler) Running() int {
	return len(p.running)
}

// RunningStories returns the story IDs currently bound to slots.
func (p *PoolScheduler) RunningStories() map[string]bool {
	out := make(map[string]bool, len(p.running))
	for id := range p.running {
		out[id] = true
	}
	return out
}

// Tick fills idle slots with dispatchable stories and returns the new
// assignments. A returned error is an InvariantViolation and fatal.
func (p *PoolScheduler) Tick() ([]assignment, error) {
	if len(p.running) > p.slots {
		return nil, invariantf("%s pool holds %d stories with only %d slots", p.role, len(p.running), p.slots)
	}

	exclude := p.RunningStories()
	var out []assignment

	for {
		slot := p.freeSlot()
		if slot < 0 {
			break
		}

		// Until the foundation story completes, a gated coder pool works on
		// nothing else: the foundation is requested directly so that a
		// higher-priority dependency-free story cannot shadow it.
		var next *models.Story
		if p.gateOnFoundation && !p.backlog.FoundationDone() {
			next = p.backlog.NextFoundation(exclude)
		} else {
			next = p.backlog.NextDispatchable(p.role, exclude)
		}
		if next == nil {
			break
		}

		if _, dup := p.running[next.ID]; dup {
			return nil, invariantf("story %s assigned twice in %s pool", next.ID, p.role)
		}

		instanceID := models.InstanceID(p.role, slot+1)
		if err := p.backlog.Assign(next.ID, instanceID); err != nil {
			return nil, err
		}
		if err := p.backlog.UpdateStoryStatus(next.ID, p.role.WorkingStatus(), ""); err != nil {
			// Dispatch selection already checked dependencies; a refusal
			// here is a logic defect.
			p.backlog.Release(next.ID)
			return nil, invariantf("dispatching %s: %v", next.ID, err)
		}

		p.running[next.ID] = slot
		p.busy[slot] = true
		exclude[next.ID] = true
		out = append(out, assignment{story: next, instanceID: instanceID, slot: slot})
	}

	return out, nil
}

// Complete releases the story's slot and applies the outcome of its run:
// success moves the story forward (to the tester pool or to completed);
// failure requeues it until the retry limit, then fails it permanently.
// handOff selects whether successful work goes to a tester pool next.
func (p *PoolScheduler) Complete(storyID string, success bool, summary string, handOff bool) (completion, error) {
	slot, ok := p.running[storyID]
	if !ok {
		return completion{}, invariantf("completion for story %s not running in %s pool", storyID, p.role)
	}
	delete(p.running, storyID)
	p.busy[slot] = false

	story := p.backlog.Story(storyID)
	if story == nil {
		return completion{}, invariantf("completed story %s missing from backlog", storyID)
	}

	if success {
		if p.role == models.RoleCoder && handOff {
			if err := p.backlog.MarkCoded(storyID); err != nil {
				return completion{}, err
			}
			return completion{story: story, kind: completionCoded}, nil
		}
		if err := p.backlog.UpdateStoryStatus(storyID, models.StoryStatusCompleted, summary); err != nil {
			return completion{}, err
		}
		return completion{story: story, kind: completionDone}, nil
	}

	if story.RetryCount < p.retryLimit {
		retry, err := p.backlog.Requeue(storyID)
		if err != nil {
			return completion{}, err
		}
		return completion{story: story, kind: completionRequeued, retry: retry}, nil
	}

	if err := p.backlog.MarkFailed(storyID, summary); err != nil {
		return completion{}, err
	}
	return completion{story: story, kind: completionFailed}, nil
}

// Interrupt releases a story whose runner was cut off by a stop. The story
// returns to the queue unassigned and keeps its retry count: an interrupted
// attempt is not a failed one.
func (p *PoolScheduler) Interrupt(storyID string) error {
	slot, ok := p.running[storyID]
	if !ok {
		return invariantf("interrupt for story %s not running in %s pool", storyID, p.role)
	}
	delete(p.running, storyID)
	p.busy[slot] = false

	p.backlog.Release(storyID)
	return p.backlog.UpdateStoryStatus(storyID, models.StoryStatusPending, "")
}

func (p *PoolScheduler) freeSlot() int {
	for i, b := range p.busy {
		if !b {
			return i
		}
	}
	return -1
}
