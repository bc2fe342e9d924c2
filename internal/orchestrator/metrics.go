package orchestrator

import (
	"sync"

	"github.com/mbranton/hive/internal/bus"
	"github.com/mbranton/hive/pkg/models"
)

// Aggregator folds events into session metrics. It never reads the backlog:
// metrics are a pure function of the event stream. Test results are
// deduplicated per story, so a re-run replaces the story's previous
// contribution instead of double counting.
type Aggregator struct {
	mu sync.Mutex

	build    models.BuildMetrics
	security models.SecurityMetrics

	// baseline carries testing totals restored from a snapshot, which
	// cannot be decomposed back into per-story results.
	baseline     models.TestingMetrics
	testsByStory map[string]models.TestingMetrics
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{testsByStory: make(map[string]models.TestingMetrics)}
}

// Apply folds one event into the metrics.
func (a *Aggregator) Apply(e bus.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev := e.(type) {
	case bus.ToolUse:
		a.build.ToolCalls++
	case bus.FileChanged:
		switch ev.Action {
		case bus.FileWrite:
			a.build.FilesCreated++
		case bus.FileEdit:
			a.build.FilesModified++
		case bus.FileDelete:
			a.build.FilesDeleted++
		}
	case bus.CommandStart:
		a.build.CommandsRun++
	case bus.TestResults:
		a.testsByStory[ev.StoryID] = models.TestingMetrics{
			TotalTests:  ev.TotalTests,
			PassedTests: ev.PassedTests,
			FailedTests: ev.FailedTests,
			Coverage:    ev.Coverage,
		}
	case bus.SecurityReport:
		a.security = models.SecurityMetrics{
			Score:     ev.Score,
			Findings:  ev.Findings,
			Breakdown: ev.Breakdown,
		}
	}
}

// Snapshot returns the folded metrics.
func (a *Aggregator) Snapshot() models.SessionMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	testing := a.baseline
	var coverageSum float64
	var covered int
	for _, t := range a.testsByStory {
		testing.TotalTests += t.TotalTests
		testing.PassedTests += t.PassedTests
		testing.FailedTests += t.FailedTests
		if t.Coverage > 0 {
			coverageSum += t.Coverage
			covered++
		}
	}
	if covered > 0 {
		testing.Coverage = coverageSum / float64(covered)
	}

	return models.SessionMetrics{
		Build:    a.build,
		Testing:  testing,
		Security: a.security,
	}
}

// Restore seeds the aggregator from persisted metrics on resume.
func (a *Aggregator) Restore(m models.SessionMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.build = m.Build
	a.security = m.Security
	a.baseline = m.Testing
	a.testsByStory = make(map[string]models.TestingMetrics)
}
