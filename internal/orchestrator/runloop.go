package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbranton/hive/internal/agent"
	"github.com/mbranton/hive/internal/bus"
	"github.com/mbranton/hive/internal/config"
	"github.com/mbranton/hive/pkg/models"
)

// RunOptions binds a run to its agent transport and role definitions.
type RunOptions struct {
	// Requirements is the free-form build request. Ignored when a resumed
	// backlog already defines the work.
	Requirements string
	// Service is the agent transport (CLI subprocess or direct API).
	Service agent.Service
	// Roles holds the system prompts and turn budgets per role.
	Roles config.Roles
	// StoryTimeout bounds one invocation attempt. Zero means unbounded.
	StoryTimeout time.Duration
	// RetryAttempts bounds transport retries per invocation.
	RetryAttempts int
	// RetryBackoff is the initial transport retry delay.
	RetryBackoff time.Duration
	// Security runs a security audit after the build phase.
	Security bool

	// tickInterval paces the scheduling loop. Tests shorten it.
	tickInterval time.Duration
	// stopGrace is how long a stop waits for in-flight runners to finish
	// before cancelling them. Tests shorten it.
	stopGrace time.Duration
}

// runDone carries one finished agent run back to the scheduling loop.
type runDone struct {
	role       models.Role
	storyID    string
	instanceID string
	res        agent.Result
}

// RunParallel drives the session to completion: plan the backlog if it is
// empty, then work it with bounded coder and tester pools, then optionally
// audit. It blocks until the session reaches a terminal state or a stop
// signal lands. State is checkpointed after every mutation, so a crash or a
// stop at any point leaves the session resumable.
func (s *Session) RunParallel(ctx context.Context, opts RunOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	if opts.Roles == nil {
		opts.Roles = config.DefaultRoles()
	}
	if opts.tickInterval <= 0 {
		opts.tickInterval = 200 * time.Millisecond
	}
	if opts.stopGrace <= 0 {
		opts.stopGrace = 5 * time.Second
	}

	signals, err := NewSignalWatcher(s.ProjectDir)
	if err != nil {
		return fmt.Errorf("signal watcher: %w", err)
	}
	defer signals.Close()
	signals.Clear()

	runner := agent.NewRunner(opts.Service,
		agent.WithMaxAttempts(opts.RetryAttempts),
		agent.WithBackoff(opts.RetryBackoff),
		agent.WithTimeout(opts.StoryTimeout),
	)

	if err := s.plan(ctx, runner, opts); err != nil {
		s.fail(err)
		return err
	}

	stopped, err := s.buildPhase(ctx, runner, opts, signals)
	if err != nil {
		s.fail(err)
		return err
	}
	if stopped {
		s.logger.Log("stopped by signal, state checkpointed for resume")
		s.setPhase(PhaseIdle)
		return nil
	}

	if opts.Security {
		s.setPhase(PhaseSecurity)
		s.audit(ctx, runner, opts)
	}

	counts := s.Backlog.Counts()
	skipped := s.Backlog.Skipped()
	for _, st := range skipped {
		s.logger.Log("story %s skipped: blocked by failed dependency", st.ID)
	}
	summary := models.BuildSummary{
		Completed: counts[models.StoryStatusCompleted],
		Failed:    counts[models.StoryStatusFailed],
		Skipped:   len(skipped),
	}

	s.setPhase(PhaseComplete)
	s.emit(bus.SessionComplete{Stamp: bus.Now(), ProjectID: s.ProjectID, Summary: summary})
	s.checkpoint()
	return nil
}

func (s *Session) fail(err error) {
	s.setPhase(PhaseFailed)
	s.emit(bus.SessionError{Stamp: bus.Now(), ProjectID: s.ProjectID, Error: err.Error()})
	s.checkpoint()
}

// plan runs the product owner against the requirements and loads the
// resulting decomposition. A non-empty backlog (a resumed session) skips
// planning entirely: the persisted backlog is the work list.
func (s *Session) plan(ctx context.Context, runner *agent.Runner, opts RunOptions) error {
	if s.Backlog.Total() > 0 {
		s.logger.Log("backlog already holds %d stories, skipping planning", s.Backlog.Total())
		return nil
	}
	if strings.TrimSpace(opts.Requirements) == "" {
		return fmt.Errorf("nothing to do: no requirements and no existing backlog")
	}

	s.setPhase(PhasePlanning)
	def := opts.Roles.Get(models.RoleProductOwner)
	instanceID := models.InstanceID(models.RoleProductOwner, 1)
	s.setAgent(instanceID, models.RoleProductOwner, models.AgentWorking, "")

	res := runner.Run(ctx, agent.Invocation{
		Role:         models.RoleProductOwner,
		SystemPrompt: def.SystemPrompt,
		Task:         planningTask(opts.Requirements, s.Config.ExistingProject),
		WorkDir:      s.ProjectDir,
		MaxTurns:     def.MaxTurns,
	}, func(msg agent.Message) {
		s.handleAgentMessage(instanceID, "", msg)
	})

	if res.Err != nil {
		s.setAgent(instanceID, models.RoleProductOwner, models.AgentFailed, "")
		return fmt.Errorf("planning: %w", res.Err)
	}
	if !res.Success {
		s.setAgent(instanceID, models.RoleProductOwner, models.AgentFailed, "")
		return fmt.Errorf("planning failed: %s", res.Summary)
	}

	doc, err := parsePlan(res.Summary)
	if err != nil {
		s.setAgent(instanceID, models.RoleProductOwner, models.AgentFailed, "")
		return err
	}
	if err := s.applyPlan(doc); err != nil {
		s.setAgent(instanceID, models.RoleProductOwner, models.AgentFailed, "")
		return fmt.Errorf("apply plan: %w", err)
	}

	s.setAgent(instanceID, models.RoleProductOwner, models.AgentCompleted, "")
	s.logger.Log("planned %d stories across %d epics", s.Backlog.Total(), len(s.Backlog.Epics()))
	s.checkpoint()
	return nil
}

// buildPhase works the backlog with the coder and tester pools until no
// story can make further progress. It reports stopped=true when a stop
// signal or context cancellation ended the phase early.
func (s *Session) buildPhase(ctx context.Context, runner *agent.Runner, opts RunOptions, signals *SignalWatcher) (bool, error) {
	s.setPhase(PhaseBuilding)

	handOff := s.Config.ParallelTesters > 0
	coders := newPoolScheduler(models.RoleCoder, s.Config.ParallelCoders, s.Backlog, s.Config.RetryLimit)
	var testers *PoolScheduler
	if handOff {
		testers = newPoolScheduler(models.RoleTester, s.Config.ParallelTesters, s.Backlog, s.Config.RetryLimit)
	}

	// The done channel is buffered for every slot, so a runner goroutine can
	// always deliver its result even while the loop is dispatching.
	capacity := s.Config.ParallelCoders + s.Config.ParallelTesters
	done := make(chan runDone, capacity)
	inFlight := 0
	foundationAnnounced := s.Backlog.FoundationDone()

	tick := time.NewTicker(opts.tickInterval)
	defer tick.Stop()

	drain := func() {
		for inFlight > 0 {
			d := <-done
			inFlight--
			s.setAgent(d.instanceID, d.role, models.AgentIdle, "")
		}
	}

	poolFor := func(role models.Role) *PoolScheduler {
		if role == models.RoleTester {
			return testers
		}
		return coders
	}

	// stopDrain winds the phase down after a stop: runners get a grace
	// window to finish, and whatever completes inside it is settled
	// normally. After the window the remaining runners are cancelled and
	// their stories return to the queue without consuming a retry.
	stopDrain := func() {
		grace := time.NewTimer(opts.stopGrace)
		defer grace.Stop()
		for inFlight > 0 {
			select {
			case d := <-done:
				inFlight--
				if d.res.Err != nil && errors.Is(d.res.Err, context.Canceled) {
					if err := poolFor(d.role).Interrupt(d.storyID); err != nil {
						s.logger.Log("interrupt story %s: %v", d.storyID, err)
					}
					s.setAgent(d.instanceID, d.role, models.AgentIdle, "")
					if st := s.Backlog.Story(d.storyID); st != nil {
						s.emit(bus.TaskUpdated{Stamp: bus.Now(), ID: st.ID, Title: st.Title, Status: models.StoryStatusPending})
					}
					continue
				}
				if err := s.settle(poolFor(d.role), d, handOff, &foundationAnnounced); err != nil {
					s.logger.Log("settle during stop: %v", err)
				}
			case <-grace.C:
				s.logger.Log("stop grace expired, cancelling %d in-flight runners", inFlight)
				s.mu.RLock()
				cancel := s.cancel
				s.mu.RUnlock()
				cancel()
			}
		}
		s.checkpoint()
	}

	for {
		if ctx.Err() != nil {
			stopDrain()
			return true, nil
		}
		if signals.ShouldStop() {
			s.logger.Log("stop signal received")
			stopDrain()
			return true, nil
		}

		paused := signals.ShouldPause()
		dispatched := 0
		if !paused {
			pools := []*PoolScheduler{coders}
			if testers != nil {
				pools = append(pools, testers)
			}
			for _, pool := range pools {
				asgs, err := pool.Tick()
				if err != nil {
					drain()
					return false, err
				}
				for _, a := range asgs {
					s.launch(ctx, runner, opts, pool.role, a, done)
					inFlight++
					dispatched++
				}
			}
		}

		if inFlight == 0 {
			if !s.Backlog.Remaining() {
				return false, nil
			}
			if !paused && dispatched == 0 {
				if f := s.Backlog.FoundationID(); f != "" && !s.Backlog.FoundationDone() {
					if fs := s.Backlog.Story(f); fs != nil && fs.Status == models.StoryStatusFailed {
						return false, fmt.Errorf("foundation story %s failed, build cannot proceed", f)
					}
				}
				return false, invariantf("backlog has live stories but nothing is dispatchable or running")
			}
		}

		select {
		case d := <-done:
			inFlight--
			if err := s.settle(poolFor(d.role), d, handOff, &foundationAnnounced); err != nil {
				drain()
				return false, err
			}
		case <-tick.C:
		case <-ctx.Done():
		}
	}
}

// launch binds an assignment to a runner goroutine and announces the pickup.
func (s *Session) launch(ctx context.Context, runner *agent.Runner, opts RunOptions, role models.Role, a assignment, done chan<- runDone) {
	story := a.story
	s.setAgent(a.instanceID, role, models.AgentWorking, story.ID)

	if role == models.RoleTester {
		s.emit(bus.StoryTesting{Stamp: bus.Now(), StoryID: story.ID, StoryTitle: story.Title, AgentID: a.instanceID})
	} else {
		s.emit(bus.StoryStarted{Stamp: bus.Now(), StoryID: story.ID, StoryTitle: story.Title, AgentID: a.instanceID})
	}
	s.emit(bus.TaskUpdated{Stamp: bus.Now(), ID: story.ID, Title: story.Title, Status: role.WorkingStatus()})
	s.checkpoint()

	def := opts.Roles.Get(role)
	inv := agent.Invocation{
		Role:         role,
		SystemPrompt: def.SystemPrompt,
		Task:         storyTask(story, role),
		WorkDir:      s.ProjectDir,
		MaxTurns:     def.MaxTurns,
	}
	instanceID := a.instanceID
	storyID := story.ID

	go func() {
		res := runner.Run(ctx, inv, func(msg agent.Message) {
			s.handleAgentMessage(instanceID, storyID, msg)
		})
		done <- runDone{role: role, storyID: storyID, instanceID: instanceID, res: res}
	}()
}

// settle applies one finished run to the backlog and emits the outcome.
func (s *Session) settle(pool *PoolScheduler, d runDone, handOff bool, foundationAnnounced *bool) error {
	success := d.res.Err == nil && d.res.Success
	summary := d.res.Summary
	if d.res.Err != nil {
		summary = d.res.Err.Error()
	}

	comp, err := pool.Complete(d.storyID, success, summary, handOff)
	if err != nil {
		return err
	}
	story := comp.story

	switch comp.kind {
	case completionCoded:
		s.setAgent(d.instanceID, d.role, models.AgentCompleted, "")
		s.emit(bus.TaskUpdated{Stamp: bus.Now(), ID: story.ID, Title: story.Title, Status: models.StoryStatusPending})
		s.logger.Log("story %s coded by %s, awaiting test", story.ID, d.instanceID)

	case completionDone:
		s.setAgent(d.instanceID, d.role, models.AgentCompleted, "")
		s.emit(bus.StoryCompleted{Stamp: bus.Now(), StoryID: story.ID, StoryTitle: story.Title, Success: true})
		s.emit(bus.TaskUpdated{Stamp: bus.Now(), ID: story.ID, Title: story.Title, Status: models.StoryStatusCompleted})
		if story.Foundation && !*foundationAnnounced {
			*foundationAnnounced = true
			s.emit(bus.FoundationComplete{Stamp: bus.Now()})
			s.logger.Log("foundation story %s complete, fan-out enabled", story.ID)
		}

	case completionRequeued:
		s.setAgent(d.instanceID, d.role, models.AgentFailed, "")
		s.emit(bus.TaskUpdated{Stamp: bus.Now(), ID: story.ID, Title: story.Title, Status: models.StoryStatusPending})
		s.logger.Log("story %s requeued, retry %d: %s", story.ID, comp.retry, summary)

	case completionFailed:
		s.setAgent(d.instanceID, d.role, models.AgentFailed, "")
		s.emit(bus.StoryFailed{Stamp: bus.Now(), StoryID: story.ID, StoryTitle: story.Title, Error: summary})
		s.emit(bus.TaskUpdated{Stamp: bus.Now(), ID: story.ID, Title: story.Title, Status: models.StoryStatusFailed})
		s.logger.Log("story %s failed permanently: %s", story.ID, summary)
	}

	s.checkpoint()
	return nil
}

// audit runs the security role against the finished build. An audit failure
// is logged but never fails the session.
func (s *Session) audit(ctx context.Context, runner *agent.Runner, opts RunOptions) {
	def := opts.Roles.Get(models.RoleSecurity)
	instanceID := models.InstanceID(models.RoleSecurity, 1)
	s.setAgent(instanceID, models.RoleSecurity, models.AgentWorking, "")

	res := runner.Run(ctx, agent.Invocation{
		Role:         models.RoleSecurity,
		SystemPrompt: def.SystemPrompt,
		Task: "Audit the project in the working directory for security issues. " +
			"Respond with a JSON object: " +
			`{"score":0-100,"findings":N,"breakdown":{"category":count}}`,
		WorkDir:  s.ProjectDir,
		MaxTurns: def.MaxTurns,
	}, func(msg agent.Message) {
		s.handleAgentMessage(instanceID, "", msg)
	})

	if res.Err != nil {
		s.setAgent(instanceID, models.RoleSecurity, models.AgentFailed, "")
		s.logger.Log("security audit transport failure: %v", res.Err)
		return
	}

	report, err := parseSecurityReport(res.Summary)
	if err != nil {
		s.setAgent(instanceID, models.RoleSecurity, models.AgentFailed, "")
		s.logger.Log("security audit produced no report: %v", err)
		return
	}

	s.setAgent(instanceID, models.RoleSecurity, models.AgentCompleted, "")
	s.emit(bus.SecurityReport{Stamp: bus.Now(), Score: report.Score, Findings: report.Findings, Breakdown: report.Breakdown})
	s.checkpoint()
}

type securityReport struct {
	Score     int            `json:"score"`
	Findings  int            `json:"findings"`
	Breakdown map[string]int `json:"breakdown,omitempty"`
}

func parseSecurityReport(summary string) (*securityReport, error) {
	start := strings.Index(summary, "{")
	end := strings.LastIndex(summary, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in audit output")
	}
	var r securityReport
	if err := json.Unmarshal([]byte(summary[start:end+1]), &r); err != nil {
		return nil, fmt.Errorf("parse audit report: %w", err)
	}
	return &r, nil
}

func planningTask(requirements string, existingProject bool) string {
	var b strings.Builder
	b.WriteString("Decompose the following requirements into epics and stories.\n\n")
	b.WriteString("Requirements:\n")
	b.WriteString(requirements)
	b.WriteString("\n\n")
	if existingProject {
		b.WriteString("The working directory already contains a project. Inspect it and plan incremental work against the existing code.\n\n")
	}
	b.WriteString("Respond with a single JSON object of this shape:\n")
	b.WriteString(`{"epics":[{"id":"epic-1","title":"...","description":"...","priority":"high",` +
		`"stories":[{"id":"story-1","title":"...","description":"...",` +
		`"acceptance_criteria":["..."],"story_points":3,"priority":"high",` +
		`"depends_on":[],"foundation":true}]}]}`)
	b.WriteString("\nMark exactly one story as the foundation; it must have no dependencies. ")
	b.WriteString("Every other story may depend only on stories defined in the plan.")
	return b.String()
}

// storyTask renders the story into the task text an agent receives.
func storyTask(st *models.Story, role models.Role) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Story %s: %s\n", st.ID, st.Title)
	if st.Description != "" {
		b.WriteString("\n")
		b.WriteString(st.Description)
		b.WriteString("\n")
	}
	if len(st.AcceptanceCriteria) > 0 {
		b.WriteString("\nAcceptance criteria:\n")
		for _, ac := range st.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", ac)
		}
	}
	if role == models.RoleTester {
		b.WriteString("\nThe implementation for this story is complete. Verify it against the acceptance criteria and report structured test results.\n")
		if st.Result != "" {
			fmt.Fprintf(&b, "Implementer's summary: %s\n", st.Result)
		}
	}
	if st.RetryCount > 0 && st.Error != "" {
		fmt.Fprintf(&b, "\nA previous attempt failed: %s\n", st.Error)
	}
	return b.String()
}
