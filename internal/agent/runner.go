package agent

import (
	"context"
	"fmt"
	"time"
)

// Result is the guaranteed terminal outcome of a Run. Exactly one of two
// shapes occurs: the agent reported completion (Err nil, Success set from the
// agent's self-report) or the transport failed after retries (Err non-nil).
type Result struct {
	Success bool
	Summary string
	Tests   *TestResult
	Err     error
}

// Runner drives one agent invocation to a terminal result. Transport errors
// (process spawn failure, abnormal exit, timeout) are retried with
// exponential backoff; agent-reported failures are not retried here, they
// are surfaced for the scheduler's own retry policy.
type Runner struct {
	service Service

	// maxAttempts bounds transport retries per Run.
	maxAttempts int
	// baseBackoff is the first retry delay; it doubles per attempt.
	baseBackoff time.Duration
	// timeout is the wall-clock budget per attempt. Zero means unbounded.
	timeout time.Duration

	sleep func(time.Duration)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMaxAttempts sets the number of transport attempts per invocation.
func WithMaxAttempts(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithBackoff sets the initial retry delay.
func WithBackoff(d time.Duration) RunnerOption {
	return func(r *Runner) { r.baseBackoff = d }
}

// WithTimeout sets the wall-clock budget per attempt.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

// NewRunner creates a Runner over the given agent service.
func NewRunner(service Service, opts ...RunnerOption) *Runner {
	r := &Runner{
		service:     service,
		maxAttempts: 3,
		baseBackoff: 2 * time.Second,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the invocation and always returns a terminal Result. Every
// normalized message is forwarded to onMessage before Run returns; onMessage
// may be nil.
func (r *Runner) Run(ctx context.Context, inv Invocation, onMessage func(Message)) Result {
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return Result{Err: ctx.Err()}
		}

		res, transportErr := r.attempt(ctx, inv, onMessage)
		if transportErr == nil {
			return res
		}
		lastErr = transportErr

		if attempt < r.maxAttempts {
			delay := r.baseBackoff << (attempt - 1)
			r.sleep(delay)
		}
	}

	return Result{Err: fmt.Errorf("agent transport failed after %d attempts: %w", r.maxAttempts, lastErr)}
}

// attempt runs the invocation once. A nil transport error means the returned
// Result is terminal; a non-nil one means the attempt should be retried.
func (r *Runner) attempt(ctx context.Context, inv Invocation, onMessage func(Message)) (Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	stream, err := r.service.Start(ctx, inv)
	if err != nil {
		return Result{}, err
	}

	var (
		terminal  *Message
		lastTests *TestResult
	)
	for msg := range stream.Messages() {
		if onMessage != nil {
			onMessage(msg)
		}
		if msg.Type == MessageTestResult && msg.TestResult != nil {
			lastTests = msg.TestResult
		}
		if msg.Terminal() {
			m := msg
			terminal = &m
		}
	}

	waitErr := stream.Wait()

	switch {
	case terminal != nil && terminal.Type == MessageComplete:
		return Result{Success: terminal.Success, Summary: terminal.Summary, Tests: lastTests}, nil
	case terminal != nil:
		// Agent reported an error; that is a definitive failure, not a
		// transport problem.
		return Result{Success: false, Summary: terminal.Error, Tests: lastTests}, nil
	case waitErr != nil:
		return Result{}, waitErr
	case ctx.Err() != nil:
		return Result{}, ctx.Err()
	default:
		return Result{}, fmt.Errorf("agent stream ended without a completion message")
	}
}
