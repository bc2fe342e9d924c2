package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// ProcessService runs agents as subprocesses of an external CLI that emits
// newline-delimited JSON on stdout.
type ProcessService struct {
	// Command is the agent CLI binary, e.g. "claude".
	Command string
	// ExtraArgs are appended before the prompt.
	ExtraArgs []string
}

// NewProcessService creates a subprocess-backed Service for the given CLI.
func NewProcessService(command string, extraArgs ...string) *ProcessService {
	return &ProcessService{Command: command, ExtraArgs: extraArgs}
}

// Start launches the agent CLI for one invocation.
func (s *ProcessService) Start(ctx context.Context, inv Invocation) (Stream, error) {
	if s.Command == "" {
		return nil, fmt.Errorf("agent command not configured")
	}

	args := []string{
		"--output-format", "stream-json",
		"--print",
	}
	if inv.SystemPrompt != "" {
		args = append(args, "--system-prompt", inv.SystemPrompt)
	}
	if inv.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(inv.MaxTurns))
	}
	args = append(args, s.ExtraArgs...)
	args = append(args, "-p", inv.Task)

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, s.Command, args...)
	if inv.WorkDir != "" {
		cmd.Dir = inv.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start agent process: %w", err)
	}

	p := &processStream{
		cmd:    cmd,
		cancel: cancel,
		out:    make(chan Message, 100),
		done:   make(chan struct{}),
	}

	go p.readStderr(stderr)
	go p.readStdout(stdout)

	return p, nil
}

// processStream is a Stream backed by a running subprocess.
type processStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc

	out  chan Message
	done chan struct{}

	mu        sync.Mutex
	stderrBuf strings.Builder
	waitErr   error
	waited    bool
}

func (p *processStream) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.mu.Lock()
		p.stderrBuf.WriteString(scanner.Text())
		p.stderrBuf.WriteByte('\n')
		p.mu.Unlock()
	}
}

func (p *processStream) readStdout(r io.Reader) {
	defer close(p.out)
	defer close(p.done)

	for msg := range ParseStream(r) {
		p.out <- msg
	}

	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.waited = true
	if err != nil && p.stderrBuf.Len() > 0 {
		p.waitErr = fmt.Errorf("%w: %s", err, strings.TrimSpace(p.stderrBuf.String()))
	}
	p.mu.Unlock()
}

// Messages returns the normalized message channel.
func (p *processStream) Messages() <-chan Message {
	return p.out
}

// Wait blocks until the process exits and returns its transport error.
func (p *processStream) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Kill terminates the process immediately.
func (p *processStream) Kill() error {
	p.cancel()
	return nil
}
