package agent

import (
	"context"

	"github.com/mbranton/hive/pkg/models"
)

// Invocation describes one agent run against one story.
type Invocation struct {
	// Role selects the agent persona (coder, tester, ...).
	Role models.Role
	// SystemPrompt is the role's standing instructions.
	SystemPrompt string
	// Task is the story description and acceptance criteria.
	Task string
	// WorkDir is the project directory the agent operates in.
	WorkDir string
	// MaxTurns bounds the number of tool-use turns before the invocation
	// is cut off.
	MaxTurns int
}

// Stream is a live agent invocation's output. The messages channel closes
// when the invocation ends; Wait reports how the underlying transport
// finished.
type Stream interface {
	// Messages returns the normalized message channel.
	Messages() <-chan Message
	// Wait blocks until the invocation finishes and returns any transport
	// error. A non-nil error indicates an abnormal termination, distinct
	// from the agent reporting failure via a complete message.
	Wait() error
	// Kill terminates the invocation immediately.
	Kill() error
}

// Service starts agent invocations. Implementations wrap the external agent
// boundary: a subprocess CLI or a direct model API.
type Service interface {
	Start(ctx context.Context, inv Invocation) (Stream, error)
}
