package agentapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/mbranton/hive/internal/agent"
)

const defaultMaxTurns = 50

// Service implements agent.Service over the Anthropic API. Each invocation
// runs its own tool-use loop against the shared client.
type Service struct {
	client *Client
}

// NewService wraps a Client as an agent service.
func NewService(client *Client) *Service {
	return &Service{client: client}
}

// Start begins the agent loop for one invocation.
func (s *Service) Start(ctx context.Context, inv agent.Invocation) (agent.Stream, error) {
	if s.client == nil {
		return nil, fmt.Errorf("api client not configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	st := &apiStream{
		cancel: cancel,
		out:    make(chan agent.Message, 100),
		done:   make(chan struct{}),
	}

	go st.loop(ctx, s.client, inv)

	return st, nil
}

// apiStream is an agent.Stream backed by the in-process API loop.
type apiStream struct {
	cancel context.CancelFunc
	out    chan agent.Message
	done   chan struct{}

	mu      sync.Mutex
	loopErr error
}

func (s *apiStream) Messages() <-chan agent.Message { return s.out }

func (s *apiStream) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopErr
}

func (s *apiStream) Kill() error {
	s.cancel()
	return nil
}

func (s *apiStream) emit(ctx context.Context, msg agent.Message) {
	select {
	case s.out <- msg:
	case <-ctx.Done():
	}
}

func (s *apiStream) fail(err error) {
	s.mu.Lock()
	s.loopErr = err
	s.mu.Unlock()
}

// loop drives the conversation until the agent reports done, the turn
// budget runs out, or the transport fails. Transport failures are left for
// Wait; the agent's own verdict travels as a complete message.
func (s *apiStream) loop(ctx context.Context, client *Client, inv agent.Invocation) {
	defer close(s.done)
	defer close(s.out)

	exec := &executor{workDir: inv.WorkDir}

	maxTurns := inv.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(inv.Task)),
	}

	for turn := 0; turn < maxTurns; turn++ {
		if ctx.Err() != nil {
			s.fail(ctx.Err())
			return
		}

		resp, err := client.inner.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     client.model,
			MaxTokens: 8192,
			System: []anthropic.TextBlockParam{
				{Text: inv.SystemPrompt},
			},
			Messages: messages,
			Tools:    toolDefinitions(),
		})
		if err != nil {
			s.fail(fmt.Errorf("anthropic api: %w", err))
			return
		}
		client.usage.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

		var (
			assistantBlocks  []anthropic.ContentBlockParamUnion
			toolResultBlocks []anthropic.ContentBlockParamUnion
			finalText        string
		)

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				s.emit(ctx, agent.Message{Type: agent.MessageText, Text: variant.Text})
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))
				finalText += variant.Text

			case anthropic.ToolUseBlock:
				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))

				if done := s.handleControlTool(ctx, variant); done {
					return
				}
				if variant.Name == toolReportTests {
					toolResultBlocks = append(toolResultBlocks,
						anthropic.NewToolResultBlock(variant.ID, "recorded", false))
					continue
				}

				s.emit(ctx, agent.Message{
					Type:      agent.MessageAction,
					Tool:      variant.Name,
					ToolInput: variant.Input,
				})

				res := exec.run(ctx, variant.Name, variant.Input)
				toolResultBlocks = append(toolResultBlocks,
					anthropic.NewToolResultBlock(variant.ID, res.content, res.isError))
			}
		}

		// Without tool calls the model has said its piece; treat the end
		// of turn as an implicit successful completion.
		if resp.StopReason == anthropic.StopReasonEndTurn && len(toolResultBlocks) == 0 {
			s.emit(ctx, agent.Message{
				Type:    agent.MessageComplete,
				Success: true,
				Summary: finalText,
			})
			return
		}

		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		if len(toolResultBlocks) > 0 {
			messages = append(messages, anthropic.NewUserMessage(toolResultBlocks...))
		}
	}

	s.fail(fmt.Errorf("turn budget (%d) exhausted without completion", maxTurns))
}

// handleControlTool processes report_tests and report_done. It returns true
// when the invocation is finished.
func (s *apiStream) handleControlTool(ctx context.Context, block anthropic.ToolUseBlock) bool {
	switch block.Name {
	case toolReportTests:
		var p struct {
			Total    int     `json:"total"`
			Passed   int     `json:"passed"`
			Failed   int     `json:"failed"`
			Coverage float64 `json:"coverage"`
		}
		if err := json.Unmarshal(block.Input, &p); err != nil {
			return false
		}
		s.emit(ctx, agent.Message{
			Type: agent.MessageTestResult,
			TestResult: &agent.TestResult{
				Total:    p.Total,
				Passed:   p.Passed,
				Failed:   p.Failed,
				Coverage: p.Coverage,
			},
		})
		return false

	case toolReportDone:
		var p struct {
			Success bool   `json:"success"`
			Summary string `json:"summary"`
		}
		if err := json.Unmarshal(block.Input, &p); err != nil {
			s.emit(ctx, agent.Message{Type: agent.MessageError, Error: "malformed completion report"})
			return true
		}
		s.emit(ctx, agent.Message{
			Type:    agent.MessageComplete,
			Success: p.Success,
			Summary: p.Summary,
		})
		return true
	}
	return false
}
