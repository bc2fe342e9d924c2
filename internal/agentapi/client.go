// Package agentapi implements the agent service boundary directly against
// the Anthropic API, as an alternative to driving an external CLI.
package agentapi

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// ClientConfig selects the transport and model for API-backed agents.
type ClientConfig struct {
	// Model is the model identifier; empty selects a default.
	Model anthropic.Model
	// APIKey overrides the ANTHROPIC_API_KEY environment variable.
	APIKey string
	// UseBedrock routes requests through AWS Bedrock instead of the
	// direct API.
	UseBedrock bool
	// AWSRegion is the Bedrock region, e.g. "us-west-2".
	AWSRegion string
	// AWSProfile is an optional shared-config profile name.
	AWSProfile string
}

// Client wraps the Anthropic SDK client with usage tracking shared across
// all invocations it serves.
type Client struct {
	inner anthropic.Client
	model anthropic.Model
	usage *UsageTracker
}

// NewClient builds a Client for the direct API or Bedrock.
func NewClient(cfg ClientConfig) (*Client, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseBedrock {
		model = bedrockModel(model)
	}

	return &Client{
		inner: anthropic.NewClient(opts...),
		model: model,
		usage: &UsageTracker{},
	}, nil
}

// bedrockModel maps a direct-API model name to its cross-region Bedrock
// inference profile. Unknown names pass through unchanged.
func bedrockModel(model anthropic.Model) anthropic.Model {
	profiles := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if p, ok := profiles[model]; ok {
		return anthropic.Model(p)
	}
	return model
}

// Model returns the configured model name.
func (c *Client) Model() anthropic.Model { return c.model }

// Usage returns the shared usage tracker.
func (c *Client) Usage() *UsageTracker { return c.usage }

// UsageTracker accumulates token usage across API calls.
type UsageTracker struct {
	mu     sync.Mutex
	input  int64
	output int64
	calls  int
}

// Add records usage from one API call.
func (u *UsageTracker) Add(input, output int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.input += input
	u.output += output
	u.calls++
}

// Totals returns accumulated input and output tokens.
func (u *UsageTracker) Totals() (input, output int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.input, u.output
}

// Calls returns the number of API calls recorded.
func (u *UsageTracker) Calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}
