package llm

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const defaultAnthropicMaxTokens = 2048

// AnthropicClient implements Completer with the official SDK.
type AnthropicClient struct {
	client sdk.Client
	model  string
	retry  RetryPolicy
	logger *zap.Logger
}

var _ Completer = (*AnthropicClient)(nil)

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Retry   RetryPolicy
}

// NewAnthropicClient creates a client backed by the SDK. SDK-level retries are
// disabled so that RetryPolicy is the only retry loop.
func NewAnthropicClient(cfg AnthropicConfig, log *zap.Logger) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AnthropicClient{
		client: sdk.NewClient(opts...),
		model:  cfg.Model,
		retry:  cfg.Retry,
		logger: log,
	}
}

// Model returns the configured model identifier.
func (c *AnthropicClient) Model() string {
	return c.model
}

// Complete sends one message and concatenates the text blocks of the reply.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   maxTokens,
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.User))},
		Temperature: sdk.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	return c.retry.run(ctx, c.logger, func() (string, error) {
		msg, err := c.client.Messages.New(ctx, params)
		if err != nil {
			wrapped := eris.Wrap(err, "anthropic: create message")
			var apiErr *sdk.Error
			if errors.As(err, &apiErr) && permanentStatus(apiErr.StatusCode) {
				return "", backoff.Permanent(wrapped)
			}
			return "", wrapped
		}

		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			return "", backoff.Permanent(ErrEmptyResponse)
		}
		return text, nil
	})
}
