package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// OpenAIClient implements Completer against OpenAI-compatible chat APIs
// (DeepSeek, Qwen/DashScope compatible mode, OpenAI itself).
type OpenAIClient struct {
	endpoint   string
	model      string
	apiKey     string
	retry      RetryPolicy
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Completer = (*OpenAIClient)(nil)

// OpenAIConfig carries everything needed to reach a compatible endpoint.
type OpenAIConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
	Retry   RetryPolicy
}

// NewOpenAIClient builds a client from configuration.
func NewOpenAIClient(cfg OpenAIConfig, log *zap.Logger) *OpenAIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OpenAIClient{
		endpoint: strings.TrimSuffix(cfg.BaseURL, "/") + "/chat/completions",
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		retry:    cfg.Retry,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log,
	}
}

// Model returns the configured model identifier.
func (c *OpenAIClient) Model() string {
	return c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int64             `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete posts the exchange and returns the first choice's content.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return "", eris.New("openai client misconfigured")
	}

	payload := chatRequest{
		Model:       c.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.User})
	if req.JSONMode {
		payload.ResponseFormat = map[string]string{"type": "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", eris.Wrap(err, "marshal chat payload")
	}

	return c.retry.run(ctx, c.logger, func() (string, error) {
		return c.post(ctx, body)
	})
}

func (c *OpenAIClient) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(eris.Wrap(err, "new request"))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "send completion")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		statusErr := eris.Errorf("completion error %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
		if permanentStatus(resp.StatusCode) {
			return "", backoff.Permanent(statusErr)
		}
		return "", statusErr
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", backoff.Permanent(eris.Wrap(err, "decode completion"))
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", backoff.Permanent(ErrEmptyResponse)
	}

	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}
