// Package llm contains the chat-completion backends the relevance classifier
// talks to. Every backend returns the raw text of the first completion; parsing
// is left to the caller.
package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// ErrEmptyResponse is returned when a backend answers without any text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Request is a single system+user exchange.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int64
	// JSONMode asks the provider to force a JSON object reply where supported.
	JSONMode bool
}

// Completer is implemented by every provider backend.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Model() string
}

// RetryPolicy bounds transport retries with a fixed delay between attempts.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy is three attempts, two seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 2 * time.Second}
}

func (p RetryPolicy) run(ctx context.Context, log *zap.Logger, op func() (string, error)) (string, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("retrying completion", zap.Error(err), zap.Duration("next", next))
		}),
	)
}

// permanentStatus reports whether an HTTP status should not be retried.
func permanentStatus(code int) bool {
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		return false
	}
	return code >= http.StatusBadRequest && code < http.StatusInternalServerError
}
