package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestOpenAI(url string, attempts int) *OpenAIClient {
	return NewOpenAIClient(OpenAIConfig{
		BaseURL: url,
		Model:   "deepseek-chat",
		APIKey:  "test-key",
		Retry:   RetryPolicy{Attempts: attempts},
	}, zap.NewNop())
}

func writeChoice(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
}

func TestOpenAIClient_Complete(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "deepseek-chat", body.Model)
		assert.InDelta(t, 0.1, body.Temperature, 1e-9)
		assert.Equal(t, "json_object", body.ResponseFormat["type"])
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "user", body.Messages[1].Role)

		writeChoice(w, ` {"relevant": true} `)
	}))
	defer ts.Close()

	client := newTestOpenAI(ts.URL, 1)
	out, err := client.Complete(context.Background(), Request{
		System:      "sys",
		User:        "usr",
		Temperature: 0.1,
		JSONMode:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"relevant": true}`, out)
	assert.Equal(t, "deepseek-chat", client.Model())
}

func TestOpenAIClient_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeChoice(w, "ok")
	}))
	defer ts.Close()

	out, err := newTestOpenAI(ts.URL, 3).Complete(context.Background(), Request{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIClient_GivesUpAfterAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := newTestOpenAI(ts.URL, 2).Complete(context.Background(), Request{User: "hi"})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIClient_ClientErrorIsPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer ts.Close()

	_, err := newTestOpenAI(ts.URL, 3).Complete(context.Background(), Request{User: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer ts.Close()

	_, err := newTestOpenAI(ts.URL, 3).Complete(context.Background(), Request{User: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyResponse))
}

func TestOpenAIClient_Misconfigured(t *testing.T) {
	t.Parallel()

	client := NewOpenAIClient(OpenAIConfig{BaseURL: "http://localhost", Model: "m"}, nil)
	_, err := client.Complete(context.Background(), Request{User: "hi"})
	require.Error(t, err)
}
