package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func completionBody(t *testing.T, content string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	require.NoError(t, err)
	return body
}

func TestIsConfigured(t *testing.T) {
	logger := zap.NewNop()

	assert.False(t, NewHTTPClient("", "", "", logger).IsConfigured())
	assert.False(t, NewHTTPClient("http://localhost", "key", "", logger).IsConfigured())
	assert.False(t, NewHTTPClient("", "key", "gpt-4o-mini", logger).IsConfigured())
	assert.True(t, NewHTTPClient("http://localhost", "", "gpt-4o-mini", logger).IsConfigured())
}

func TestChatCompletionUnconfigured(t *testing.T) {
	client := NewHTTPClient("", "", "", zap.NewNop())
	_, err := client.ChatCompletion(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, 100, 0.7)
	require.Error(t, err)
}

func TestChatCompletionSuccess(t *testing.T) {
	var gotReq chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write(completionBody(t, "Hallo zurück!"))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "test-key", "gpt-4o-mini", zap.NewNop())
	content, err := client.ChatCompletion(context.Background(), []ChatMessage{
		{Role: "system", Content: "Sei freundlich."},
		{Role: "user", Content: "Hallo"},
	}, 200, 0.7)

	require.NoError(t, err)
	assert.Equal(t, "Hallo zurück!", content)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	assert.Equal(t, 200, gotReq.MaxTokens)
	assert.InDelta(t, 0.7, gotReq.Temperature, 0.001)
	require.Len(t, gotReq.Messages, 2)
}

func TestChatCompletionRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(completionBody(t, "geschafft"))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", "gpt-4o-mini", zap.NewNop())
	content, err := client.ChatCompletion(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, 100, 0.5)

	require.NoError(t, err)
	assert.Equal(t, "geschafft", content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChatCompletionFailsFastOnBadRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", "gpt-4o-mini", zap.NewNop())
	_, err := client.ChatCompletion(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, 100, 0.5)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatCompletionExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", "gpt-4o-mini", zap.NewNop())
	_, err := client.ChatCompletion(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, 100, 0.5)

	require.Error(t, err)
	assert.Equal(t, int32(maxAttempts), calls.Load())
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestChatCompletionEmptyChoicesNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", "gpt-4o-mini", zap.NewNop())
	_, err := client.ChatCompletion(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, 100, 0.5)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&statusError{status: 500}))
	assert.True(t, retryable(&statusError{status: 503}))
	assert.True(t, retryable(&statusError{status: 429}))
	assert.False(t, retryable(&statusError{status: 400}))
	assert.False(t, retryable(&statusError{status: 401}))
	assert.True(t, retryable(&transportError{err: context.DeadlineExceeded}))
	assert.True(t, retryable(context.DeadlineExceeded))
	assert.False(t, retryable(assert.AnError))
}

func TestFallbacks(t *testing.T) {
	client := NewHTTPClient("", "", "", zap.NewNop())

	assert.Equal(t, fallbackWelcomeFirst, client.FallbackWelcome(true))
	assert.Equal(t, fallbackWelcomeReturning, client.FallbackWelcome(false))
	assert.Equal(t, fallbackSummaryText, client.FallbackSummary())
	assert.Contains(t, fallbackResponses, client.FallbackTurnResponse())
}
