// Package llm provides the OpenAI-compatible chat client used by the
// conversation engine, including its retry policy and the fixed fallback
// texts served when the model is unreachable or unconfigured.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ChatMessage is one prompt message in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the interface the services consume. The production
// implementation is HTTPClient; tests use MockClient.
type Client interface {
	// IsConfigured reports whether a model endpoint is configured at all.
	IsConfigured() bool
	// ChatCompletion sends messages to the model and returns the assistant
	// text. It retries transient failures internally and returns an error
	// only once the retry policy is exhausted.
	ChatCompletion(ctx context.Context, messages []ChatMessage, maxTokens int, temperature float64) (string, error)
	FallbackWelcome(isFirstSession bool) string
	FallbackTurnResponse() string
	FallbackSummary() string
}

const (
	attemptTimeout = 30 * time.Second
	maxAttempts    = 3
)

var backoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

const (
	fallbackWelcomeFirst = "Hallo! Wie schön, dass Sie da sind. Ich bin Ihre KI-Begleiterin und würde so gerne Ihre Geschichten hören. Erzählen Sie mir doch — was ist Ihre früheste Erinnerung?"

	fallbackWelcomeReturning = "Schön, dass Sie wieder da sind! Ich freue mich, mehr von Ihren Geschichten zu hören. Woran möchten Sie heute anknüpfen?"

	fallbackSummaryText = "Ein schönes Gespräch mit geteilten Erinnerungen und Geschichten aus vergangenen Zeiten."
)

var fallbackResponses = []string{
	"Das klingt wunderbar! Erzählen Sie mir mehr darüber.",
	"Oh, wie interessant! Was ist dann passiert?",
	"Das muss eine besondere Zeit gewesen sein. Können Sie mir noch mehr davon erzählen?",
	"Vielen Dank fürs Teilen! Gibt es noch etwas, das Ihnen dazu einfällt?",
	"Das ist eine schöne Erinnerung. Was hat das für Sie bedeutet?",
}

// HTTPClient talks to an OpenAI-compatible /v1/chat/completions endpoint.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient creates a chat client. An empty baseURL or model leaves the
// client unconfigured; callers then get fallback texts instead of errors.
func NewHTTPClient(baseURL, apiKey, model string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: attemptTimeout,
		},
		logger: logger,
	}
}

func (c *HTTPClient) IsConfigured() bool {
	return c.baseURL != "" && c.model != ""
}

func (c *HTTPClient) FallbackWelcome(isFirstSession bool) string {
	if isFirstSession {
		return fallbackWelcomeFirst
	}
	return fallbackWelcomeReturning
}

func (c *HTTPClient) FallbackTurnResponse() string {
	return fallbackResponses[rand.Intn(len(fallbackResponses))]
}

func (c *HTTPClient) FallbackSummary() string {
	return fallbackSummaryText
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// statusError marks an HTTP-level failure so the retry loop can distinguish
// transient (5xx, 429) from permanent (other 4xx) responses.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("chat completion returned %d: %s", e.status, e.body)
}

// ChatCompletion implements the retry policy: up to 3 attempts with 1s/2s/4s
// backoff on 5xx, 429, timeouts and transport errors. Other 4xx responses
// fail immediately.
func (c *HTTPClient) ChatCompletion(ctx context.Context, messages []ChatMessage, maxTokens int, temperature float64) (string, error) {
	if !c.IsConfigured() {
		return "", errors.New("llm client is not configured")
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff[attempt-1]):
			}
		}

		content, err := c.attempt(ctx, body)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable(err) {
			return "", err
		}
		c.logger.Warn("chat completion attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return "", fmt.Errorf("chat completion failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *HTTPClient) attempt(ctx context.Context, body []byte) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &transportError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}

	var result chatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", errors.New("chat completion returned empty response")
	}
	return result.Choices[0].Message.Content, nil
}

// transportError marks a failure below the HTTP layer (connection refused,
// timeout, reset). Always transient.
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("failed to send request: %v", e.err)
}

func (e *transportError) Unwrap() error {
	return e.err
}

// retryable reports whether an attempt error is transient: 5xx, 429,
// timeouts and transport-level failures retry; other HTTP statuses and
// malformed response bodies do not.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500 || se.status == http.StatusTooManyRequests
	}
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
