// Package llmproxy provides streaming completion clients: an HTTP client
// for any OpenAI-compatible endpoint and an offline mock used when no
// endpoint is configured.
package llmproxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tangmingchang/edustream/internal/port/llm"
	"github.com/tangmingchang/edustream/internal/resilience"
)

const donePayload = "[DONE]"

// Client streams chat completions from an OpenAI-compatible proxy.
type Client struct {
	baseURL    string
	apiKey     string
	keySource  func() string
	redactor   func(string) string
	model      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var _ llm.Provider = (*Client)(nil)

// NewClient creates a completion client for the given endpoint and model.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			// No overall timeout: completions stream for as long as the
			// model generates. Cancellation comes from ctx.
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing completion calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// SetKeySource installs a callback consulted for the API key on every
// request, letting a rotated key take effect without rebuilding the
// client. A non-empty result overrides the constructor key.
func (c *Client) SetKeySource(fn func() string) {
	c.keySource = fn
}

// SetRedactor installs a scrubber applied to upstream error bodies before
// they reach errors and logs. Upstream proxies have been seen echoing the
// Authorization value back in 401 bodies.
func (c *Client) SetRedactor(fn func(string) string) {
	c.redactor = fn
}

func (c *Client) redact(s string) string {
	if c.redactor != nil {
		return c.redactor(s)
	}
	return s
}

func (c *Client) key() string {
	if c.keySource != nil {
		if k := c.keySource(); k != "" {
			return k
		}
	}
	return c.apiKey
}

type completionRequest struct {
	Model    string            `json:"model"`
	Messages []llm.ChatMessage `json:"messages"`
	Stream   bool              `json:"stream"`
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// StreamCompletion requests a streamed completion and delivers each content
// delta through fn in arrival order.
func (c *Client) StreamCompletion(ctx context.Context, messages []llm.ChatMessage, fn llm.TokenFunc) error {
	call := func() error {
		return c.stream(ctx, messages, fn)
	}
	if c.breaker != nil {
		return c.breaker.Execute(call)
	}
	return call()
}

func (c *Client) stream(ctx context.Context, messages []llm.ChatMessage, fn llm.TokenFunc) error {
	body, err := json.Marshal(completionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if key := c.key(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("completion request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var errBody bytes.Buffer
		_, _ = errBody.ReadFrom(bufio.NewReader(resp.Body))
		return fmt.Errorf("completion API error %d: %s", resp.StatusCode, c.redact(strings.TrimSpace(errBody.String())))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == donePayload {
			return nil
		}

		var chunk completionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return fmt.Errorf("decode completion chunk: %w", err)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := fn(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read completion stream: %w", err)
	}
	// The stream ended without a [DONE] marker. Some proxies just close
	// the body, so treat EOF as completion.
	return nil
}

// Health probes the proxy's model listing endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if key := c.key(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("health check status %d", resp.StatusCode)
	}
	return nil
}
