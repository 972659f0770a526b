package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUpstream covers any failed or timed-out completion call. Callers treat
// both identically: nothing gets persisted.
var ErrUpstream = errors.New("completion service unavailable")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Observer reports completion call latency; satisfied by the metrics layer.
type Observer interface {
	ObserveCompletion(seconds float64, status string)
}

// Client is a stateless request/response wrapper over the external
// chat-completion API. One call, one reply, no local state.
type Client struct {
	cfg  Config
	http *http.Client

	// Observer is optional; set it to record upstream latency.
	Observer Observer
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete sends the ordered message sequence and returns the assistant
// reply. The call is bounded by the configured timeout.
func (c *Client) Complete(ctx context.Context, messages []Message) (reply string, err error) {
	start := time.Now()

	defer func() {
		if c.Observer == nil {
			return
		}

		status := "ok"
		if err != nil {
			status = "error"
		}

		c.Observer.ObserveCompletion(time.Since(start).Seconds(), status)
	}()

	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(completionRequest{
		Model:    c.cfg.Model,
		Messages: messages,
	})

	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))

	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	res, err := c.http.Do(req)

	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrUpstream, res.StatusCode)
	}

	var out completionResponse

	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}

	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrUpstream)
	}

	return out.Choices[0].Message.Content, nil
}
