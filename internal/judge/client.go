// Package judge is the HTTP transport between the evaluator and the remote
// judge endpoints, both the client side and a server that fronts an LLM.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pavelanni/assessor/internal/grading"
	"github.com/pavelanni/assessor/internal/model"
)

// Request is the body posted to a judge endpoint.
type Request struct {
	Topic   string              `json:"topic,omitempty"`
	Answers []grading.JudgeItem `json:"answers"`
}

// Response is the body a judge endpoint writes.
type Response struct {
	Results []grading.JudgeVerdict `json:"results"`
}

// Client posts batches to per-kind judge endpoints under a base URL.
type Client struct {
	baseURL  string
	topic    string
	registry grading.Registry
	http     *http.Client
	retries  int
	backoff  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetries sets how many extra attempts a failed call gets and the
// linear backoff step between them.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		c.backoff = backoff
	}
}

// WithTopic sets the topic sent with batches whose context carries none.
func WithTopic(topic string) Option {
	return func(c *Client) { c.topic = topic }
}

// WithRegistry overrides the kind to endpoint routes.
func WithRegistry(r grading.Registry) Option {
	return func(c *Client) { c.registry = r }
}

// NewClient creates a judge client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/") + "/",
		registry: grading.DefaultRegistry(),
		http:     &http.Client{Timeout: 60 * time.Second},
		retries:  2,
		backoff:  300 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// errPermanent marks failures that retrying cannot fix.
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

// Verify implements grading.Judge.
func (c *Client) Verify(ctx context.Context, kind model.Kind, items []grading.JudgeItem) ([]grading.JudgeVerdict, error) {
	endpoint, err := c.registry.Endpoint(kind)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(Request{Topic: grading.TopicFrom(ctx, c.topic), Answers: items})
	if err != nil {
		return nil, fmt.Errorf("encode judge request: %w", err)
	}
	url := c.baseURL + endpoint

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
			slog.Debug("retrying judge call", "kind", kind, "attempt", attempt+1, "error", lastErr)
		}
		verdicts, err := c.post(ctx, url, body)
		if err == nil {
			return verdicts, nil
		}
		lastErr = err
		var perm errPermanent
		if errors.As(err, &perm) {
			break
		}
	}
	return nil, fmt.Errorf("judge %s: %w", kind, lastErr)
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]grading.JudgeVerdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errPermanent{err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read judge response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("judge returned %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return nil, errPermanent{fmt.Errorf("judge returned %s: %s", resp.Status, strings.TrimSpace(string(data)))}
	}
	verdicts, err := decodeVerdicts(data)
	if err != nil {
		return nil, errPermanent{err}
	}
	return verdicts, nil
}
