// Package client is the producer-side HTTP client for the stock API. The
// push command uses it to send session batches and end sessions; it retries
// transient failures (network errors, 5xx) with truncated exponential
// backoff and gives up immediately on 4xx.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stockrelay/stockrelay/server/internal/api"
	"github.com/stockrelay/stockrelay/server/internal/ingest"
)

const (
	backoffInitial    = 500 * time.Millisecond
	backoffMax        = 30 * time.Second
	backoffMultiplier = 2.0
	requestTimeout    = 10 * time.Second
	defaultAttempts   = 4
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stock api: status %d: %s", e.Code, e.Message)
}

// permanent reports whether retrying cannot help.
func (e *StatusError) permanent() bool { return e.Code >= 400 && e.Code < 500 }

// Client talks to one stock relay server.
type Client struct {
	baseURL  string
	header   string
	key      string
	http     *http.Client
	attempts int
	sleep    func(context.Context, time.Duration) error // injectable for tests
}

// New creates a Client for the server at baseURL that sends key in header.
func New(baseURL, header, key string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		header:   header,
		key:      key,
		http:     &http.Client{Timeout: requestTimeout},
		attempts: defaultAttempts,
		sleep:    sleepCtx,
	}
}

// PushSession posts a session batch and returns the server's summary.
func (c *Client) PushSession(ctx context.Context, batch map[string]any) (ingest.Summary, error) {
	var sum ingest.Summary
	err := c.do(ctx, http.MethodPost, "/api/stock", batch, &sum)
	return sum, err
}

// EndSession removes every entry of sessionID and returns how many went.
func (c *Client) EndSession(ctx context.Context, sessionID, reason string) (int, error) {
	var resp api.SessionDeleteResponse
	err := c.do(ctx, http.MethodDelete, "/api/stock",
		map[string]any{"sessionId": sessionID, "reason": reason}, &resp)
	return resp.DeletedCount, err
}

// List fetches the live entries.
func (c *Client) List(ctx context.Context) (api.ListResponse, error) {
	var resp api.ListResponse
	err := c.do(ctx, http.MethodGet, "/api/stock", nil, &resp)
	return resp, err
}

// Touch sends a keep-alive for id.
func (c *Client) Touch(ctx context.Context, id string) (time.Time, error) {
	var resp api.TouchResponse
	err := c.do(ctx, http.MethodPatch, "/api/stock", map[string]any{"id": id}, &resp)
	return resp.LastUpdated, err
}

// Get fetches one entry by id.
func (c *Client) Get(ctx context.Context, id string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/stock?id="+url.QueryEscape(id), nil, &raw)
	return raw, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("stock api: encode request: %w", err)
		}
	}

	bo := newBackoff()
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		lastErr = c.once(ctx, method, path, payload, out)
		if lastErr == nil {
			return nil
		}
		var se *StatusError
		if errors.As(lastErr, &se) && se.permanent() {
			return lastErr
		}
		if attempt == c.attempts {
			break
		}
		wait := bo.next()
		slog.Warn("client: request failed, will retry",
			"method", method, "path", path, "attempt", attempt, "err", lastErr, "retry_in", wait)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("stock api: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set(c.header, c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("stock api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e) //nolint:errcheck
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("stock api: decode response: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}
