// Package upstream is the shared HTTP plumbing for the remote collaborators
// (telephony, reply generation, synthesis).
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voice-call-lab/internal/logging"
)

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

// StatusError is a non-2xx answer from a collaborator.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, e.Body)
}

// Unwrap classifies the status: 5xx and 429 are transient, the rest permanent.
func (e *StatusError) Unwrap() error {
	if e.Status >= 500 || e.Status == http.StatusTooManyRequests {
		return ErrTransient
	}
	return ErrPermanent
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

const maxErrorBody = 512

// Client posts to one collaborator with bounded attempts. Attempts below 1
// mean a single try.
type Client struct {
	Service  string
	HTTP     *http.Client
	Attempts int
	Timeout  time.Duration
}

// NewClient returns a Client with its own http.Client.
func NewClient(service string, attempts int, timeout time.Duration) *Client {
	return &Client{Service: service, HTTP: &http.Client{}, Attempts: attempts, Timeout: timeout}
}

// PostJSON marshals payload and posts it. See Do.
func (c *Client) PostJSON(ctx context.Context, url string, payload any, header http.Header) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: encode request: %v", ErrPermanent, c.Service, err)
	}
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	return c.Do(ctx, http.MethodPost, url, body, h)
}

// Do sends the request, retrying transient failures with exponential
// backoff, and returns the full 2xx response body.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, header http.Header) ([]byte, error) {
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			backoff := time.Duration(200*(1<<(i-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s: %v", ErrTransient, c.Service, ctx.Err())
			case <-time.After(backoff):
			}
		}
		out, err := c.once(ctx, method, url, body, header)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
		logging.Debugw("upstream: attempt failed", "service", c.Service, "attempt", i+1, "err", err)
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, method, url string, body []byte, header http.Header) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPermanent, c.Service, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransient, c.Service, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrTransient, c.Service, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, &StatusError{Service: c.Service, Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	return data, nil
}
