package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoRetriesTransientStatus(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	c := NewClient("test", 2, time.Second)
	body, err := c.PostJSON(context.Background(), ts.URL, map[string]string{"a": "b"}, nil)
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected body %s", body)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoSingleAttemptByDefault(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer ts.Close()

	c := &Client{Service: "test"}
	_, err := c.Do(context.Background(), http.MethodPost, ts.URL, nil, nil)
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestDoPermanentNotRetried(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("missing content type")
		}
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := NewClient("telnyx", 3, time.Second)
	_, err := c.PostJSON(context.Background(), ts.URL, struct{}{}, nil)
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusUnauthorized || se.Service != "telnyx" {
		t.Fatalf("expected StatusError 401, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("permanent error retried: %d calls", calls)
	}
}

func TestDoNetworkErrorIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	c := NewClient("test", 1, time.Second)
	if _, err := c.Do(context.Background(), http.MethodGet, url, nil, nil); !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
