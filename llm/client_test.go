package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voice-call-lab/internal/config"
	"github.com/voice-call-lab/internal/upstream"
)

func TestModelSelectionAndFallback(t *testing.T) {
	// mock server that returns 500 for model "gpt-5" and 200 for others
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]interface{}
		json.NewDecoder(r.Body).Decode(&p)
		model, _ := p["model"].(string)
		if model == "gpt-5" {
			http.Error(w, "server error", 500)
			return
		}
		resp := map[string]interface{}{"choices": []map[string]interface{}{{"message": map[string]string{"content": "ok from " + model}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "", "gpt-5", "local", 0, nil)
	resp, err := client.CreateChatCompletion(context.Background(), ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "hello"}}})
	if err != nil {
		t.Fatalf("expected success via fallback, got err: %v", err)
	}
	if resp.Content != "ok from local" {
		t.Fatalf("unexpected content: %v", resp.Content)
	}
}

func TestPermanentError(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "unauthorized", 401)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "k", "gpt-5", "local", 0, nil)
	_, err := client.CreateChatCompletion(context.Background(), ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected permanent error, got: %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent failure must not fall back, got %d calls", calls)
	}
}

func TestOpenAICompleteSendsSystemAndBearer(t *testing.T) {
	var got ChatRequest
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"content":"hola"}}]}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL+"/", "secret", "m1", "", 120, nil)
	out, err := client.Complete(context.Background(), "sys", "prompt")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "hola" {
		t.Fatalf("got %q", out)
	}
	if auth != "Bearer secret" {
		t.Fatalf("authorization = %q", auth)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "prompt" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
	if got.MaxTokens != 120 || got.Model != "m1" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestAnthropicComplete(t *testing.T) {
	var hdr http.Header
	var body anthropicRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr = r.Header.Clone()
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"content":[{"type":"text","text":"  ¡Claro que sí!\nsegunda línea"}]}`))
	}))
	defer ts.Close()

	a := NewAnthropic(ts.URL, "key-1", "", 0, nil)
	g := &ReplyGenerator{Provider: a}
	out, err := g.Generate(context.Background(), "quiero una cita", "Ana", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "¡Claro que sí!" {
		t.Fatalf("got %q", out)
	}
	if hdr.Get("x-api-key") != "key-1" || hdr.Get("anthropic-version") != "2023-06-01" {
		t.Fatalf("missing headers: %v", hdr)
	}
	if body.MaxTokens != 120 || body.Temperature != 0.6 || body.System != SystemPrompt {
		t.Fatalf("unexpected request: max=%d temp=%v", body.MaxTokens, body.Temperature)
	}
	if len(body.Messages) != 1 || !strings.HasPrefix(body.Messages[0].Content, "Cliente (Ana): quiero una cita") {
		t.Fatalf("unexpected messages: %+v", body.Messages)
	}
}

func TestAnthropicServerErrorIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", 529)
	}))
	defer ts.Close()

	a := NewAnthropic(ts.URL, "k", "", 0, upstream.NewClient("anthropic", 1, time.Second))
	g := &ReplyGenerator{Provider: a}
	_, err := g.Generate(context.Background(), "hola", "Ana", "")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	var se *upstream.StatusError
	if !errors.As(err, &se) || se.Status != 529 {
		t.Fatalf("expected status error 529, got %v", err)
	}
}

func TestGenerateFallsBackOnEmptyReply(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[{"type":"text","text":"   \n\n"}]}`))
	}))
	defer ts.Close()

	g := &ReplyGenerator{Provider: NewAnthropic(ts.URL, "k", "", 0, nil)}
	out, err := g.Generate(context.Background(), "hola", "Ana", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != FallbackReply {
		t.Fatalf("got %q", out)
	}
}

func TestGeminiComplete(t *testing.T) {
	var path, key string
	var raw []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		key = r.Header.Get("x-goog-api-key")
		raw, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Listo, te agendo mañana."}]}}]}`))
	}))
	defer ts.Close()

	g, err := NewGemini(context.Background(), "gk", "gemini-test", ts.URL, 0)
	if err != nil {
		t.Fatalf("new gemini: %v", err)
	}
	out, err := g.Complete(context.Background(), "sys", "prompt")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "Listo, te agendo mañana." {
		t.Fatalf("got %q", out)
	}
	if !strings.Contains(path, "gemini-test:generateContent") {
		t.Fatalf("unexpected path %q", path)
	}
	if key != "gk" {
		t.Fatalf("api key header = %q", key)
	}
	if !strings.Contains(string(raw), "systemInstruction") {
		t.Fatalf("system instruction missing from %s", raw)
	}
}

func TestNewFromConfig(t *testing.T) {
	up := config.UpstreamConfig{Attempts: 1, Timeout: time.Second}
	for _, tc := range []struct {
		provider string
		want     string
	}{
		{"anthropic", "anthropic"},
		{"", "anthropic"},
		{"openai", "openai"},
		{"gemini", "gemini"},
	} {
		g, err := NewFromConfig(context.Background(), config.ReplyConfig{Provider: tc.provider, GeminiAPIKey: "k"}, up)
		if err != nil {
			t.Fatalf("%q: %v", tc.provider, err)
		}
		if g.Provider.Name() != tc.want {
			t.Fatalf("%q: provider = %s", tc.provider, g.Provider.Name())
		}
	}
	if _, err := NewFromConfig(context.Background(), config.ReplyConfig{Provider: "bogus"}, up); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
