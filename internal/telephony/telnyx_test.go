package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voice-call-lab/internal/config"
	"github.com/voice-call-lab/internal/upstream"
)

type captured struct {
	path string
	auth string
	body map[string]any
}

func newTestClient(t *testing.T, status int, reply string) (*Client, *captured) {
	t.Helper()
	c := &captured{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.path = r.URL.Path
		c.auth = r.Header.Get("Authorization")
		c.body = map[string]any{}
		json.NewDecoder(r.Body).Decode(&c.body)
		w.WriteHeader(status)
		w.Write([]byte(reply))
	}))
	t.Cleanup(ts.Close)
	cl := NewClient(config.TelnyxConfig{APIKey: "KEY", ConnectionID: "conn", PhoneNumber: "+100", BaseURL: ts.URL}, "https://hook.test/webhook/telnyx", config.UpstreamConfig{Attempts: 1, Timeout: time.Second})
	cl.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return cl, c
}

func TestInitiateCallWithStream(t *testing.T) {
	cl, c := newTestClient(t, 200, `{"data":{"call_control_id":"v3:abc","call_leg_id":"leg-1"}}`)
	resp, err := cl.InitiateCall(context.Background(), InitiateRequest{
		To: "+573001112233", Name: "Ana", Phone: "+573001112233", Context: "vacuna pendiente",
		Greeting: "Hola Ana, te llamo por la vacuna", StreamURL: "wss://hook.test/media-stream",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if resp.CallControlID != "v3:abc" || resp.CallID != "leg-1" || resp.Status != "initiated" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if c.path != "/calls" || c.auth != "Bearer KEY" {
		t.Fatalf("path=%s auth=%s", c.path, c.auth)
	}
	if c.body["stream_track"] != "inbound_track" || c.body["stream_url"] != "wss://hook.test/media-stream" {
		t.Fatalf("stream fields missing: %v", c.body)
	}
	if c.body["answering_machine_detection"] != "disabled" || c.body["from"] != "+100" || c.body["connection_id"] != "conn" {
		t.Fatalf("unexpected payload: %v", c.body)
	}
	state, err := DecodeClientState(c.body["client_state"].(string))
	if err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Nombre != "Ana" || state.Contexto != "vacuna pendiente" || state.Saludo != "Hola Ana, te llamo por la vacuna" {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestInitiateCallWithoutStream(t *testing.T) {
	cl, c := newTestClient(t, 200, `{"data":{"call_control_id":"id","status":"queued"}}`)
	resp, err := cl.InitiateCall(context.Background(), InitiateRequest{To: "+1", Name: "B", Phone: "+1"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, ok := c.body["stream_url"]; ok {
		t.Fatalf("stream_url should be omitted")
	}
	if resp.CallID != "unknown" || resp.Status != "queued" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestInitiateCallFailure(t *testing.T) {
	cl, _ := newTestClient(t, 422, `{"errors":[{"detail":"invalid number"}]}`)
	_, err := cl.InitiateCall(context.Background(), InitiateRequest{To: "bad"})
	var se *upstream.StatusError
	if !errors.As(err, &se) || se.Status != 422 {
		t.Fatalf("expected 422, got %v", err)
	}
}

func TestPlayAudio(t *testing.T) {
	cl, c := newTestClient(t, 200, `{}`)
	if err := cl.PlayAudio(context.Background(), "call-1", "https://b/a.mp3"); err != nil {
		t.Fatalf("play: %v", err)
	}
	if c.path != "/calls/call-1/actions/playback_start" {
		t.Fatalf("path = %s", c.path)
	}
	if c.body["audio_url"] != "https://b/a.mp3" || c.body["target_legs"] != "self" || c.body["overlay"] != false {
		t.Fatalf("unexpected body %v", c.body)
	}
	raw, _ := base64.StdEncoding.DecodeString(c.body["client_state"].(string))
	if string(raw) != `{"interruptible":true}` {
		t.Fatalf("client state = %s", raw)
	}
}

func TestCallActions(t *testing.T) {
	cl, c := newTestClient(t, 200, `{}`)
	ctx := context.Background()

	if err := cl.StartTranscription(ctx, "c"); err != nil {
		t.Fatalf("transcription: %v", err)
	}
	if c.path != "/calls/c/actions/transcription_start" || c.body["language"] != "es-ES" || c.body["webhook_url"] != "https://hook.test/webhook/telnyx" {
		t.Fatalf("unexpected transcription request %s %v", c.path, c.body)
	}
	if err := cl.Hangup(ctx, "c"); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if c.path != "/calls/c/actions/hangup" {
		t.Fatalf("path = %s", c.path)
	}
}

func TestDecodeClientStateErrors(t *testing.T) {
	if _, err := DecodeClientState("%%%"); err == nil {
		t.Fatalf("expected base64 error")
	}
	if _, err := DecodeClientState(base64.StdEncoding.EncodeToString([]byte("not json"))); err == nil {
		t.Fatalf("expected json error")
	}
}
