package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCallCounter(t *testing.T) {
	m := New("test")
	if m.TotalCalls() != 0 {
		t.Fatalf("expected zero calls at start")
	}
	m.CallInitiated()
	m.CallInitiated()
	if m.TotalCalls() != 2 {
		t.Fatalf("expected 2 calls, got %d", m.TotalCalls())
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CallInitiated()
	m.PipelineStarted()
	m.AudioBytes("inbound", 10)
	m.Transcript("ready")
	if m.TotalCalls() != 0 {
		t.Fatalf("nil metrics should report zero")
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New("test")
	m.CallInitiated()
	m.Reply("ok")
	m.AudioBytes("inbound", 160)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"test_calls_total 1", `test_replies_total{status="ok"} 1`, `test_audio_bytes_total{direction="inbound"} 160`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}
