// Package api is the HTTP surface: call-control webhooks, the media stream
// upgrade, call placement and operational endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voice-call-lab/internal/dispatch"
	"github.com/voice-call-lab/internal/logging"
	"github.com/voice-call-lab/internal/metrics"
	"github.com/voice-call-lab/internal/voice"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	Dispatch *dispatch.Dispatcher
	Metrics  *metrics.Metrics
	// Audio serves locally stored audio; nil when audio lives in S3.
	Audio http.Handler
	// Admin serves the MCP websocket.
	Admin      http.Handler
	ReplyModel string
	Upgrader   websocket.Upgrader
	Now        func() time.Time
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "voice-call-lab",
		"status":  "running",
		"endpoints": map[string]string{
			"webhook":      "POST /webhook/telnyx",
			"mediaStream":  "GET /media-stream",
			"initiateCall": "POST /api/call/initiate",
			"batchCalls":   "POST /api/call/batch",
			"sessionStats": "GET /api/sessions/stats",
			"testReply":    "POST /api/test/reply",
			"health":       "GET /api/health",
			"metrics":      "GET /metrics",
			"admin":        "GET /mcp/ws",
		},
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unreadable body"})
		return
	}
	ev, err := ParseWebhook(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid webhook", Message: err.Error()})
		return
	}
	if ev.NeedsCall() && ev.CallControlID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Missing call_control_id"})
		return
	}
	ctx := logging.WithFields(r.Context(), logging.CallFields(ev.CallControlID)...)
	logging.InfowCtx(ctx, "webhook: event received", "event", ev.RawType)

	status := "handled"
	switch ev.Kind {
	case EventAnswered:
		if err := h.Dispatch.Answered(ctx, ev.CallControlID, ev.ClientState); err != nil {
			logging.ErrorwCtx(ctx, "webhook: answer handling failed", "err", err)
		}
	case EventTranscribed, EventTranscript:
		if !ev.IsFinal || ev.Transcript == "" {
			status = "buffering"
			break
		}
		t := voice.Transcript{Text: ev.Transcript, Confidence: ev.Confidence, IsFinal: true}
		if err := h.Dispatch.Transcribed(ev.CallControlID, t); err != nil {
			logging.WarnwCtx(ctx, "webhook: transcript not delivered", "err", err)
		}
	case EventTranscriptPart:
		logging.DebugwCtx(ctx, "webhook: partial transcript", "text", ev.Transcript)
		status = "partial"
	case EventHangup:
		h.Dispatch.HungUp(ev.CallControlID)
	case EventPlaybackStarted, EventPlaybackEnded, EventSpeakEnded:
	default:
		logging.DebugwCtx(ctx, "webhook: unhandled event", "payload", string(body))
		status = "received"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// MediaStream upgrades the connection and hands it to the call pipeline.
func (h *Handler) MediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("media: upgrade failed", "err", err)
		return
	}
	p, err := h.Dispatch.Service.HandleMediaStream(conn)
	if err != nil {
		logging.Warnw("media: stream rejected", "err", err)
		return
	}
	logging.Infow("media: stream wired", logging.StreamFields(p.CallID(), p.StreamID())...)
}

func (h *Handler) InitiateCall(w http.ResponseWriter, r *http.Request) {
	var req dispatch.CallRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.Dispatch.Initiate(r.Context(), req)
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidRequest) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to initiate call", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) BatchCalls(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Calls []dispatch.CallRequest `json:"calls"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	results := h.Dispatch.Batch(r.Context(), req.Calls)
	writeJSON(w, http.StatusOK, map[string]any{"total": len(results), "results": results})
}

func (h *Handler) SessionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Dispatch.Stats())
}

type testReplyResponse struct {
	Success  bool   `json:"success"`
	Model    string `json:"model"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (h *Handler) TestReply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Nombre   string `json:"nombre"`
		Mensaje  string `json:"mensaje"`
		Contexto string `json:"contexto"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	reply, err := h.Dispatch.TestReply(r.Context(), req.Nombre, req.Mensaje, req.Contexto)
	switch {
	case errors.Is(err, dispatch.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, testReplyResponse{Model: h.ReplyModel, Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, testReplyResponse{Model: h.ReplyModel, Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, testReplyResponse{Success: true, Model: h.ReplyModel, Response: reply})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json", Message: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
