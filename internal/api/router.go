package api

import (
	"net/http"
)

// NewRouter mounts every route behind request logging.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/{$}", h.Root)
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("POST /webhook/telnyx", h.Webhook)
	mux.HandleFunc("GET /media-stream", h.MediaStream)
	mux.HandleFunc("POST /api/call/initiate", h.InitiateCall)
	mux.HandleFunc("POST /api/call/batch", h.BatchCalls)
	mux.HandleFunc("GET /api/sessions/stats", h.SessionStats)
	mux.HandleFunc("POST /api/test/reply", h.TestReply)

	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics.Handler())
	}
	if h.Audio != nil {
		mux.Handle("GET /audio/", h.Audio)
	}
	if h.Admin != nil {
		mux.Handle("GET /mcp/ws", h.Admin)
	}
	return LogRequests(mux)
}
