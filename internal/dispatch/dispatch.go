// Package dispatch places calls and reacts to call-control events. The HTTP
// API and the MCP admin server both drive calls through a Dispatcher.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/voice-call-lab/internal/config"
	"github.com/voice-call-lab/internal/logging"
	"github.com/voice-call-lab/internal/metrics"
	"github.com/voice-call-lab/internal/session"
	"github.com/voice-call-lab/internal/telephony"
	"github.com/voice-call-lab/internal/voice"
)

// ErrInvalidRequest marks caller input that cannot be dialed.
var ErrInvalidRequest = errors.New("invalid request")

// CallControl is the subset of the telephony client the dispatcher needs.
type CallControl interface {
	InitiateCall(ctx context.Context, req telephony.InitiateRequest) (telephony.CallResponse, error)
	Hangup(ctx context.Context, callID string) error
}

// CallRequest is an outbound call order.
type CallRequest struct {
	Telefono string `json:"telefono"`
	Nombre   string `json:"nombre"`
	Contexto string `json:"contexto,omitempty"`
	Saludo   string `json:"saludo,omitempty"`
}

type BatchResult struct {
	Status        string `json:"status"`
	CallControlID string `json:"call_control_id,omitempty"`
	Telefono      string `json:"telefono"`
	Error         string `json:"error,omitempty"`
}

type Stats struct {
	ActiveSessions  int   `json:"active_sessions"`
	ActivePipelines int   `json:"active_pipelines"`
	TotalCalls      int64 `json:"total_calls"`
	UptimeSeconds   int64 `json:"uptime_seconds"`
}

type Dispatcher struct {
	Calls     CallControl
	Service   *voice.Service
	Registry  *session.Registry
	Generator voice.Generator
	Metrics   *metrics.Metrics
	Mode      config.TranscriptionMode
	// StreamURL is where Telnyx forks call audio in streaming mode.
	StreamURL string
}

// Initiate dials one caller. The process call counter moves only when the
// provider accepts the call.
func (d *Dispatcher) Initiate(ctx context.Context, req CallRequest) (telephony.CallResponse, error) {
	req.Telefono = strings.TrimSpace(req.Telefono)
	if req.Telefono == "" {
		return telephony.CallResponse{}, fmt.Errorf("%w: telefono is required", ErrInvalidRequest)
	}
	name := strings.TrimSpace(req.Nombre)
	if name == "" {
		name = voice.DefaultCallerName
	}
	ir := telephony.InitiateRequest{
		To:       req.Telefono,
		Name:     name,
		Phone:    req.Telefono,
		Context:  req.Contexto,
		Greeting: strings.TrimSpace(req.Saludo),
	}
	if d.Mode == config.ModeStreaming {
		ir.StreamURL = d.StreamURL
	}
	resp, err := d.Calls.InitiateCall(ctx, ir)
	if err != nil {
		d.Metrics.UpstreamError("telephony")
		logging.ErrorwCtx(ctx, "dispatch: call initiation failed", "to", req.Telefono, "err", err)
		return telephony.CallResponse{}, err
	}
	d.Metrics.CallInitiated()
	return resp, nil
}

// Batch dials each request in order and reports per-call outcomes.
func (d *Dispatcher) Batch(ctx context.Context, reqs []CallRequest) []BatchResult {
	out := make([]BatchResult, 0, len(reqs))
	for _, req := range reqs {
		resp, err := d.Initiate(ctx, req)
		if err != nil {
			out = append(out, BatchResult{Status: "error", Telefono: req.Telefono, Error: err.Error()})
			continue
		}
		out = append(out, BatchResult{Status: "success", CallControlID: resp.CallControlID, Telefono: req.Telefono})
	}
	return out
}

// Answered registers the caller carried in the call's client state. In
// classic mode it also starts the webhook-fed pipeline.
func (d *Dispatcher) Answered(ctx context.Context, callID, clientState string) error {
	name, phone := voice.DefaultCallerName, voice.DefaultCallerPhone
	var briefing, greeting string
	if clientState != "" {
		st, err := telephony.DecodeClientState(clientState)
		if err != nil {
			logging.WarnwCtx(ctx, "dispatch: unreadable client state, using defaults", "err", err)
		} else {
			if st.Nombre != "" {
				name = st.Nombre
			}
			if st.Telefono != "" {
				phone = st.Telefono
			}
			briefing, greeting = st.Contexto, st.Saludo
		}
	}
	d.Registry.Create(callID, name, phone)
	if briefing != "" || greeting != "" {
		d.Registry.Update(callID, func(s *session.Session) {
			s.Context = briefing
			s.Greeting = greeting
		})
	}
	logging.InfowCtx(ctx, "dispatch: call answered", logging.CallerFields(name, phone)...)

	if d.Mode != config.ModeClassic {
		return nil
	}
	if _, err := d.Service.StartClassic(callID); err != nil && !errors.Is(err, voice.ErrPipelineExists) {
		return err
	}
	return nil
}

// Transcribed forwards a provider transcript to the call's classic pipeline.
// Streaming calls get transcripts from the recognizer and ignore these.
func (d *Dispatcher) Transcribed(callID string, t voice.Transcript) error {
	if d.Mode != config.ModeClassic {
		return nil
	}
	return d.Service.SubmitTranscript(callID, t)
}

// HungUp tears down local state after the provider reports the call ended.
func (d *Dispatcher) HungUp(callID string) bool { return d.Service.Hangup(callID) }

// Hangup asks the provider to end the call; the hangup webhook then tears
// down local state.
func (d *Dispatcher) Hangup(ctx context.Context, callID string) error {
	if err := d.Calls.Hangup(ctx, callID); err != nil {
		d.Metrics.UpstreamError("telephony")
		return err
	}
	return nil
}

// TestReply runs one reply generation without a call.
func (d *Dispatcher) TestReply(ctx context.Context, name, message, briefing string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("%w: mensaje is required", ErrInvalidRequest)
	}
	if name == "" {
		name = voice.DefaultCallerName
	}
	return d.Generator.Generate(ctx, message, name, briefing)
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		ActiveSessions:  d.Registry.Len(),
		ActivePipelines: len(d.Service.ActiveCalls()),
		TotalCalls:      d.Metrics.TotalCalls(),
		UptimeSeconds:   int64(d.Metrics.Uptime().Seconds()),
	}
}

func (d *Dispatcher) ActiveCalls() []voice.PipelineInfo { return d.Service.ActiveCalls() }
