package voice

import (
	"context"
	"fmt"
	"time"

	"github.com/voice-call-lab/internal/logging"
	"github.com/voice-call-lab/internal/metrics"
	"github.com/voice-call-lab/internal/session"
)

// Responder turns ready transcripts into replies for one call.
type Responder struct {
	Registry  *session.Registry
	Generator Generator
	Metrics   *metrics.Metrics
}

// Run filters each transcript and, for ready ones, generates a reply and
// queues it on out. It closes out when in closes. A failed turn is logged
// and skipped.
func (r *Responder) Run(ctx context.Context, callID string, in <-chan Transcript, out chan<- Reply) {
	defer close(out)
	for t := range in {
		verdict := Classify(t)
		r.Metrics.Transcript(verdict.String())
		if verdict != Ready {
			logging.DebugwCtx(ctx, "responder: transcript skipped", "reason", verdict.String(), "text", t.Text, "confidence", t.Confidence)
			continue
		}
		logging.InfowCtx(ctx, "responder: transcript ready", "text", t.Text, "final", t.IsFinal, "confidence", t.Confidence)

		reply, err := r.Respond(ctx, callID, t.Text)
		if err != nil {
			logging.WarnwCtx(ctx, "responder: turn dropped", "err", err)
			continue
		}
		out <- Reply{Text: reply}
	}
	logging.DebugwCtx(ctx, "responder: transcripts closed")
}

// Respond runs one turn: read the session, generate, and record the reply
// in history. Nothing is recorded when generation fails.
func (r *Responder) Respond(ctx context.Context, callID, text string) (string, error) {
	s, ok := r.Registry.Get(callID)
	if !ok {
		return "", fmt.Errorf("respond to %s: %w", callID, ErrSessionAbsent)
	}

	start := time.Now()
	reply, err := r.Generator.Generate(ctx, text, s.Name, s.ConversationContext())
	r.Metrics.ObserveStage("generate", time.Since(start))
	if err != nil {
		r.Metrics.Reply("error")
		r.Metrics.UpstreamError("generator")
		return "", fmt.Errorf("generate reply: %w", err)
	}
	if reply == "" {
		r.Metrics.Reply("empty")
		return "", fmt.Errorf("generate reply: empty result")
	}

	if !r.Registry.Update(callID, func(s *session.Session) { s.AddToHistory(reply) }) {
		return "", fmt.Errorf("record reply for %s: %w", callID, ErrSessionAbsent)
	}
	r.Metrics.Reply("ok")
	logging.InfowCtx(ctx, "responder: reply generated", "reply", reply)
	return reply, nil
}
