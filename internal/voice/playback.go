package voice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voice-call-lab/internal/logging"
	"github.com/voice-call-lab/internal/metrics"
)

// Playback is the single consumer of a call's reply queue. Items are
// synthesized, uploaded and played strictly one at a time in queue order.
type Playback struct {
	Synth   Synthesizer
	Store   AudioStore
	Player  Player
	Metrics *metrics.Metrics
}

// Run drains in until it is closed. A failed item is logged and abandoned;
// the next one still plays.
func (p *Playback) Run(ctx context.Context, callID string, in <-chan Reply) {
	n := 0
	for r := range in {
		n++
		if err := p.Play(ctx, callID, r); err != nil {
			p.Metrics.Playback("error")
			logging.WarnwCtx(ctx, "playback: item abandoned", "seq", n, "err", err)
			continue
		}
		p.Metrics.Playback("ok")
	}
	logging.DebugwCtx(ctx, "playback: queue drained", "items", n)
}

// Play resolves audio for one reply and starts it on the call.
func (p *Playback) Play(ctx context.Context, callID string, r Reply) error {
	audioURL, err := p.resolve(ctx, callID, r)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := p.Player.PlayAudio(ctx, callID, audioURL); err != nil {
		p.Metrics.UpstreamError("telephony")
		return fmt.Errorf("play: %w", err)
	}
	p.Metrics.ObserveStage("play", time.Since(start))
	logging.InfowCtx(ctx, "playback: started", "url", audioURL, "text", r.Text)
	return nil
}

// resolve returns a playable URL, reusing stored audio for keyed phrases.
func (p *Playback) resolve(ctx context.Context, callID string, r Reply) (string, error) {
	key := r.Key
	if key != "" {
		exists, err := p.Store.Exists(ctx, key)
		if err != nil {
			logging.DebugwCtx(ctx, "playback: cache check failed", "key", key, "err", err)
		}
		if exists {
			return p.Store.URL(key), nil
		}
	} else {
		key = ResponseKey(callID)
	}

	start := time.Now()
	audio, err := p.Synth.Synthesize(ctx, r.Text)
	p.Metrics.ObserveStage("synthesize", time.Since(start))
	if err != nil {
		p.Metrics.UpstreamError("synthesis")
		return "", fmt.Errorf("synthesize: %w", err)
	}

	start = time.Now()
	audioURL, err := p.Store.Upload(ctx, key, audio)
	p.Metrics.ObserveStage("upload", time.Since(start))
	if err != nil {
		p.Metrics.UpstreamError("storage")
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return audioURL, nil
}

// ResponseKey is a unique object key for one generated reply.
func ResponseKey(callID string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, callID)
	return fmt.Sprintf("audio/response_%s_%s.mp3", safe, uuid.NewString())
}
