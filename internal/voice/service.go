package voice

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voice-call-lab/internal/config"
	"github.com/voice-call-lab/internal/logging"
	"github.com/voice-call-lab/internal/metrics"
	"github.com/voice-call-lab/internal/session"
)

// Identity used for calls whose stream starts before any answer webhook.
const (
	DefaultCallerName  = "Cliente"
	DefaultCallerPhone = "desconocido"
)

// Deps are the collaborators a Service drives.
type Deps struct {
	Registry    *session.Registry
	Recognizer  RecognizerDialer
	Generator   Generator
	Synth       Synthesizer
	Store       AudioStore
	Player      Player
	Transcriber Transcriber
	Metrics     *metrics.Metrics
}

// Options tune pipeline behavior.
type Options struct {
	Greeting  bool
	Coalescer Coalescer
	// Now picks the greeting slot; defaults to time.Now.
	Now func() time.Time
}

// Service runs one CallPipeline per active call.
type Service struct {
	ctx       context.Context
	deps      Deps
	opts      Options
	responder *Responder
	playback  *Playback

	mu        sync.Mutex
	pipelines map[string]*CallPipeline
	wg        sync.WaitGroup
}

// NewService builds a Service. ctx bounds collaborator calls and is
// cancelled only at process shutdown.
func NewService(ctx context.Context, deps Deps, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		ctx:       ctx,
		deps:      deps,
		opts:      opts,
		responder: &Responder{Registry: deps.Registry, Generator: deps.Generator, Metrics: deps.Metrics},
		playback:  &Playback{Synth: deps.Synth, Store: deps.Store, Player: deps.Player, Metrics: deps.Metrics},
		pipelines: make(map[string]*CallPipeline),
	}
}

// Responder exposes the reply turn used by the pipelines.
func (s *Service) Responder() *Responder { return s.responder }

func (s *Service) claim(p *CallPipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[p.callID]; ok {
		return fmt.Errorf("call %s: %w", p.callID, ErrPipelineExists)
	}
	s.pipelines[p.callID] = p
	return nil
}

func (s *Service) release(p *CallPipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipelines[p.callID] == p {
		delete(s.pipelines, p.callID)
	}
}

// Pipeline returns the running pipeline for callID.
func (s *Service) Pipeline(callID string) (*CallPipeline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[callID]
	return p, ok
}

// HandleMediaStream runs the streaming pipeline for a newly connected media
// stream. It blocks until the start frame arrives and the recognizer is
// connected, then returns with the per-call tasks running. On error nothing
// is left registered and conn is closed.
func (s *Service) HandleMediaStream(conn MediaConn) (*CallPipeline, error) {
	p := newPipeline(config.ModeStreaming)
	p.media = conn

	start, err := awaitStart(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("await start: %w", err)
	}
	p.callID, p.streamID = start.CallID, start.StreamID
	ctx := logging.WithFields(s.ctx, logging.StreamFields(p.callID, p.streamID)...)
	logging.InfowCtx(ctx, "pipeline: start received")

	if err := s.claim(p); err != nil {
		_ = conn.Close()
		return nil, err
	}
	rec, err := s.deps.Recognizer.Dial(ctx, p.callID)
	if err != nil {
		s.release(p)
		_ = conn.Close()
		p.terminate()
		logging.ErrorwCtx(ctx, "pipeline: recognizer unavailable, call not wired", "err", err)
		return nil, err
	}
	if _, created := s.deps.Registry.Ensure(p.callID, DefaultCallerName, DefaultCallerPhone); created {
		logging.InfowCtx(ctx, "pipeline: session created from stream start")
	}

	raw := make(chan Chunk, ingestQueue)
	coalesced := make(chan Chunk, recognizerQueue)
	transcripts := make(chan Transcript, transcriptQueue)
	replies := make(chan Reply, replyQueue)
	s.enqueueGreeting(ctx, p.callID, replies)

	p.activate()
	var g errgroup.Group
	g.Go(func() error {
		defer p.drain()
		return ingest(ctx, conn, raw, s.deps.Metrics)
	})
	g.Go(func() error {
		s.opts.Coalescer.Run(raw, coalesced)
		return nil
	})
	g.Go(func() error { return rec.Send(ctx, coalesced) })
	g.Go(func() error {
		defer p.drain()
		return rec.Receive(ctx, transcripts)
	})
	g.Go(func() error {
		s.responder.Run(ctx, p.callID, transcripts, replies)
		return nil
	})
	g.Go(func() error {
		s.playback.Run(ctx, p.callID, replies)
		return nil
	})
	s.finish(ctx, p, &g)
	return p, nil
}

// StartClassic runs a pipeline fed by telephony transcription webhooks for
// an answered call and asks the provider to start transcribing.
func (s *Service) StartClassic(callID string) (*CallPipeline, error) {
	p := newPipeline(config.ModeClassic)
	p.callID = callID
	p.intake = make(chan Transcript, transcriptQueue)
	ctx := logging.WithFields(s.ctx, logging.CallFields(callID)...)

	if _, ok := s.deps.Registry.Get(callID); !ok {
		return nil, fmt.Errorf("start classic pipeline for %s: %w", callID, ErrSessionAbsent)
	}
	if err := s.claim(p); err != nil {
		return nil, err
	}

	replies := make(chan Reply, replyQueue)
	s.enqueueGreeting(ctx, callID, replies)

	p.activate()
	var g errgroup.Group
	g.Go(func() error {
		defer p.drain()
		s.responder.Run(ctx, callID, p.intake, replies)
		return nil
	})
	g.Go(func() error {
		s.playback.Run(ctx, callID, replies)
		return nil
	})
	s.finish(ctx, p, &g)

	if s.deps.Transcriber != nil {
		if err := s.deps.Transcriber.StartTranscription(ctx, callID); err != nil {
			s.deps.Metrics.UpstreamError("telephony")
			logging.ErrorwCtx(ctx, "pipeline: transcription start failed", "err", err)
		} else {
			s.deps.Registry.Update(callID, func(ss *session.Session) { ss.TranscriptionStarted = true })
		}
	}
	return p, nil
}

// enqueueGreeting puts the opening line first on the reply queue. A greeting
// chosen when the call was placed is always spoken and never cached; the
// time-of-day greeting depends on Options.Greeting.
func (s *Service) enqueueGreeting(ctx context.Context, callID string, replies chan<- Reply) {
	if sess, ok := s.deps.Registry.Get(callID); ok && sess.Greeting != "" {
		logging.InfowCtx(ctx, "pipeline: custom greeting queued")
		replies <- Reply{Text: sess.Greeting}
		return
	}
	if !s.opts.Greeting {
		return
	}
	g := Greeting(s.opts.Now())
	logging.InfowCtx(ctx, "pipeline: greeting queued", "key", g.Key)
	replies <- g
}

func (s *Service) finish(ctx context.Context, p *CallPipeline, g *errgroup.Group) {
	s.deps.Metrics.PipelineStarted()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := g.Wait()
		if p.media != nil {
			_ = p.media.Close()
		}
		s.release(p)
		p.terminate()
		s.deps.Metrics.PipelineEnded()
		if err != nil {
			logging.WarnwCtx(ctx, "pipeline: terminated with error", "err", err)
			return
		}
		logging.InfowCtx(ctx, "pipeline: terminated")
	}()
}

// SubmitTranscript feeds a webhook transcript to a classic pipeline.
func (s *Service) SubmitTranscript(callID string, t Transcript) error {
	p, ok := s.Pipeline(callID)
	if !ok {
		return fmt.Errorf("call %s: %w", callID, ErrNoPipeline)
	}
	if err := p.submit(t); err != nil {
		return fmt.Errorf("call %s: %w", callID, err)
	}
	return nil
}

// Hangup closes the call's pipeline inputs and removes its session. It
// reports whether there was anything to tear down.
func (s *Service) Hangup(callID string) bool {
	p, hasPipeline := s.Pipeline(callID)
	removed := s.deps.Registry.Remove(callID)
	if hasPipeline {
		p.hangup()
	}
	if hasPipeline || removed {
		logging.Infow("pipeline: hangup", logging.CallFields(callID)...)
	}
	return hasPipeline || removed
}

// ActiveCalls lists running pipelines ordered by start time.
func (s *Service) ActiveCalls() []PipelineInfo {
	s.mu.Lock()
	out := make([]PipelineInfo, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		out = append(out, p.Info())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Shutdown hangs up every pipeline and waits for them to terminate or for
// ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ps := make([]*CallPipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		ps = append(ps, p)
	}
	s.mu.Unlock()
	for _, p := range ps {
		p.hangup()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
