package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/voice-call-lab/internal/api"
	"github.com/voice-call-lab/internal/config"
	"github.com/voice-call-lab/internal/dispatch"
	"github.com/voice-call-lab/internal/logging"
	"github.com/voice-call-lab/internal/mcp"
	"github.com/voice-call-lab/internal/metrics"
	"github.com/voice-call-lab/internal/session"
	"github.com/voice-call-lab/internal/storage"
	"github.com/voice-call-lab/internal/telephony"
	"github.com/voice-call-lab/internal/tts"
	"github.com/voice-call-lab/internal/voice"
	"github.com/voice-call-lab/llm"
)

const version = "1.0.0"

func main() {
	// A missing .env is normal in containers.
	_ = godotenv.Load()

	cfg, err := config.Load()
	sugar := logging.Init(cfg.LogLevel)
	defer func() { _ = logging.Sync() }()
	if err != nil {
		sugar.Fatalw("invalid configuration", "err", err)
	}
	if err := cfg.Validate(); err != nil {
		sugar.Fatalw("incomplete configuration", "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New("voicecall")
	registry := session.NewRegistry()

	generator, err := llm.NewFromConfig(ctx, cfg.Reply, cfg.Upstream)
	if err != nil {
		sugar.Fatalw("reply generator", "err", err)
	}

	var wg sync.WaitGroup
	var store voice.AudioStore
	var audioHandler http.Handler
	switch cfg.Storage.Backend {
	case "disk":
		disk, err := storage.NewDiskStore(cfg.Storage.Dir, cfg.PublicBaseURL)
		if err != nil {
			sugar.Fatalw("disk store", "err", err)
		}
		wg.Add(1)
		disk.StartCleaner(ctx, &wg, cfg.Storage.Retention, time.Hour)
		store, audioHandler = disk, disk.Handler()
	default:
		s3, err := storage.NewS3Store(cfg.Storage, cfg.Upstream.Attempts)
		if err != nil {
			sugar.Fatalw("s3 store", "err", err)
		}
		store = s3
	}

	telnyx := telephony.NewClient(cfg.Telnyx, cfg.WebhookURL(), cfg.Upstream)

	svc := voice.NewService(ctx, voice.Deps{
		Registry:    registry,
		Recognizer:  voice.NewDeepgram(cfg.Recognizer, m),
		Generator:   generator,
		Synth:       tts.NewElevenLabs(cfg.Speech, cfg.Upstream),
		Store:       store,
		Player:      telnyx,
		Transcriber: telnyx,
		Metrics:     m,
	}, voice.Options{
		Greeting: cfg.GreetingEnabled,
		Coalescer: voice.Coalescer{
			Threshold: voice.DefaultCoalesceBytes,
			Interval:  voice.DefaultCoalesceInterval,
		},
	})

	d := &dispatch.Dispatcher{
		Calls:     telnyx,
		Service:   svc,
		Registry:  registry,
		Generator: generator,
		Metrics:   m,
		Mode:      cfg.Mode,
		StreamURL: cfg.MediaStreamURL,
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	handler := &api.Handler{
		Dispatch:   d,
		Metrics:    m,
		Audio:      audioHandler,
		Admin:      &mcp.Handler{Server: mcp.NewAdminServer(d, version), Upgrader: upgrader},
		ReplyModel: replyModel(cfg.Reply),
		Upgrader:   upgrader,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		sugar.Infow("server listening", "port", cfg.Port, "mode", cfg.Mode, "reply_provider", cfg.Reply.Provider, "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("server failed", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	sugar.Infow("shutdown signal received, closing resources")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("http shutdown", "err", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("pipelines did not drain", "err", err, "active", len(svc.ActiveCalls()))
	}
	cancel()
	wg.Wait()
	sugar.Infow("shutdown complete")
}

func replyModel(c config.ReplyConfig) string {
	switch c.Provider {
	case "openai":
		return c.OpenAIModel
	case "gemini":
		return c.GeminiModel
	default:
		return c.AnthropicModel
	}
}
