// Package config resolves every runtime setting once at startup. Nothing
// outside this package reads the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// TranscriptionMode selects how caller speech reaches the reply pipeline.
type TranscriptionMode string

const (
	// ModeStreaming bridges the call's media stream to a streaming recognizer.
	ModeStreaming TranscriptionMode = "streaming"
	// ModeClassic relies on the telephony provider's transcription webhooks.
	ModeClassic TranscriptionMode = "classic"
)

// Config is the fully resolved service configuration.
type Config struct {
	Port     string
	LogLevel string
	Mode     TranscriptionMode

	WebhookBaseURL string
	MediaStreamURL string
	PublicBaseURL  string

	Telnyx     TelnyxConfig
	Recognizer RecognizerConfig
	Reply      ReplyConfig
	Speech     SpeechConfig
	Storage    StorageConfig
	Upstream   UpstreamConfig

	GreetingEnabled bool
}

type TelnyxConfig struct {
	APIKey       string
	ConnectionID string
	PhoneNumber  string
	BaseURL      string
}

type RecognizerConfig struct {
	APIKey         string
	URL            string
	AuthScheme     string
	Language       string
	Model          string
	EndpointingMs  int
	UtteranceEndMs int
	VADTurnoffMs   int
}

type ReplyConfig struct {
	Provider  string
	MaxTokens int

	AnthropicAPIKey string
	AnthropicURL    string
	AnthropicModel  string

	OpenAIBaseURL       string
	OpenAIAPIKey        string
	OpenAIModel         string
	OpenAIFallbackModel string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
}

type SpeechConfig struct {
	APIKey  string
	BaseURL string
	VoiceID string
	ModelID string
}

type StorageConfig struct {
	Backend string

	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Endpoint        string

	Dir       string
	Retention time.Duration
}

type UpstreamConfig struct {
	Attempts int
	Timeout  time.Duration
}

// Getenv abstracts the environment lookup so tests can supply a map.
type Getenv func(string) string

// Load resolves configuration from the process environment.
func Load() (Config, error) { return LoadFrom(os.Getenv) }

// LoadFrom resolves configuration through the supplied lookup.
func LoadFrom(getenv Getenv) (Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	var errs []error
	intEnv := func(key string, def int) int {
		raw := env(key, "")
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return n
	}
	boolEnv := func(key string, def bool) bool {
		raw := env(key, "")
		if raw == "" {
			return def
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return b
	}
	durEnv := func(key string, def time.Duration) time.Duration {
		raw := env(key, "")
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return d
	}

	cfg := Config{
		Port:            env("PORT", "3000"),
		LogLevel:        env("LOG_LEVEL", "info"),
		WebhookBaseURL:  strings.TrimRight(env("WEBHOOK_BASE_URL", ""), "/"),
		GreetingEnabled: boolEnv("GREETING_ENABLED", true),
	}

	mode := TranscriptionMode(strings.ToLower(env("TRANSCRIPTION_MODE", "")))
	if mode == "" {
		// USE_MEDIA_STREAMS is the older switch; it is honored only when
		// TRANSCRIPTION_MODE is absent.
		mode = ModeStreaming
		if !boolEnv("USE_MEDIA_STREAMS", true) {
			mode = ModeClassic
		}
	}
	switch mode {
	case ModeStreaming, ModeClassic:
		cfg.Mode = mode
	default:
		errs = append(errs, fmt.Errorf("TRANSCRIPTION_MODE: unknown mode %q", mode))
		cfg.Mode = ModeStreaming
	}

	cfg.MediaStreamURL = env("MEDIA_STREAM_URL", deriveStreamURL(cfg.WebhookBaseURL))
	cfg.PublicBaseURL = strings.TrimRight(env("PUBLIC_BASE_URL", cfg.WebhookBaseURL), "/")

	cfg.Telnyx = TelnyxConfig{
		APIKey:       env("TELNYX_API_KEY", ""),
		ConnectionID: env("TELNYX_CONNECTION_ID", ""),
		PhoneNumber:  env("TELNYX_PHONE_NUMBER", ""),
		BaseURL:      strings.TrimRight(env("TELNYX_BASE_URL", "https://api.telnyx.com/v2"), "/"),
	}
	cfg.Recognizer = RecognizerConfig{
		APIKey:         env("DEEPGRAM_API_KEY", ""),
		URL:            env("DEEPGRAM_URL", "wss://api.deepgram.com/v1/listen"),
		AuthScheme:     env("DEEPGRAM_AUTH_SCHEME", "Token"),
		Language:       env("STT_LANGUAGE", "es"),
		Model:          env("STT_MODEL", "nova-2"),
		EndpointingMs:  intEnv("STT_ENDPOINTING_MS", 200),
		UtteranceEndMs: intEnv("STT_UTTERANCE_END_MS", 500),
		VADTurnoffMs:   intEnv("STT_VAD_TURNOFF_MS", 300),
	}
	cfg.Reply = ReplyConfig{
		Provider:            strings.ToLower(env("REPLY_PROVIDER", "anthropic")),
		MaxTokens:           intEnv("LLM_MAX_TOKENS", 120),
		AnthropicAPIKey:     env("ANTHROPIC_API_KEY", ""),
		AnthropicURL:        env("ANTHROPIC_URL", "https://api.anthropic.com/v1/messages"),
		AnthropicModel:      env("CLAUDE_MODEL", "claude-3-5-haiku-20241022"),
		OpenAIBaseURL:       strings.TrimRight(env("OPENAI_BASE_URL", "http://127.0.0.1:8000/v1"), "/"),
		OpenAIAPIKey:        env("OPENAI_API_KEY", ""),
		OpenAIModel:         env("OPENAI_MODEL", ""),
		OpenAIFallbackModel: env("OPENAI_FALLBACK_MODEL", ""),
		GeminiAPIKey:        env("GEMINI_API_KEY", env("GOOGLE_API_KEY", "")),
		GeminiModel:         env("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiBaseURL:       env("GEMINI_BASE_URL", ""),
	}
	cfg.Speech = SpeechConfig{
		APIKey:  env("ELEVENLABS_API_KEY", ""),
		BaseURL: strings.TrimRight(env("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io/v1"), "/"),
		VoiceID: env("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		ModelID: env("ELEVENLABS_MODEL", "eleven_multilingual_v2"),
	}
	cfg.Storage = StorageConfig{
		Backend:         strings.ToLower(env("STORAGE_BACKEND", "s3")),
		Bucket:          env("S3_BUCKET", env("AWS_S3_BUCKET", "telnyx-ai-service")),
		Region:          env("AWS_REGION", "us-east-1"),
		AccessKeyID:     env("AWS_ACCESS_KEY_ID", ""),
		SecretAccessKey: env("AWS_SECRET_ACCESS_KEY", ""),
		SessionToken:    env("AWS_SESSION_TOKEN", ""),
		Endpoint:        env("S3_ENDPOINT", ""),
		Dir:             env("AUDIO_DIR", "./audio"),
		Retention:       durEnv("AUDIO_RETENTION", 24*time.Hour),
	}
	cfg.Upstream = UpstreamConfig{
		Attempts: intEnv("UPSTREAM_ATTEMPTS", 1),
		Timeout:  time.Duration(intEnv("UPSTREAM_TIMEOUT_MS", 20000)) * time.Millisecond,
	}
	if cfg.Upstream.Attempts < 1 {
		cfg.Upstream.Attempts = 1
	}

	return cfg, errors.Join(errs...)
}

// Validate reports the settings that are required by the selected mode,
// reply provider and storage backend but missing.
func (c Config) Validate() error {
	var missing []string
	need := func(name, v string) {
		if v == "" {
			missing = append(missing, name)
		}
	}
	need("TELNYX_API_KEY", c.Telnyx.APIKey)
	need("TELNYX_CONNECTION_ID", c.Telnyx.ConnectionID)
	need("TELNYX_PHONE_NUMBER", c.Telnyx.PhoneNumber)
	need("WEBHOOK_BASE_URL", c.WebhookBaseURL)
	need("ELEVENLABS_API_KEY", c.Speech.APIKey)
	if c.Mode == ModeStreaming {
		need("DEEPGRAM_API_KEY", c.Recognizer.APIKey)
	}
	switch c.Reply.Provider {
	case "anthropic":
		need("ANTHROPIC_API_KEY", c.Reply.AnthropicAPIKey)
	case "openai":
		need("OPENAI_MODEL", c.Reply.OpenAIModel)
	case "gemini":
		need("GEMINI_API_KEY", c.Reply.GeminiAPIKey)
	default:
		return fmt.Errorf("REPLY_PROVIDER: unknown provider %q", c.Reply.Provider)
	}
	switch c.Storage.Backend {
	case "s3":
		need("S3_BUCKET", c.Storage.Bucket)
	case "disk":
		need("PUBLIC_BASE_URL", c.PublicBaseURL)
	default:
		return fmt.Errorf("STORAGE_BACKEND: unknown backend %q", c.Storage.Backend)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// WebhookURL is the callback address registered with the telephony provider.
func (c Config) WebhookURL() string { return c.WebhookBaseURL + "/webhook/telnyx" }

func deriveStreamURL(base string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/media-stream"
	return u.String()
}
