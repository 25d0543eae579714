// Package tts synthesizes reply audio.
package tts

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voice-call-lab/internal/config"
	"github.com/voice-call-lab/internal/logging"
	"github.com/voice-call-lab/internal/upstream"
)

type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// DefaultVoiceSettings is tuned for conversational Spanish.
var DefaultVoiceSettings = VoiceSettings{
	Stability:       0.5,
	SimilarityBoost: 0.75,
	Style:           0,
	UseSpeakerBoost: true,
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// ElevenLabs turns text into MP3 audio.
type ElevenLabs struct {
	BaseURL  string
	APIKey   string
	VoiceID  string
	ModelID  string
	Settings VoiceSettings
	HTTP     *upstream.Client
}

func NewElevenLabs(cfg config.SpeechConfig, up config.UpstreamConfig) *ElevenLabs {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.elevenlabs.io/v1"
	}
	timeout := up.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &ElevenLabs{
		BaseURL:  base,
		APIKey:   cfg.APIKey,
		VoiceID:  cfg.VoiceID,
		ModelID:  cfg.ModelID,
		Settings: DefaultVoiceSettings,
		HTTP:     upstream.NewClient("elevenlabs", up.Attempts, timeout),
	}
}

// Synthesize returns the MP3 bytes for text.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: elevenlabs: empty text", upstream.ErrPermanent)
	}
	header := http.Header{}
	header.Set("xi-api-key", e.APIKey)
	header.Set("Accept", "audio/mpeg")

	endpoint := fmt.Sprintf("%s/text-to-speech/%s", e.BaseURL, url.PathEscape(e.VoiceID))
	start := time.Now()
	audio, err := e.HTTP.PostJSON(ctx, endpoint, speechRequest{
		Text:          text,
		ModelID:       e.ModelID,
		VoiceSettings: e.Settings,
	}, header)
	if err != nil {
		logging.WarnwCtx(ctx, "tts: synthesis failed", "err", err)
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: elevenlabs: empty audio", upstream.ErrTransient)
	}
	logging.DebugwCtx(ctx, "tts: audio synthesized", "bytes", len(audio), "elapsed_ms", time.Since(start).Milliseconds())
	return audio, nil
}
