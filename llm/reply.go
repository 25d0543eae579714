// Package llm generates the receptionist's spoken replies.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/voice-call-lab/internal/config"
	"github.com/voice-call-lab/internal/logging"
	"github.com/voice-call-lab/internal/upstream"
)

// FallbackReply is spoken when the model returns nothing usable.
const FallbackReply = "Disculpa, ¿puedes repetir eso?"

const replyTemperature = 0.6

const replyInstruction = "Responde como María, natural (80-110 chars). Usa muletillas colombianas. NUNCA cortes frases:"

// SystemPrompt sets up the receptionist persona.
const SystemPrompt = `Eres María, la recepcionista de la Clínica Veterinaria LA WANDA Y MACARENA. Hablas como una persona real, cálida y cercana.

INFO CLAVE:
Abrimos lunes a viernes de 8AM a 8PM, sábados de 9AM a 6PM y domingos de 10AM a 2PM.
Emergencias 24/7 al 318 383 8417.
Ofrecemos consultas, vacunas, cirugías, peluquería y urgencias.

COMO HABLAR (MUY IMPORTANTE):
- SIEMPRE usa el NOMBRE del cliente cuando lo sepas
- Cuando el cliente diga su nombre, repítelo naturalmente
- Usa muletillas naturales: "mirá", "dale", "sí claro", "perfecto entonces"
- Contrae palabras como lo haría una persona: "pa'", "to'", "pa' qué"
- Usa expresiones colombianas suaves: "qué pena contigo", "con mucho gusto", "listo entonces"
- Responde con frases cortas y naturales (80-110 caracteres)
- NUNCA cortes a mitad de frase - termina la idea completa
- LEE BIEN lo que dice el cliente - si mencionan "gata" o "perro", NO vuelvas a preguntar
- Si dicen "sí", "dale", "ok" → ya sabes qué quieren, responde directo
- Sé empática con las mascotas: "ay tu gatita", "pobrecito tu perrito"
- Usa "vos" o "tú" de forma natural según el contexto`

// Provider is one model backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// BuildPrompt is the user turn sent to the model.
func BuildPrompt(text, name, convContext string) string {
	var short string
	if convContext != "" {
		short = fmt.Sprintf("Contexto: %s\nCliente (%s): %s", convContext, name, text)
	} else {
		short = fmt.Sprintf("Cliente (%s): %s", name, text)
	}
	return short + "\n\n" + replyInstruction
}

// CleanReply keeps the first line of raw without control characters.
func CleanReply(raw string) string {
	line := strings.TrimSpace(raw)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	line = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, line)
	return strings.TrimSpace(line)
}

// ReplyGenerator adapts a Provider to the call pipeline's generator.
type ReplyGenerator struct {
	Provider Provider
}

// Generate asks the provider for a reply to text from the named caller.
func (g *ReplyGenerator) Generate(ctx context.Context, text, name, convContext string) (string, error) {
	start := time.Now()
	raw, err := g.Provider.Complete(ctx, SystemPrompt, BuildPrompt(text, name, convContext))
	if err != nil {
		return "", fmt.Errorf("%s: %w", g.Provider.Name(), err)
	}
	reply := CleanReply(raw)
	if reply == "" {
		reply = FallbackReply
	}
	logging.DebugwCtx(ctx, "llm: reply generated", "provider", g.Provider.Name(), "chars_raw", len(raw), "chars", len(reply), "elapsed_ms", time.Since(start).Milliseconds())
	return reply, nil
}

// NewFromConfig builds the generator for the configured provider.
func NewFromConfig(ctx context.Context, cfg config.ReplyConfig, up config.UpstreamConfig) (*ReplyGenerator, error) {
	switch cfg.Provider {
	case "", "anthropic":
		httpc := upstream.NewClient("anthropic", up.Attempts, up.Timeout)
		return &ReplyGenerator{Provider: NewAnthropic(cfg.AnthropicURL, cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.MaxTokens, httpc)}, nil
	case "openai":
		httpc := upstream.NewClient("openai", up.Attempts, up.Timeout)
		return &ReplyGenerator{Provider: NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIFallbackModel, cfg.MaxTokens, httpc)}, nil
	case "gemini":
		p, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		return &ReplyGenerator{Provider: p}, nil
	default:
		return nil, fmt.Errorf("unknown reply provider %q", cfg.Provider)
	}
}
