package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Gemini generates replies through the Gemini API.
type Gemini struct {
	client    *genai.Client
	Model     string
	MaxTokens int32
}

// NewGemini builds a Gemini provider. baseURL overrides the API endpoint
// and is normally empty.
func NewGemini(ctx context.Context, apiKey, model, baseURL string, maxTokens int) (*Gemini, error) {
	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if maxTokens <= 0 {
		maxTokens = 120
	}
	return &Gemini{client: client, Model: model, MaxTokens: int32(maxTokens)}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.Model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr[float32](replyTemperature),
		MaxOutputTokens:   g.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return resp.Text(), nil
}
