package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/voice-call-lab/internal/upstream"
)

const anthropicVersion = "2023-06-01"

// Anthropic calls the Messages API.
type Anthropic struct {
	URL       string
	APIKey    string
	Model     string
	MaxTokens int
	HTTP      *upstream.Client
}

func NewAnthropic(url, apiKey, model string, maxTokens int, httpc *upstream.Client) *Anthropic {
	if url == "" {
		url = "https://api.anthropic.com/v1/messages"
	}
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}
	if maxTokens <= 0 {
		maxTokens = 120
	}
	if httpc == nil {
		httpc = upstream.NewClient("anthropic", 1, 20*time.Second)
	}
	return &Anthropic{URL: url, APIKey: apiKey, Model: model, MaxTokens: maxTokens, HTTP: httpc}
}

func (a *Anthropic) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      string        `json:"system"`
	Messages    []ChatMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete returns the first text block of the response.
func (a *Anthropic) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := anthropicRequest{
		Model:       a.Model,
		MaxTokens:   a.MaxTokens,
		Temperature: replyTemperature,
		System:      system,
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
	}
	header := http.Header{}
	header.Set("x-api-key", a.APIKey)
	header.Set("anthropic-version", anthropicVersion)

	body, err := a.HTTP.PostJSON(ctx, a.URL, req, header)
	if err != nil {
		return "", err
	}
	var out anthropicResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: decode error: %v", ErrTransient, err)
	}
	for _, block := range out.Content {
		if block.Type == "" || block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", nil
}
