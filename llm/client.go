package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/voice-call-lab/internal/logging"
	"github.com/voice-call-lab/internal/upstream"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
	MaxTokens     int
	HTTP          *upstream.Client
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type ChatResponse struct {
	ID      string `json:"id,omitempty"`
	Model   string `json:"model,omitempty"`
	Content string `json:"content,omitempty"`
}

var (
	ErrPermanent = upstream.ErrPermanent
	ErrTransient = upstream.ErrTransient
)

const maxTokensCeiling = 4000

// NewClient builds an OpenAI-compatible client. An empty base URL points at
// a local server.
func NewClient(baseURL, apiKey, model, fallback string, maxTokens int, http *upstream.Client) *Client {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000/v1"
	}
	if http == nil {
		http = upstream.NewClient("openai", 1, 20*time.Second)
	}
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		APIKey:        apiKey,
		Model:         model,
		FallbackModel: fallback,
		MaxTokens:     maxTokens,
		HTTP:          http,
	}
}

func (c *Client) Name() string { return "openai" }

// Complete implements Provider.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.CreateChatCompletion(ctx, ChatRequest{
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.MaxTokens,
		Temperature: replyTemperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// CreateChatCompletion sends req, retrying once on the fallback model when
// the primary fails transiently.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.Model
	}
	if model == "" {
		model = c.FallbackModel
	}
	if model == "" {
		model = "local"
	}
	req.Model = model

	if req.MaxTokens <= 0 {
		req.MaxTokens = 512
	}
	if req.MaxTokens > maxTokensCeiling {
		req.MaxTokens = maxTokensCeiling
	}

	resp, err := c.post(ctx, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, ErrTransient) && c.FallbackModel != "" && c.FallbackModel != model {
		logging.Warnw("llm: primary model failed, trying fallback", "model", model, "fallback", c.FallbackModel, "err", err)
		req.Model = c.FallbackModel
		select {
		case <-ctx.Done():
			return ChatResponse{}, fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
		case <-time.After(250 * time.Millisecond):
		}
		return c.post(ctx, req)
	}
	return ChatResponse{}, err
}

func (c *Client) post(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	header := http.Header{}
	if c.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.APIKey)
	}
	body, err := c.HTTP.PostJSON(ctx, c.BaseURL+"/chat/completions", req, header)
	if err != nil {
		return ChatResponse{}, err
	}
	var out struct {
		ID      string `json:"id"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return ChatResponse{}, fmt.Errorf("%w: decode error: %v", ErrTransient, err)
	}
	content := ""
	if len(out.Choices) > 0 {
		content = out.Choices[0].Message.Content
	}
	return ChatResponse{ID: out.ID, Model: req.Model, Content: content}, nil
}
