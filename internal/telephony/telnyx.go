// Package telephony drives calls through the Telnyx Call Control v2 API.
package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voice-call-lab/internal/config"
	"github.com/voice-call-lab/internal/logging"
	"github.com/voice-call-lab/internal/upstream"
)

// ClientState rides along with a call and comes back on every webhook.
type ClientState struct {
	Nombre        string `json:"nombre"`
	Telefono      string `json:"telefono"`
	Contexto      string `json:"contexto,omitempty"`
	Saludo        string `json:"saludo,omitempty"`
	CallControlID string `json:"call_control_id,omitempty"`
}

// Encode returns the base64 JSON form Telnyx expects.
func (s ClientState) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeClientState parses a base64 JSON client state.
func DecodeClientState(encoded string) (ClientState, error) {
	var s ClientState
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return s, fmt.Errorf("client state: %w", err)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("client state: %w", err)
	}
	return s, nil
}

// InitiateRequest describes an outbound call.
type InitiateRequest struct {
	To      string
	Name    string
	Phone   string
	Context string
	// Greeting replaces the time-of-day opening line for this call.
	Greeting string
	// StreamURL, when set, asks Telnyx to fork inbound audio to a websocket.
	StreamURL string
}

type CallResponse struct {
	CallControlID string    `json:"call_control_id"`
	CallID        string    `json:"call_id"`
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
}

// Client is a Call Control client bound to one connection and caller id.
type Client struct {
	BaseURL      string
	APIKey       string
	ConnectionID string
	PhoneNumber  string
	WebhookURL   string
	HTTP         *upstream.Client
	now          func() time.Time
}

func NewClient(cfg config.TelnyxConfig, webhookURL string, up config.UpstreamConfig) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.telnyx.com/v2"
	}
	return &Client{
		BaseURL:      base,
		APIKey:       cfg.APIKey,
		ConnectionID: cfg.ConnectionID,
		PhoneNumber:  cfg.PhoneNumber,
		WebhookURL:   webhookURL,
		HTTP:         upstream.NewClient("telnyx", up.Attempts, up.Timeout),
		now:          time.Now,
	}
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.APIKey)
	return h
}

func (c *Client) action(ctx context.Context, callID, action string, payload any) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/calls/%s/actions/%s", c.BaseURL, url.PathEscape(callID), action)
	if payload == nil {
		payload = struct{}{}
	}
	return c.HTTP.PostJSON(ctx, endpoint, payload, c.header())
}

type dialPayload struct {
	ConnectionID              string `json:"connection_id"`
	To                        string `json:"to"`
	From                      string `json:"from"`
	WebhookURL                string `json:"webhook_url"`
	ClientState               string `json:"client_state"`
	AnsweringMachineDetection string `json:"answering_machine_detection"`
	StreamURL                 string `json:"stream_url,omitempty"`
	StreamTrack               string `json:"stream_track,omitempty"`
}

// InitiateCall dials req.To and returns the new call's identifiers.
func (c *Client) InitiateCall(ctx context.Context, req InitiateRequest) (CallResponse, error) {
	state, err := ClientState{Nombre: req.Name, Telefono: req.Phone, Contexto: req.Context, Saludo: req.Greeting}.Encode()
	if err != nil {
		return CallResponse{}, fmt.Errorf("%w: telnyx: %v", upstream.ErrPermanent, err)
	}
	payload := dialPayload{
		ConnectionID:              c.ConnectionID,
		To:                        req.To,
		From:                      c.PhoneNumber,
		WebhookURL:                c.WebhookURL,
		ClientState:               state,
		AnsweringMachineDetection: "disabled",
	}
	if req.StreamURL != "" {
		payload.StreamURL = req.StreamURL
		payload.StreamTrack = "inbound_track"
	}
	body, err := c.HTTP.PostJSON(ctx, c.BaseURL+"/calls", payload, c.header())
	if err != nil {
		return CallResponse{}, err
	}
	var out struct {
		Data struct {
			CallControlID string `json:"call_control_id"`
			CallID        string `json:"call_id"`
			CallLegID     string `json:"call_leg_id"`
			CallSessionID string `json:"call_session_id"`
			Status        string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return CallResponse{}, fmt.Errorf("%w: telnyx: decode call response: %v", upstream.ErrPermanent, err)
	}
	d := out.Data
	if d.CallControlID == "" {
		return CallResponse{}, fmt.Errorf("%w: telnyx: response missing call_control_id", upstream.ErrPermanent)
	}
	resp := CallResponse{
		CallControlID: d.CallControlID,
		CallID:        firstNonEmpty(d.CallID, d.CallLegID, d.CallSessionID, "unknown"),
		Status:        firstNonEmpty(d.Status, "initiated"),
		Timestamp:     c.now().UTC(),
	}
	logging.Infow("telnyx: call initiated", append(logging.CallFields(resp.CallControlID), "to", req.To, "streaming", req.StreamURL != "")...)
	return resp, nil
}

// PlayAudio starts playback of audioURL on the call.
func (c *Client) PlayAudio(ctx context.Context, callID, audioURL string) error {
	state, _ := json.Marshal(map[string]bool{"interruptible": true})
	_, err := c.action(ctx, callID, "playback_start", map[string]any{
		"audio_url":    audioURL,
		"loop":         1,
		"overlay":      false,
		"target_legs":  "self",
		"client_state": base64.StdEncoding.EncodeToString(state),
	})
	return err
}

// StartTranscription turns on provider transcription; results arrive as
// webhooks.
func (c *Client) StartTranscription(ctx context.Context, callID string) error {
	_, err := c.action(ctx, callID, "transcription_start", map[string]string{
		"transcription_engine": "ai",
		"language":             "es-ES",
		"webhook_url":          c.WebhookURL,
	})
	return err
}

func (c *Client) Hangup(ctx context.Context, callID string) error {
	_, err := c.action(ctx, callID, "hangup", nil)
	if err == nil {
		logging.Infow("telnyx: hangup sent", logging.CallFields(callID)...)
	}
	return err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
