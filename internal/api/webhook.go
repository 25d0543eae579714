package api

import (
	"encoding/json"
	"fmt"
)

// EventKind is the webhook event type.
type EventKind string

const (
	EventAnswered        EventKind = "call.answered"
	EventHangup          EventKind = "call.hangup"
	EventPlaybackStarted EventKind = "call.playback.started"
	EventPlaybackEnded   EventKind = "call.playback.ended"
	EventSpeakEnded      EventKind = "call.speak.ended"
	EventTranscribed     EventKind = "call.transcription.transcribed"
	EventTranscript      EventKind = "call.transcription.transcript_received"
	EventTranscriptPart  EventKind = "call.transcription.partial"
	EventUnrecognized    EventKind = ""
)

// WebhookEvent is a call-control webhook flattened to the fields this
// service acts on.
type WebhookEvent struct {
	Kind          EventKind
	RawType       string
	CallControlID string
	ClientState   string
	Transcript    string
	Confidence    float64
	IsFinal       bool
}

// NeedsCall reports whether the event is meaningless without a call id.
func (e WebhookEvent) NeedsCall() bool {
	switch e.Kind {
	case EventAnswered, EventHangup, EventPlaybackStarted, EventPlaybackEnded, EventSpeakEnded, EventTranscribed, EventTranscript:
		return true
	}
	return false
}

type transcriptionData struct {
	Transcript string   `json:"transcript"`
	Confidence *float64 `json:"confidence"`
	IsFinal    *bool    `json:"is_final"`
}

type eventFields struct {
	EventType         string             `json:"event_type"`
	CallControlID     string             `json:"call_control_id"`
	ClientState       string             `json:"client_state"`
	Transcript        string             `json:"transcript"`
	Confidence        *float64           `json:"confidence"`
	IsFinal           *bool              `json:"is_final"`
	TranscriptionData *transcriptionData `json:"transcription_data"`
}

type webhookEnvelope struct {
	Data struct {
		eventFields
		Payload eventFields `json:"payload"`
	} `json:"data"`
	Meta struct {
		EventType string `json:"event_type"`
	} `json:"meta"`
}

// ParseWebhook decodes a webhook body. Fields may sit directly under data
// or under data.payload; the first non-empty value wins.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook: %w", err)
	}
	top, nested := env.Data.eventFields, env.Data.Payload

	ev := WebhookEvent{
		RawType:       first(top.EventType, env.Meta.EventType, nested.EventType),
		CallControlID: first(top.CallControlID, nested.CallControlID),
		ClientState:   first(top.ClientState, nested.ClientState),
		Transcript:    first(top.Transcript, nested.Transcript),
	}
	ev.Kind = kindOf(ev.RawType)

	conf := firstPtr(top.Confidence, nested.Confidence)
	final := firstPtr(top.IsFinal, nested.IsFinal)
	for _, td := range []*transcriptionData{top.TranscriptionData, nested.TranscriptionData} {
		if td == nil {
			continue
		}
		if ev.Transcript == "" {
			ev.Transcript = td.Transcript
		}
		conf = firstPtr(conf, td.Confidence)
		final = firstPtr(final, td.IsFinal)
	}
	if conf != nil {
		ev.Confidence = *conf
	}
	if final != nil {
		ev.IsFinal = *final
	}
	return ev, nil
}

func kindOf(t string) EventKind {
	switch k := EventKind(t); k {
	case EventAnswered, EventHangup, EventPlaybackStarted, EventPlaybackEnded, EventSpeakEnded,
		EventTranscribed, EventTranscript, EventTranscriptPart:
		return k
	}
	return EventUnrecognized
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPtr[T any](ps ...*T) *T {
	for _, p := range ps {
		if p != nil {
			return p
		}
	}
	return nil
}
