package voice

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// MediaEventKind identifies a frame on the telephony media stream.
type MediaEventKind int

const (
	EventUnrecognized MediaEventKind = iota
	EventConnected
	EventStart
	EventMedia
	EventStop
)

func (k MediaEventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventStart:
		return "start"
	case EventMedia:
		return "media"
	case EventStop:
		return "stop"
	default:
		return "unrecognized"
	}
}

// MediaEvent is a decoded media stream frame. Name keeps the raw event name
// for unrecognized frames.
type MediaEvent struct {
	Kind     MediaEventKind
	Name     string
	CallID   string
	StreamID string
	Payload  string
}

// Audio decodes the base64 payload of a media event.
func (e MediaEvent) Audio() (Chunk, error) {
	b, err := base64.StdEncoding.DecodeString(e.Payload)
	if err != nil {
		return nil, &DecodeError{Frame: "media", Err: err}
	}
	return Chunk(b), nil
}

type mediaFrame struct {
	Event    string `json:"event"`
	StreamID string `json:"stream_id"`
	Start    *struct {
		CallControlID string `json:"call_control_id"`
		StreamID      string `json:"stream_id"`
	} `json:"start"`
	Media *struct {
		Track   string `json:"track"`
		Payload string `json:"payload"`
	} `json:"media"`
}

var errMissingCallID = errors.New("start frame without call_control_id")

// DecodeMediaEvent parses one frame. Malformed JSON and start frames that
// carry no call id yield a *DecodeError.
func DecodeMediaEvent(data []byte) (MediaEvent, error) {
	var f mediaFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return MediaEvent{}, &DecodeError{Frame: "media stream", Err: err}
	}
	ev := MediaEvent{Name: f.Event, StreamID: f.StreamID}
	switch f.Event {
	case "connected":
		ev.Kind = EventConnected
	case "start":
		ev.Kind = EventStart
		if f.Start != nil {
			ev.CallID = f.Start.CallControlID
			if f.Start.StreamID != "" {
				ev.StreamID = f.Start.StreamID
			}
		}
		if ev.CallID == "" {
			return ev, &DecodeError{Frame: "start", Err: errMissingCallID}
		}
	case "media":
		ev.Kind = EventMedia
		if f.Media != nil {
			ev.Payload = f.Media.Payload
		}
	case "stop":
		ev.Kind = EventStop
	default:
		ev.Kind = EventUnrecognized
	}
	return ev, nil
}
