package voice

import (
	"context"
	"errors"
	"net"

	"github.com/gorilla/websocket"

	"github.com/voice-call-lab/internal/logging"
	"github.com/voice-call-lab/internal/metrics"
)

// MediaConn is the server side of a telephony media stream. Text frames
// carry JSON events; binary frames after start carry raw audio.
type MediaConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

// isClosed reports a close the pipeline should treat as a normal end of
// stream: the peer closed cleanly or hangup closed the socket locally.
func isClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
		errors.Is(err, net.ErrClosed)
}

// awaitStart reads frames until a start event. Other events are ignored.
// A read failure or a frame that cannot be decoded aborts setup.
func awaitStart(conn MediaConn) (MediaEvent, error) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return MediaEvent{}, &TransportError{Op: "read", Err: err}
		}
		if mt == websocket.BinaryMessage {
			continue
		}
		ev, err := DecodeMediaEvent(data)
		if err != nil {
			return MediaEvent{}, err
		}
		if ev.Kind == EventStart {
			return ev, nil
		}
		logging.Debugw("media: ignoring frame before start", "event", ev.Name)
	}
}

// ingest forwards decoded audio to out until a stop event or the transport
// closes, then closes out. Undecodable frames are dropped.
func ingest(ctx context.Context, conn MediaConn, out chan<- Chunk, m *metrics.Metrics) error {
	defer close(out)
	frames := 0
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if isClosed(err) {
				logging.InfowCtx(ctx, "media: stream closed", "frames", frames)
				return nil
			}
			return &TransportError{Op: "read", Err: err}
		}

		var chunk Chunk
		if mt == websocket.BinaryMessage {
			chunk = Chunk(data)
		} else {
			ev, err := DecodeMediaEvent(data)
			if err != nil {
				logging.WarnwCtx(ctx, "media: dropping frame", "err", err)
				continue
			}
			switch ev.Kind {
			case EventMedia:
				chunk, err = ev.Audio()
				if err != nil {
					logging.WarnwCtx(ctx, "media: dropping frame", "err", err)
					continue
				}
			case EventStop:
				logging.InfowCtx(ctx, "media: stop received", "frames", frames)
				return nil
			default:
				continue
			}
		}
		if len(chunk) == 0 {
			continue
		}
		frames++
		m.AudioBytes("inbound", len(chunk))
		out <- chunk
	}
}
