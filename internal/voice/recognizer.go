package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voice-call-lab/internal/config"
	"github.com/voice-call-lab/internal/logging"
	"github.com/voice-call-lab/internal/metrics"
)

const (
	// DefaultKeepAlive is the ping period on an idle recognizer connection.
	DefaultKeepAlive = 25 * time.Second
	controlWait      = 5 * time.Second
	closeGrace       = 5 * time.Second
)

// RecognizerDialer opens one recognition stream per call.
type RecognizerDialer interface {
	Dial(ctx context.Context, callID string) (RecognizerStream, error)
}

// RecognizerStream is the two halves of a recognizer connection. Send and
// Receive run concurrently; Receive closes out when it returns.
type RecognizerStream interface {
	Send(ctx context.Context, in <-chan Chunk) error
	Receive(ctx context.Context, out chan<- Transcript) error
}

// Deepgram dials the live transcription websocket.
type Deepgram struct {
	cfg       config.RecognizerConfig
	Dialer    *websocket.Dialer
	KeepAlive time.Duration
	Metrics   *metrics.Metrics
}

// NewDeepgram returns a dialer for the configured recognizer endpoint.
func NewDeepgram(cfg config.RecognizerConfig, m *metrics.Metrics) *Deepgram {
	return &Deepgram{cfg: cfg, Dialer: websocket.DefaultDialer, KeepAlive: DefaultKeepAlive, Metrics: m}
}

// ListenURL is the endpoint with the fixed μ-law 8 kHz mono stream settings.
func (d *Deepgram) ListenURL() (string, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("recognizer url: %w", err)
	}
	q := u.Query()
	q.Set("encoding", "mulaw")
	q.Set("sample_rate", "8000")
	q.Set("channels", "1")
	q.Set("language", d.cfg.Language)
	q.Set("model", d.cfg.Model)
	q.Set("interim_results", "true")
	q.Set("endpointing", strconv.Itoa(d.cfg.EndpointingMs))
	q.Set("utterance_end_ms", strconv.Itoa(d.cfg.UtteranceEndMs))
	q.Set("vad_turnoff", strconv.Itoa(d.cfg.VADTurnoffMs))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects once. There is no reconnect: a failed dial aborts the call's
// pipeline before anything is wired.
func (d *Deepgram) Dial(ctx context.Context, callID string) (RecognizerStream, error) {
	listenURL, err := d.ListenURL()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	scheme := d.cfg.AuthScheme
	if scheme == "" {
		scheme = "Token"
	}
	header.Set("Authorization", scheme+" "+d.cfg.APIKey)

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, listenURL, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		d.Metrics.UpstreamError("recognizer")
		return nil, &TransportError{Op: "dial recognizer", Err: err}
	}
	logging.Infow("recognizer: connected", logging.CallFields(callID)...)
	keepAlive := d.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &deepgramStream{conn: conn, keepAlive: keepAlive, metrics: d.Metrics}, nil
}

type deepgramStream struct {
	conn      *websocket.Conn
	keepAlive time.Duration
	metrics   *metrics.Metrics
	closeOnce sync.Once
	// closing is set once the close frame went out; read errors after that
	// are the expected end of the stream.
	closing atomic.Bool
}

func (s *deepgramStream) close() {
	s.closeOnce.Do(func() { _ = s.conn.Close() })
}

// Send forwards each chunk as a binary message and pings on an interval.
// When in closes it sends a close frame and gives the receiver closeGrace to
// finish. After a write failure the rest of in is discarded so upstream
// stages can still drain and exit.
func (s *deepgramStream) Send(ctx context.Context, in <-chan Chunk) error {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				s.closing.Store(true)
				err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWait))
				_ = s.conn.SetReadDeadline(time.Now().Add(closeGrace))
				if err != nil && !isClosed(err) {
					return &TransportError{Op: "close recognizer", Err: err}
				}
				logging.DebugwCtx(ctx, "recognizer: send side closed")
				return nil
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return s.abandon(ctx, in, &TransportError{Op: "write audio", Err: err})
			}
			s.metrics.AudioBytes("recognizer", len(chunk))
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWait)); err != nil {
				return s.abandon(ctx, in, &TransportError{Op: "ping", Err: err})
			}
			logging.DebugwCtx(ctx, "recognizer: keepalive ping")
		}
	}
}

func (s *deepgramStream) abandon(ctx context.Context, in <-chan Chunk, err error) error {
	logging.WarnwCtx(ctx, "recognizer: send side failed, discarding audio", "err", err)
	s.metrics.UpstreamError("recognizer")
	s.close()
	for range in {
	}
	return err
}

type deepgramMessage struct {
	Type    string          `json:"type"`
	IsFinal bool            `json:"is_final"`
	Channel json.RawMessage `json:"channel"`
}

type deepgramChannel struct {
	Alternatives []struct {
		Transcript string  `json:"transcript"`
		Confidence float64 `json:"confidence"`
	} `json:"alternatives"`
}

// Receive decodes recognition results until the connection ends, then
// closes out. Messages without a non-empty transcript are skipped.
func (s *deepgramStream) Receive(ctx context.Context, out chan<- Transcript) error {
	defer close(out)
	defer s.close()
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if isClosed(err) || s.closing.Load() {
				logging.DebugwCtx(ctx, "recognizer: connection closed")
				return nil
			}
			return &TransportError{Op: "read recognizer", Err: err}
		}
		if mt != websocket.TextMessage {
			continue
		}
		t, ok, err := decodeDeepgram(data)
		if err != nil {
			logging.WarnwCtx(ctx, "recognizer: dropping message", "err", err)
			continue
		}
		if !ok {
			continue
		}
		out <- t
	}
}

// decodeDeepgram extracts a transcript from a results message. Other
// message shapes (metadata, UtteranceEnd with its channel index array) are
// reported as not ok, as are results with no transcript text, final or not.
func decodeDeepgram(data []byte) (Transcript, bool, error) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Transcript{}, false, &DecodeError{Frame: "recognizer", Err: err}
	}
	if len(msg.Channel) == 0 || msg.Channel[0] != '{' {
		return Transcript{}, false, nil
	}
	var ch deepgramChannel
	if err := json.Unmarshal(msg.Channel, &ch); err != nil {
		return Transcript{}, false, &DecodeError{Frame: "recognizer", Err: err}
	}
	if len(ch.Alternatives) == 0 || ch.Alternatives[0].Transcript == "" {
		return Transcript{}, false, nil
	}
	alt := ch.Alternatives[0]
	return Transcript{Text: alt.Transcript, Confidence: alt.Confidence, IsFinal: msg.IsFinal}, true, nil
}
