package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	mt   int
	data []byte
}

// fakeConn is an in-memory media stream. end() simulates a clean peer
// close; Close() simulates a local hangup.
type fakeConn struct {
	frames chan frame
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan frame, 1024), closed: make(chan struct{})}
}

func (c *fakeConn) pushJSON(v any) {
	b, _ := json.Marshal(v)
	c.frames <- frame{mt: websocket.TextMessage, data: b}
}

func (c *fakeConn) pushRaw(mt int, data []byte) { c.frames <- frame{mt: mt, data: data} }

func (c *fakeConn) start(callID string) {
	c.pushJSON(map[string]any{"event": "start", "start": map[string]string{"call_control_id": callID, "stream_id": "s-" + callID}})
}

func (c *fakeConn) media(audio []byte) {
	c.pushJSON(map[string]any{"event": "media", "media": map[string]string{"payload": base64.StdEncoding.EncodeToString(audio)}})
}

func (c *fakeConn) end() { close(c.frames) }

// ReadMessage returns frames already queued before reporting a local close,
// so tests never race hangup against delivered audio.
func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return f.mt, f.data, nil
	default:
	}
	select {
	case f, ok := <-c.frames:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return f.mt, f.data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeStream records audio sent to the recognizer and replays scripted
// transcripts. Receive holds the stream open until the send side closes,
// like a recognizer that answers the close frame.
type fakeStream struct {
	mu          sync.Mutex
	sent        []byte
	messages    int
	transcripts []Transcript
	sendClosed  chan struct{}
}

func newFakeStream(ts ...Transcript) *fakeStream {
	return &fakeStream{transcripts: ts, sendClosed: make(chan struct{})}
}

func (s *fakeStream) Send(ctx context.Context, in <-chan Chunk) error {
	for c := range in {
		s.mu.Lock()
		s.sent = append(s.sent, c...)
		s.messages++
		s.mu.Unlock()
	}
	close(s.sendClosed)
	return nil
}

func (s *fakeStream) Receive(ctx context.Context, out chan<- Transcript) error {
	defer close(out)
	for _, t := range s.transcripts {
		out <- t
	}
	<-s.sendClosed
	return nil
}

func (s *fakeStream) sentBytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.sent...)
}

type fakeDialer struct {
	stream *fakeStream
	err    error
	mu     sync.Mutex
	dials  int
}

func (d *fakeDialer) Dial(ctx context.Context, callID string) (RecognizerStream, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

type generatorFunc func(ctx context.Context, text, name, convContext string) (string, error)

func (f generatorFunc) Generate(ctx context.Context, text, name, convContext string) (string, error) {
	return f(ctx, text, name, convContext)
}

type synthFunc func(ctx context.Context, text string) ([]byte, error)

func (f synthFunc) Synthesize(ctx context.Context, text string) ([]byte, error) { return f(ctx, text) }

// echoSynth returns the text itself as audio so tests can map URLs back to
// reply text.
var echoSynth = synthFunc(func(_ context.Context, text string) ([]byte, error) { return []byte(text), nil })

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
	failKey string
}

func newMemStore() *memStore { return &memStore{objects: make(map[string][]byte)} }

func (s *memStore) Upload(_ context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failKey != "" && strings.Contains(string(data), s.failKey) {
		return "", errors.New("upload refused")
	}
	s.uploads++
	s.objects[key] = data
	return s.URL(key), nil
}

func (s *memStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStore) URL(key string) string { return "mem://" + key }

func (s *memStore) textFor(url string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.objects[strings.TrimPrefix(url, "mem://")])
}

type recordPlayer struct {
	mu     sync.Mutex
	calls  []string
	urls   []string
	played chan string
}

func newRecordPlayer() *recordPlayer { return &recordPlayer{played: make(chan string, 64)} }

func (p *recordPlayer) PlayAudio(_ context.Context, callID, url string) error {
	p.mu.Lock()
	p.calls = append(p.calls, callID)
	p.urls = append(p.urls, url)
	p.mu.Unlock()
	p.played <- url
	return nil
}

func (p *recordPlayer) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.urls...)
}

func (p *recordPlayer) wait(n int, d time.Duration) []string {
	deadline := time.After(d)
	got := 0
	for got < n {
		select {
		case <-p.played:
			got++
		case <-deadline:
			return p.snapshot()
		}
	}
	return p.snapshot()
}
