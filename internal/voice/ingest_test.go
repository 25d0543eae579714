package voice

import (
	"context"
	"errors"
	"testing"

	"github.com/gorilla/websocket"
)

func TestAwaitStartIgnoresHandshake(t *testing.T) {
	c := newFakeConn()
	c.pushJSON(map[string]string{"event": "connected"})
	c.pushRaw(websocket.BinaryMessage, []byte{1, 2, 3})
	c.media([]byte{9})
	c.start("v3:call")

	ev, err := awaitStart(c)
	if err != nil {
		t.Fatalf("awaitStart: %v", err)
	}
	if ev.CallID != "v3:call" || ev.StreamID != "s-v3:call" {
		t.Fatalf("unexpected start %+v", ev)
	}
}

func TestAwaitStartAbortsOnDecodeFailure(t *testing.T) {
	c := newFakeConn()
	c.pushRaw(websocket.TextMessage, []byte("garbage"))
	var de *DecodeError
	if _, err := awaitStart(c); !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestAwaitStartAbortsOnClose(t *testing.T) {
	c := newFakeConn()
	c.end()
	var te *TransportError
	if _, err := awaitStart(c); !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestIngestForwardsAndStops(t *testing.T) {
	c := newFakeConn()
	c.media([]byte("uno"))
	c.pushJSON(map[string]any{"event": "media", "media": map[string]string{"payload": "%%%"}})
	c.pushRaw(websocket.TextMessage, []byte("{broken"))
	c.pushRaw(websocket.BinaryMessage, []byte("dos"))
	c.pushJSON(map[string]string{"event": "mark"})
	c.pushJSON(map[string]string{"event": "stop"})
	c.media([]byte("after stop"))

	out := make(chan Chunk, 10)
	if err := ingest(context.Background(), c, out, nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var got []string
	for ch := range out {
		got = append(got, string(ch))
	}
	if len(got) != 2 || got[0] != "uno" || got[1] != "dos" {
		t.Fatalf("unexpected chunks %q", got)
	}
}

func TestIngestEndsOnLocalClose(t *testing.T) {
	c := newFakeConn()
	out := make(chan Chunk, 1)
	done := make(chan error, 1)
	go func() { done <- ingest(context.Background(), c, out, nil) }()

	c.Close()
	if err := <-done; err != nil {
		t.Fatalf("local close should end ingestion cleanly, got %v", err)
	}
	if _, ok := <-out; ok {
		t.Fatalf("expected out to be closed")
	}
}
