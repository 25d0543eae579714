package mcp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

var errSocketClosed = errors.New("mcp: socket closed")

// socket is both the sdk.Transport and the single sdk.Connection it yields.
// One JSON-RPC message travels per websocket text frame.
type socket struct {
	ws *websocket.Conn
	id string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newSocket(ws *websocket.Conn) *socket {
	return &socket{ws: ws, id: uuid.NewString(), closed: make(chan struct{})}
}

func (s *socket) Connect(context.Context) (sdk.Connection, error) {
	select {
	case <-s.closed:
		return nil, errSocketClosed
	default:
		return s, nil
	}
}

func (s *socket) Read(ctx context.Context) (jsonrpc.Message, error) {
	reset := withDeadline(ctx, s.ws.SetReadDeadline)
	defer reset()
	for {
		mt, frame, err := s.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return jsonrpc.DecodeMessage(frame)
		}
	}
}

func (s *socket) Write(ctx context.Context, msg jsonrpc.Message) error {
	frame, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.closed:
		return errSocketClosed
	default:
	}
	reset := withDeadline(ctx, s.ws.SetWriteDeadline)
	defer reset()
	return s.ws.WriteMessage(websocket.TextMessage, frame)
}

func (s *socket) Close() error {
	err := errSocketClosed
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.ws.Close()
	})
	if errors.Is(err, errSocketClosed) {
		return nil
	}
	return err
}

func (s *socket) SessionID() string { return s.id }

// withDeadline applies the context deadline, if any, and returns the reset.
func withDeadline(ctx context.Context, set func(time.Time) error) func() {
	dl, ok := ctx.Deadline()
	if !ok {
		return func() {}
	}
	_ = set(dl)
	return func() { _ = set(time.Time{}) }
}
