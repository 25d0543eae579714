package mcp

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voice-call-lab/internal/logging"
)

const pingInterval = 30 * time.Second

var ErrNotConnected = errors.New("mcp: client not connected")

// ToolError is a failure reported by the tool itself rather than the session.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string { return e.Tool + ": " + e.Message }

// ClientWrapper is the admin client used by callctl. It holds at most one
// session and pings it while connected.
type ClientWrapper struct {
	client *sdk.Client

	mu       sync.Mutex
	session  *sdk.ClientSession
	stopPing context.CancelFunc
}

func NewClientWrapper(name, version string) *ClientWrapper {
	return &ClientWrapper{client: sdk.NewClient(&sdk.Implementation{Name: name, Version: version}, nil)}
}

// ConnectWebSocket dials addr, accepting http(s) or ws(s) URLs, and replaces
// any previous session.
func (w *ClientWrapper) ConnectWebSocket(ctx context.Context, addr string) error {
	target, err := socketURL(addr)
	if err != nil {
		return err
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return err
	}
	sess, err := w.client.Connect(ctx, newSocket(ws), nil)
	if err != nil {
		_ = ws.Close()
		return err
	}

	pingCtx, stop := context.WithCancel(context.Background())
	w.mu.Lock()
	prevSession, prevStop := w.session, w.stopPing
	w.session, w.stopPing = sess, stop
	w.mu.Unlock()
	if prevStop != nil {
		prevStop()
	}
	if prevSession != nil {
		_ = prevSession.Close()
	}

	go ping(pingCtx, sess)
	logging.Debugw("mcp: client connected", "url", target)
	return nil
}

func socketURL(addr string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	}
	return u.String(), nil
}

func ping(ctx context.Context, sess *sdk.ClientSession) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := sess.Ping(ctx, nil); err != nil && ctx.Err() == nil {
				logging.Warnw("mcp: keepalive ping failed", "err", err)
			}
		}
	}
}

// CallTool runs a tool and returns its text content. A result flagged as an
// error comes back as *ToolError.
func (w *ClientWrapper) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	w.mu.Lock()
	sess := w.session
	w.mu.Unlock()
	if sess == nil {
		return "", ErrNotConnected
	}
	if args == nil {
		args = map[string]any{}
	}
	res, err := sess.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, c := range res.Content {
		tc, ok := c.(*sdk.TextContent)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(tc.Text)
	}
	if res.IsError {
		return "", &ToolError{Tool: name, Message: b.String()}
	}
	return b.String(), nil
}

func (w *ClientWrapper) Close() error {
	w.mu.Lock()
	sess, stop := w.session, w.stopPing
	w.session, w.stopPing = nil, nil
	w.mu.Unlock()
	if stop != nil {
		stop()
	}
	if sess == nil {
		return nil
	}
	return sess.Close()
}
