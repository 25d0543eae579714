// Package mcp exposes call administration as MCP tools over a websocket.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voice-call-lab/internal/dispatch"
	"github.com/voice-call-lab/internal/logging"
)

type noArgs struct{}

type initiateArgs struct {
	Telefono string `json:"telefono" jsonschema:"destination phone number in E.164 form"`
	Nombre   string `json:"nombre,omitempty" jsonschema:"caller name used in replies"`
	Contexto string `json:"contexto,omitempty" jsonschema:"optional briefing for the receptionist"`
}

type callArgs struct {
	CallControlID string `json:"call_control_id" jsonschema:"call control id of an active call"`
}

type replyArgs struct {
	Nombre   string `json:"nombre,omitempty"`
	Mensaje  string `json:"mensaje" jsonschema:"what the caller said"`
	Contexto string `json:"contexto,omitempty"`
}

// NewAdminServer registers the admin tools backed by d.
func NewAdminServer(d *dispatch.Dispatcher, version string) *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: "voice-call-admin", Version: version}, nil)

	sdk.AddTool(server, &sdk.Tool{Name: "list_calls", Description: "list active call pipelines"},
		func(ctx context.Context, req *sdk.CallToolRequest, _ noArgs) (*sdk.CallToolResult, any, error) {
			return jsonResult(d.ActiveCalls())
		})

	sdk.AddTool(server, &sdk.Tool{Name: "call_stats", Description: "session and call counters"},
		func(ctx context.Context, req *sdk.CallToolRequest, _ noArgs) (*sdk.CallToolResult, any, error) {
			return jsonResult(d.Stats())
		})

	sdk.AddTool(server, &sdk.Tool{Name: "initiate_call", Description: "place an outbound call"},
		func(ctx context.Context, req *sdk.CallToolRequest, args initiateArgs) (*sdk.CallToolResult, any, error) {
			resp, err := d.Initiate(ctx, dispatch.CallRequest{Telefono: args.Telefono, Nombre: args.Nombre, Contexto: args.Contexto})
			if err != nil {
				return errorResult(err), nil, nil
			}
			return jsonResult(resp)
		})

	sdk.AddTool(server, &sdk.Tool{Name: "hangup_call", Description: "hang up an active call"},
		func(ctx context.Context, req *sdk.CallToolRequest, args callArgs) (*sdk.CallToolResult, any, error) {
			if args.CallControlID == "" {
				return errorResult(fmt.Errorf("call_control_id is required")), nil, nil
			}
			if err := d.Hangup(ctx, args.CallControlID); err != nil {
				return errorResult(err), nil, nil
			}
			return textResult("hangup requested for " + args.CallControlID), nil, nil
		})

	sdk.AddTool(server, &sdk.Tool{Name: "test_reply", Description: "generate a receptionist reply without a call"},
		func(ctx context.Context, req *sdk.CallToolRequest, args replyArgs) (*sdk.CallToolResult, any, error) {
			reply, err := d.TestReply(ctx, args.Nombre, args.Mensaje, args.Contexto)
			if err != nil {
				return errorResult(err), nil, nil
			}
			return textResult(reply), nil, nil
		})

	return server
}

func textResult(s string) *sdk.CallToolResult {
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: s}}}
}

func errorResult(err error) *sdk.CallToolResult {
	r := textResult(err.Error())
	r.IsError = true
	return r
}

func jsonResult(v any) (*sdk.CallToolResult, any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return textResult(string(b)), nil, nil
}

// Handler accepts MCP clients on a websocket and serves each on its own
// session until the client disconnects.
type Handler struct {
	Server   *sdk.Server
	Upgrader websocket.Upgrader
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("mcp: ws upgrade failed", "err", err)
		return
	}
	go func() {
		session, err := h.Server.Connect(context.Background(), newSocket(conn), nil)
		if err != nil {
			logging.Warnw("mcp: server connect failed", "err", err)
			_ = conn.Close()
			return
		}
		if err := session.Wait(); err != nil {
			logging.Debugw("mcp: session ended", "err", err)
			return
		}
		logging.Debugw("mcp: session ended")
	}()
}
