package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/voice-call-lab/internal/mcp"
)

const defaultAddr = "ws://localhost:3000/mcp/ws"

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	fs := flag.NewFlagSet(args[1], flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("CALLCTL_ADDR", defaultAddr), "admin websocket address")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	name := fs.String("name", "", "caller name")
	briefing := fs.String("context", "", "call briefing")
	if err := fs.Parse(args[2:]); err != nil {
		return 2
	}

	var tool string
	params := map[string]any{}
	switch args[1] {
	case "calls":
		tool = "list_calls"
	case "stats":
		tool = "call_stats"
	case "dial":
		if fs.NArg() != 1 {
			fmt.Fprintln(stderr, "dial requires <telefono>")
			return 2
		}
		tool = "initiate_call"
		params["telefono"] = fs.Arg(0)
		setIf(params, "nombre", *name)
		setIf(params, "contexto", *briefing)
	case "hangup":
		if fs.NArg() != 1 {
			fmt.Fprintln(stderr, "hangup requires <call_control_id>")
			return 2
		}
		tool = "hangup_call"
		params["call_control_id"] = fs.Arg(0)
	case "reply":
		if fs.NArg() != 1 {
			fmt.Fprintln(stderr, "reply requires <mensaje>")
			return 2
		}
		tool = "test_reply"
		params["mensaje"] = fs.Arg(0)
		setIf(params, "nombre", *name)
		setIf(params, "contexto", *briefing)
	default:
		usage(stderr)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := mcp.NewClientWrapper("callctl", "1.0.0")
	if err := client.ConnectWebSocket(ctx, *addr); err != nil {
		fmt.Fprintf(stderr, "connect %s: %v\n", *addr, err)
		return 1
	}
	defer client.Close()

	out, err := client.CallTool(ctx, tool, params)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	fmt.Fprintln(stdout, out)
	return 0
}

func setIf(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: callctl <command> [flags] [arg]

commands:
  calls                      list active call pipelines
  stats                      session and call counters
  dial <telefono>            place a call (-name, -context)
  hangup <call_control_id>   hang up a call
  reply <mensaje>            generate a reply without a call (-name, -context)

flags:
  -addr     admin websocket (default $CALLCTL_ADDR or ws://localhost:3000/mcp/ws)
  -timeout  request timeout`)
}
