// Package transport frames the broker's tool-call dispatcher over a
// newline-delimited JSON protocol on stdin/stdout, the wire shape an
// agent's MCP-style client speaks (spec §6).
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/gastown/fleetbroker/internal/broker"
)

// Request is one line of input: either {"method":"list_tools"} or
// {"method":"call_tool","tool":"...","args":{...}}.
type Request struct {
	Method string         `json:"method"`
	Tool   string         `json:"tool,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	ID     any            `json:"id,omitempty"`
}

// Response mirrors the request's id and carries either a result or an
// error string, never both.
type Response struct {
	ID     any            `json:"id,omitempty"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// toolDescriptor is what list_tools returns for each registered tool: its
// name and the required argument names a caller must supply.
type toolDescriptor struct {
	Name     string   `json:"name"`
	Required []string `json:"required"`
}

// Server reads one JSON request per line from r and writes one JSON
// response per line to w, until r is exhausted or ctx is cancelled.
type Server struct {
	broker *broker.Broker
	log    *slog.Logger
}

// New builds a stdio Server dispatching onto b.
func New(b *broker.Broker, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{broker: b, log: log}
}

// Serve runs the read-dispatch-write loop until r hits EOF, a write to w
// fails, or ctx is found cancelled. ctx is checked after each line is
// read, so a cancellation takes effect when the next line arrives.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if encErr := enc.Encode(Response{Error: fmt.Sprintf("invalid request: %v", err)}); encErr != nil {
				return encErr
			}
			continue
		}

		resp := s.dispatch(ctx, req)
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Method {
	case "list_tools":
		specs := s.broker.ListTools()
		tools := make([]toolDescriptor, 0, len(specs))
		for _, spec := range specs {
			tools = append(tools, toolDescriptor{Name: spec.Name, Required: spec.Required})
		}
		return Response{ID: req.ID, Result: map[string]any{"tools": tools}}

	case "call_tool":
		if req.Tool == "" {
			return Response{ID: req.ID, Error: "call_tool requires a tool name"}
		}
		result := s.broker.Call(ctx, req.Tool, broker.Args(req.Args))
		return Response{ID: req.ID, Result: result}

	default:
		return Response{ID: req.ID, Error: fmt.Sprintf("unknown method %q", req.Method)}
	}
}
