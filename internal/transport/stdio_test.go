package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gastown/fleetbroker/internal/broker"
	"github.com/gastown/fleetbroker/internal/store"
	"github.com/redis/go-redis/v9"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	st := store.NewFromClient(client)
	b := broker.New(st, broker.DefaultConfig(), nil, nil, nil)
	return New(b, nil)
}

func decodeResponses(t *testing.T, out *bytes.Buffer, n int) []Response {
	t.Helper()
	dec := json.NewDecoder(out)
	var got []Response
	for i := 0; i < n; i++ {
		var r Response
		if err := dec.Decode(&r); err != nil {
			t.Fatalf("decode response %d: %v", i, err)
		}
		got = append(got, r)
	}
	return got
}

func TestServeListTools(t *testing.T) {
	s := newTestServer(t)
	in := bytes.NewBufferString(`{"method":"list_tools","id":1}` + "\n")
	var out bytes.Buffer

	if err := s.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	resp := decodeResponses(t, &out, 1)[0]
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	tools, ok := resp.Result["tools"].([]any)
	if !ok || len(tools) == 0 {
		t.Fatalf("expected non-empty tools list, got %v", resp.Result["tools"])
	}
}

func TestServeCallToolRoundTrip(t *testing.T) {
	s := newTestServer(t)
	reqs := []Request{
		{Method: "call_tool", ID: 1, Tool: "register_agent", Args: map[string]any{
			"project_id": "p1", "session_name": "alice", "task_id": "t1", "branch": "b", "description": "d",
		}},
		{Method: "call_tool", ID: 2, Tool: "heartbeat", Args: map[string]any{
			"project_id": "p1", "session_name": "alice",
		}},
	}
	var in bytes.Buffer
	enc := json.NewEncoder(&in)
	for _, r := range reqs {
		if err := enc.Encode(r); err != nil {
			t.Fatal(err)
		}
	}

	var out bytes.Buffer
	if err := s.Serve(context.Background(), &in, &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	responses := decodeResponses(t, &out, 2)
	if responses[0].Result["status"] != "registered" {
		t.Fatalf("expected registered, got %v", responses[0].Result)
	}
	if responses[1].Result["status"] != "ok" {
		t.Fatalf("expected heartbeat ok, got %v", responses[1].Result)
	}
}

func TestServeUnknownMethod(t *testing.T) {
	s := newTestServer(t)
	in := bytes.NewBufferString(`{"method":"bogus"}` + "\n")
	var out bytes.Buffer

	if err := s.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	resp := decodeResponses(t, &out, 1)[0]
	if resp.Error == "" {
		t.Fatalf("expected error for unknown method")
	}
}

func TestServeCallToolWithoutName(t *testing.T) {
	s := newTestServer(t)
	in := bytes.NewBufferString(`{"method":"call_tool"}` + "\n")
	var out bytes.Buffer

	if err := s.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	resp := decodeResponses(t, &out, 1)[0]
	if resp.Error == "" {
		t.Fatalf("expected error for missing tool name")
	}
}

func TestServeMalformedLine(t *testing.T) {
	s := newTestServer(t)
	in := bytes.NewBufferString("not json\n")
	var out bytes.Buffer

	if err := s.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	resp := decodeResponses(t, &out, 1)[0]
	if resp.Error == "" {
		t.Fatalf("expected error for malformed line")
	}
}
