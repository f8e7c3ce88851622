package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gastown/fleetbroker/internal/broker"
	"github.com/gastown/fleetbroker/internal/store"
	"github.com/redis/go-redis/v9"
)

func newTestBrokerForDashboard(t *testing.T) *broker.Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	st := store.NewFromClient(client)
	return broker.New(st, broker.DefaultConfig(), nil, nil, nil)
}

func TestHealthz(t *testing.T) {
	b := newTestBrokerForDashboard(t)
	s := New(b, time.Hour, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestSnapshotReflectsRegisteredAgent(t *testing.T) {
	b := newTestBrokerForDashboard(t)
	ctx := context.Background()
	res := b.Call(ctx, "register_agent", broker.Args{
		"project_id": "proj1", "session_name": "alice", "task_id": "t1",
		"branch": "b", "description": "d",
	})
	if res["status"] != "registered" {
		t.Fatalf("register_agent failed: %v", res)
	}

	s := New(b, time.Hour, nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var snap Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	agents, ok := snap.Agents["proj1"]
	if !ok {
		t.Fatalf("expected proj1 in snapshot agents, got %v", snap.Agents)
	}
	if _, ok := agents["alice"]; !ok {
		t.Fatalf("expected alice in proj1 agents, got %v", agents)
	}
}

func TestBuildSnapshotEmptyWhenNoProjects(t *testing.T) {
	b := newTestBrokerForDashboard(t)
	snap := buildSnapshot(b)
	if len(snap.Agents) != 0 {
		t.Fatalf("expected empty agents map, got %v", snap.Agents)
	}
	if snap.Type != "snapshot" {
		t.Fatalf("expected type snapshot, got %s", snap.Type)
	}
}
