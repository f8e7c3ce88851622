package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gastown/fleetbroker/internal/broker"
	"github.com/gastown/fleetbroker/internal/model"
)

// Snapshot is the payload pushed to every connected dashboard client.
type Snapshot struct {
	Type        string                             `json:"type"`
	Agents      map[string]map[string]model.Agent  `json:"agents"`
	Changes     map[string][]model.ChangeEntry     `json:"changes"`
	GeneratedAt time.Time                          `json:"generated_at"`
}

// Server wires the dashboard's HTTP routes and WebSocket hub together.
type Server struct {
	mux *http.ServeMux
	hub *Hub
	log *slog.Logger
}

// New builds a dashboard Server backed by b, pushing a refreshed snapshot
// to WebSocket clients every interval.
func New(b *broker.Broker, interval time.Duration, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	snapshotFn := func() (Snapshot, error) {
		return buildSnapshot(b), nil
	}
	hub := NewHub(snapshotFn, interval, log)
	go hub.Run()

	s := &Server{mux: http.NewServeMux(), hub: hub, log: log}
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	s.mux.HandleFunc("GET /ws", hub.ServeWS)
	return s
}

// Handler returns the dashboard's HTTP handler for mounting or serving
// directly.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	// Recomputed per request rather than cached — the dashboard is a
	// low-traffic operator surface.
	snap, _ := s.hub.snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func buildSnapshot(b *broker.Broker) Snapshot {
	snap := Snapshot{
		Type:        "snapshot",
		Agents:      make(map[string]map[string]model.Agent),
		Changes:     make(map[string][]model.ChangeEntry),
		GeneratedAt: time.Now().UTC(),
	}
	ctx := context.Background()
	for _, projectID := range b.Projects(ctx) {
		res := b.Call(ctx, "list_active_agents", broker.Args{"project_id": projectID})
		if agents, ok := res["agents"].(map[string]model.Agent); ok {
			snap.Agents[projectID] = agents
		}
		res = b.Call(ctx, "get_recent_changes", broker.Args{"project_id": projectID, "limit": 20})
		if changes, ok := res["changes"].([]model.ChangeEntry); ok {
			snap.Changes[projectID] = changes
		}
	}
	return snap
}
