// Package monitor implements the liveness sweep that reaps agents whose
// heartbeat key has expired (spec §4.4).
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gastown/fleetbroker/internal/metrics"
	"github.com/gastown/fleetbroker/internal/model"
	"github.com/gastown/fleetbroker/internal/store"
	"github.com/go-co-op/gocron/v2"
)

// Broker is the subset of *broker.Broker the monitor needs. Defined here,
// not in package broker, to keep the dependency direction one-way
// (monitor depends on broker's capability, not the other way around).
type Broker interface {
	ReapAgent(ctx context.Context, projectID, sessionName, reason string) error
}

// Monitor periodically scans every project's heartbeat keys and reaps any
// agent whose key has expired since the last sweep.
type Monitor struct {
	store    store.Store
	broker   Broker
	metrics  *metrics.Metrics
	log      *slog.Logger
	interval time.Duration

	cron gocron.Scheduler
}

// New constructs a Monitor. interval is how often the sweep runs (spec §6
// MONITOR_INTERVAL).
func New(st store.Store, b Broker, mt *metrics.Metrics, log *slog.Logger, interval time.Duration) (*Monitor, error) {
	if log == nil {
		log = slog.Default()
	}
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Monitor{store: st, broker: b, metrics: mt, log: log, interval: interval, cron: cron}, nil
}

// Start schedules the recurring sweep and starts the underlying gocron
// scheduler. Call Stop to shut it down.
func (m *Monitor) Start(ctx context.Context) error {
	_, err := m.cron.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(func() { m.sweep(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule liveness sweep: %w", err)
	}
	m.cron.Start()
	return nil
}

// Stop waits for any in-flight sweep to finish before returning.
func (m *Monitor) Stop() error {
	return m.cron.Shutdown()
}

// sweep finds every project's known heartbeat keys, collects the ones
// missing (expired or never set), and reaps those agents outside of any
// lock — each reap call is independently safe against a concurrent
// unregister_agent (spec §4.4: reaping is idempotent).
func (m *Monitor) sweep(ctx context.Context) {
	agentKeys, err := m.agentRegistryKeys(ctx)
	if err != nil {
		m.log.Error("liveness sweep: list agent registries failed", "error", err)
		return
	}

	for _, projectID := range agentKeys {
		agents, err := m.liveAgents(ctx, projectID)
		if err != nil {
			m.log.Error("liveness sweep: list agents failed", "project_id", projectID, "error", err)
			continue
		}
		for _, session := range agents {
			_, ok, err := m.store.StringGet(ctx, store.HeartbeatKey(projectID, session))
			if err != nil {
				m.log.Error("liveness sweep: heartbeat check failed", "project_id", projectID, "session", session, "error", err)
				continue
			}
			if ok {
				continue
			}
			if err := m.broker.ReapAgent(ctx, projectID, session, "missed heartbeat"); err != nil {
				m.log.Error("liveness sweep: reap failed", "project_id", projectID, "session", session, "error", err)
				continue
			}
			if m.metrics != nil {
				m.metrics.ReapedTotal.Inc()
			}
			m.log.Info("reaped agent", "project_id", projectID, "session", session)
		}
	}
}

// agentRegistryKeys discovers every project that currently has an agent
// registry hash, by scanning agent-registry keys and deriving project IDs
// from them, deduplicated. Heartbeat keys are not used for discovery: a
// project whose agents have all let their heartbeats expire has none left.
func (m *Monitor) agentRegistryKeys(ctx context.Context) ([]string, error) {
	pattern := store.AgentsKey("*")
	keys, err := m.store.ScanKeys(ctx, pattern)
	if err != nil {
		return nil, err
	}
	prefix, suffix, _ := strings.Cut(pattern, "*")
	seen := make(map[string]struct{})
	var out []string
	for _, k := range keys {
		projectID, ok := strings.CutSuffix(strings.TrimPrefix(k, prefix), suffix)
		if !ok || !strings.HasPrefix(k, prefix) || projectID == "" {
			continue
		}
		if _, dup := seen[projectID]; dup {
			continue
		}
		seen[projectID] = struct{}{}
		out = append(out, projectID)
	}
	return out, nil
}

func (m *Monitor) liveAgents(ctx context.Context, projectID string) ([]string, error) {
	raw, err := m.store.HashGetAll(ctx, store.AgentsKey(projectID))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for session, data := range raw {
		var a model.Agent
		if json.Unmarshal(data, &a) != nil {
			continue
		}
		out = append(out, session)
	}
	return out, nil
}
