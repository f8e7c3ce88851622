// Package metrics exposes the broker's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the broker's collectors. ToolCalls is updated by the
// dispatcher and ReapedTotal by the liveness sweep; ActiveAgents and
// QueueDepth are registered but nothing in this module sets them.
type Metrics struct {
	ToolCalls    *prometheus.CounterVec
	ActiveAgents *prometheus.GaugeVec
	QueueDepth   *prometheus.GaugeVec
	ReapedTotal  prometheus.Counter
}

// New registers the broker's collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel test binaries.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetbroker_tool_calls_total",
			Help: "Number of tool calls handled, labeled by tool name.",
		}, []string{"tool"}),
		ActiveAgents: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetbroker_active_agents",
			Help: "Number of agents currently registered, labeled by project.",
		}, []string{"project_id"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetbroker_queue_depth",
			Help: "Number of messages queued per session.",
		}, []string{"project_id", "session_name"}),
		ReapedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetbroker_reaped_agents_total",
			Help: "Number of agents reaped by the liveness monitor for a missed heartbeat.",
		}),
	}
}
