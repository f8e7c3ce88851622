package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestToolCallsIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ToolCalls.WithLabelValues("register_agent").Inc()
	m.ToolCalls.WithLabelValues("register_agent").Inc()

	var out dto.Metric
	if err := m.ToolCalls.WithLabelValues("register_agent").Write(&out); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if out.Counter.GetValue() != 2 {
		t.Fatalf("expected 2 calls, got %v", out.Counter.GetValue())
	}
}
