package config

import (
	"testing"
	"time"
)

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("STORE_URL", "redis://example:6379")
	t.Setenv("HEARTBEAT_TIMEOUT", "45s")
	t.Setenv("MAX_QUEUE_LEN", "500")

	c := FromEnv()
	if c.StoreURL != "redis://example:6379" {
		t.Fatalf("unexpected StoreURL: %s", c.StoreURL)
	}
	if c.HeartbeatTimeout != 45*time.Second {
		t.Fatalf("unexpected HeartbeatTimeout: %s", c.HeartbeatTimeout)
	}
	if c.MaxQueueLen != 500 {
		t.Fatalf("unexpected MaxQueueLen: %d", c.MaxQueueLen)
	}
	if c.LogLevel != "info" {
		t.Fatalf("expected untouched default LogLevel, got %s", c.LogLevel)
	}
}

func TestDurationEnvAcceptsBareSeconds(t *testing.T) {
	t.Setenv("MONITOR_INTERVAL", "30")
	c := FromEnv()
	if c.MonitorInterval != 30*time.Second {
		t.Fatalf("expected 30s, got %s", c.MonitorInterval)
	}
}
