package commands

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCmdPrintsVersion(t *testing.T) {
	cmd := NewVersionCmd("v1.2.3")
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "v1.2.3" {
		t.Fatalf("expected v1.2.3, got %q", got)
	}
}
