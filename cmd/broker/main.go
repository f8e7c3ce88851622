// Command fleetbroker coordinates a fleet of AI coding agents working the
// same project: file locks, a shared todo list, an interface registry,
// agent-to-agent messaging, and liveness tracking, over a stdio JSON
// protocol backed by Redis.
package main

import (
	"os"
	"runtime/debug"

	"github.com/gastown/fleetbroker/internal/commands"
)

var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
