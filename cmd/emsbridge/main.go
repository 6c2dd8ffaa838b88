// Gray Logic EMS bridge
//
// Connects a heating system's EMS bus to the Gray Logic MQTT bus. It decodes
// the telegrams boilers, thermostats and modules broadcast, keeps their
// values, publishes them as state and turns set-requests from MQTT and the
// REST API into write telegrams.
//
// Subcommands:
//   - run: the bridge service
//   - decode: decode captured frames offline
//   - profiles: list the built-in device profiles
//   - types: show telegram types recorded on the bus
//   - monitor: live terminal view of a running bridge
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
