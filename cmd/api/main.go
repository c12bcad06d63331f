// Command api serves the settlement orchestrator HTTP API and its background workers.
package main

import (
	"fmt"
	"os"

	"github.com/innovasure/settlement-orchestrator/internal/app"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := app.Run(version); err != nil {
		fmt.Fprintf(os.Stderr, "settlement-api: %v\n", err)
		os.Exit(1)
	}
}
