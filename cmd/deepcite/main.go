// Command deepcite is the automated, long-running research agent described
// in spec.md: it drives the Orchestration Core (internal/phase,
// internal/scheduler, internal/research, internal/synthesis,
// internal/compiler) through the cobra command tree in internal/cli.
//
// Grounded on cmd/tarsy/main.go's shape (a single small main that loads
// config, wires the store and services, and either serves HTTP or runs one
// command to completion) — generalized here to cobra's multi-subcommand
// surface (spec §6) rather than tarsy's single always-serve entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/codeready-toolchain/deepcite/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
