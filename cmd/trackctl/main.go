// Command trackctl runs lab challenges offline: list the catalog, render a
// challenge page and grade a scripted attempt without starting the server.
package main

import (
	"fmt"
	"os"

	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/config"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	cfg := config.LoadOrDefault()
	// Grading never needs the network.
	cfg.Egress.Offline = true

	app := newCLIApp(cfg, os.Stdout)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
