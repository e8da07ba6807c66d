// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Command simulate runs the control loop against a simulated track, with
// motor commands logged instead of driven and the button pressed
// automatically.
package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/line_follower/internal/app"
	"github.com/relabs-tech/line_follower/internal/config"
)

func main() {
	configPath := flag.String("config", "./line_follower_config.txt", "path to configuration file")
	duration := flag.Duration("duration", 0, "how long to run before stopping (0 = until Ctrl+C)")
	verbose := flag.Bool("verbose", false, "log every motor command")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	err := app.RunSimulation(app.SimulationOptions{
		Duration: *duration,
		Verbose:  *verbose,
	})
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
