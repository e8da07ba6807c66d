// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// One-off calibration of the reflectance sensors over bare floor.
// Prints the baseline the robot would compute plus per-channel mean,
// standard deviation and range, so a bad sensor or a lit-up floor can be
// spotted before a run. Nothing is written to disk.
//
// Run:
//
//	go run ./cmd/calibration -json
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/relabs-tech/line_follower/internal/app"
	"github.com/relabs-tech/line_follower/internal/config"
)

func main() {
	configPath := flag.String("config", "./line_follower_config.txt", "Path to configuration file")
	asJSON := flag.Bool("json", false, "print the report as JSON")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	if err := app.RunCalibration(*asJSON); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
