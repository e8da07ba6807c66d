// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"
	"time"

	"github.com/relabs-tech/line_follower/internal/app"
	"github.com/relabs-tech/line_follower/internal/config"
)

func main() {
	configPath := flag.String("config", "./line_follower_config.txt", "path to configuration file")
	interval := flag.Duration("interval", 100*time.Millisecond, "time between lines")
	count := flag.Int("count", 0, "stop after this many lines (0 = until Ctrl+C)")
	sentences := flag.Bool("nmea", false, "print $LFSNS sentences instead of readable lines")
	flag.Parse()

	log.Println("starting line follower sensor probe")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	err := app.RunSensorProbe(app.ProbeOptions{
		Interval:  *interval,
		Count:     *count,
		Sentences: *sentences,
	})
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
