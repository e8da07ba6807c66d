// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/line_follower/internal/config"
	"github.com/relabs-tech/line_follower/internal/reading"
	"github.com/relabs-tech/line_follower/internal/sensors"
	"github.com/relabs-tech/line_follower/internal/timeutil"
)

// ProbeOptions tune RunSensorProbe.
type ProbeOptions struct {
	Interval time.Duration
	// Count stops after this many lines; zero runs until interrupted.
	Count int
	// Sentences prints $LFSNS sentences instead of readable lines, which
	// lets one Pi stand in for the sensor board of another.
	Sentences bool
}

// FormatProbeLine renders a raw reading for the terminal.
func FormatProbeLine(s reading.Sample, distanceCm float64) string {
	dist := "no echo"
	if reading.HasEcho(distanceCm) {
		dist = fmt.Sprintf("%.1fcm", distanceCm)
	}
	return fmt.Sprintf("[IR] C=%5d L=%5d R=%5d Rear=%5d front=%8.1f  [US] %s",
		s.Center, s.Left, s.Right, s.Rear, s.FrontValue(), dist)
}

// RunSensorProbe streams the configured sensors to stdout.
func RunSensorProbe(opts ProbeOptions) error {
	cfg := config.Get()
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}

	rig, err := OpenSensors(cfg, timeutil.RealClock{})
	if err != nil {
		return err
	}
	defer rig.Close()
	if rig.Track != nil {
		rig.Track.Place()
	}

	ctx, stop := signalContext()
	defer stop()
	rig.Feed.Start(ctx)
	log.Printf("sensor probe: %s source every %v", cfg.SensorSource, opts.Interval)

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for n := 0; opts.Count == 0 || n < opts.Count; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		fmt.Println(probeLine(rig.Feed, opts.Sentences))
	}
	return nil
}

func probeLine(feed *sensors.Feed, sentence bool) string {
	if !feed.HasReading() {
		return "[IR] no reading yet"
	}
	s := feed.LatestReading()
	dist := feed.LatestDistanceCm()
	if sentence {
		s.DistanceCm = dist
		return sensors.FormatSentence(s)
	}
	return FormatProbeLine(s, dist)
}
