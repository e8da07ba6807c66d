// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/relabs-tech/line_follower/internal/config"
	"github.com/relabs-tech/line_follower/internal/sensors"
	"github.com/relabs-tech/line_follower/internal/timeutil"
)

// SensorRig is the opened sensor hardware (or simulation) behind a feed.
type SensorRig struct {
	Feed *sensors.Feed
	// Track is set when the source is the mock track.
	Track *sensors.MockTrack

	closers []func() error
}

// OpenSensors opens the source selected by cfg.SensorSource and registers
// its producers on a new feed. The feed is not started.
func OpenSensors(cfg *config.Config, clock timeutil.Clock) (*SensorRig, error) {
	rig := &SensorRig{Feed: sensors.NewFeed()}
	irInterval := config.Duration(cfg.IRSampleInterval)
	distInterval := config.Duration(cfg.DistanceSampleInterval)

	switch cfg.SensorSource {
	case config.SourceADC:
		ir, err := sensors.OpenInfrared(cfg.ADCI2CBus, cfg.ADCI2CAddr, sensors.Channels{
			Center: cfg.IRChannelCenter,
			Left:   cfg.IRChannelLeft,
			Right:  cfg.IRChannelRight,
			Rear:   cfg.IRChannelRear,
		})
		if err != nil {
			return nil, err
		}
		rig.closers = append(rig.closers, ir.Close)

		us, err := sensors.OpenUltrasonic(cfg.DistanceTriggerPin, cfg.DistanceEchoPin, config.Duration(cfg.DistanceEchoTimeout))
		if err != nil {
			rig.Close()
			return nil, err
		}
		rig.closers = append(rig.closers, us.Close)

		rig.Feed.WatchReadings("infrared", irInterval, ir.Read)
		rig.Feed.WatchDistance("ultrasonic", distInterval, us.Measure)
		log.Printf("sensors: ADS1115 at 0x%02X, rangefinder on %s/%s", cfg.ADCI2CAddr, cfg.DistanceTriggerPin, cfg.DistanceEchoPin)

	case config.SourceSerial:
		board, err := sensors.OpenBoard(cfg.SerialPort, cfg.SerialBaudRate)
		if err != nil {
			return nil, err
		}
		rig.closers = append(rig.closers, board.Close)
		feed := rig.Feed
		feed.Go(func(ctx context.Context) {
			if err := board.Run(ctx, feed); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("sensors: %v", err)
			}
		})

	case config.SourceMock:
		track := sensors.NewMockTrack(clock)
		rig.Track = track
		rig.Feed.WatchReadings("mock infrared", irInterval, track.Read)
		rig.Feed.WatchDistance("mock rangefinder", distInterval, track.Distance)
		log.Println("sensors: using mock track")

	default:
		return nil, fmt.Errorf("unknown sensor source %q", cfg.SensorSource)
	}

	return rig, nil
}

// Close stops the producers and releases the hardware.
func (r *SensorRig) Close() error {
	r.Feed.Stop()
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
