// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"log"
	"time"

	"github.com/relabs-tech/line_follower/internal/actuator"
	"github.com/relabs-tech/line_follower/internal/button"
	"github.com/relabs-tech/line_follower/internal/config"
	"github.com/relabs-tech/line_follower/internal/control"
	"github.com/relabs-tech/line_follower/internal/timeutil"
)

// SimulationOptions tune RunSimulation.
type SimulationOptions struct {
	// Duration of the Running phase. Zero runs until interrupted.
	Duration time.Duration
	// Verbose logs every motor command.
	Verbose bool
}

// RunSimulation runs the full control loop against the mock track with a
// console actuator and a button that presses itself.
func RunSimulation(opts SimulationOptions) error {
	log.Println("starting line follower simulation")

	cfg := *config.Get()
	cfg.SensorSource = config.SourceMock
	cfg.DisplayEnabled = false

	ctx, stop := signalContext()
	defer stop()

	rig, err := OpenSensors(&cfg, timeutil.RealClock{})
	if err != nil {
		return err
	}
	defer rig.Close()
	rig.Feed.Start(ctx)

	btn := &button.Auto{}
	motors := &actuator.Console{Verbose: opts.Verbose}

	onState := func(s control.State, _ error) {
		if s != control.Running {
			return
		}
		rig.Track.Place()
		if opts.Duration > 0 {
			log.Printf("simulate: stopping in %v", opts.Duration)
			time.AfterFunc(opts.Duration, btn.Press)
		}
	}

	err = runVehicle(ctx, &cfg, vehicle{
		feed:     rig.Feed,
		actuator: motors,
		button:   btn,
		clientID: cfg.MQTTClientIDRobot,
		hooks:    []control.StateHook{onState},
	})
	log.Printf("simulate: %d motor updates, last L=%+.3f R=%+.3f", motors.Writes(), motors.Last().Left, motors.Last().Right)
	return err
}
