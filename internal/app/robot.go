// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/relabs-tech/line_follower/internal/actuator"
	"github.com/relabs-tech/line_follower/internal/button"
	"github.com/relabs-tech/line_follower/internal/config"
	"github.com/relabs-tech/line_follower/internal/control"
	"github.com/relabs-tech/line_follower/internal/sensors"
	"github.com/relabs-tech/line_follower/internal/telemetry"
	"github.com/relabs-tech/line_follower/internal/timeutil"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// RunRobot drives the vehicle on real hardware until the run is stopped by
// the button or a signal.
func RunRobot() error {
	log.Println("starting line follower")
	cfg := config.Get()

	ctx, stop := signalContext()
	defer stop()

	// Inputs and outputs must exist before anything moves.
	btn, err := button.Open(cfg.ButtonPin)
	if err != nil {
		return fmt.Errorf("start/stop button: %w", err)
	}
	defer btn.Close()

	servos, err := actuator.OpenServos(cfg.ServoLeftPin, cfg.ServoRightPin)
	if err != nil {
		return fmt.Errorf("servos: %w", err)
	}
	defer servos.Close()

	rig, err := OpenSensors(cfg, timeutil.RealClock{})
	if err != nil {
		return fmt.Errorf("sensors: %w", err)
	}
	defer rig.Close()
	rig.Feed.Start(ctx)

	return runVehicle(ctx, cfg, vehicle{
		feed:     rig.Feed,
		actuator: servos,
		button:   btn,
		clientID: cfg.MQTTClientIDRobot,
	})
}

// vehicle is what one run of the control loop is wired to.
type vehicle struct {
	feed     *sensors.Feed
	actuator control.Actuator
	button   control.StartStop
	clock    timeutil.Clock
	clientID string
	hooks    []control.StateHook
}

// runVehicle wires telemetry and the optional display around a control
// loop and runs it once. An interrupted run is not an error.
func runVehicle(ctx context.Context, cfg *config.Config, v vehicle) error {
	board := &StatusBoard{}
	sinks := multiSink{board}

	var sink *telemetry.MQTTSink
	if cfg.TelemetryEnabled {
		client, err := telemetry.Connect(cfg.MQTTBroker, v.clientID)
		if err != nil {
			log.Printf("robot: telemetry disabled: %v", err)
		} else {
			defer client.Disconnect(250)
			sink = telemetry.NewMQTTSink(client, cfg.TopicTelemetry, cfg.TopicState, cfg.TelemetryQueueSize)
			defer func() {
				sink.Close()
				log.Printf("robot: telemetry closed (%d dropped, %d failed)", sink.Dropped(), sink.Failed())
			}()
			sinks = append(sinks, sink)
			log.Printf("robot: publishing telemetry to %s on %s", cfg.MQTTBroker, cfg.TopicTelemetry)
		}
	}

	loop, err := control.New(control.Deps{
		Sensor:    v.feed,
		Distance:  v.feed,
		Actuator:  v.actuator,
		Button:    v.button,
		Telemetry: sinks,
		Clock:     v.clock,
	}, control.ParamsFromConfig(cfg))
	if err != nil {
		return err
	}

	loop.OnStateChange(func(s control.State, err error) {
		sc := stateChange(s, err, time.Now())
		board.SetState(sc)
		if sink != nil {
			if err := sink.PublishState(sc); err != nil {
				log.Printf("robot: %v", err)
			}
		}
	})
	for _, h := range v.hooks {
		loop.OnStateChange(h)
	}

	if cfg.DisplayEnabled {
		stopDisplay := startLocalDisplay(ctx, cfg, board)
		defer stopDisplay()
	}

	err = loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Println("robot: interrupted")
		return nil
	}
	return err
}

// startLocalDisplay mirrors board on the OLED. A missing display is logged
// and ignored. The returned func stops the refresh and waits for it.
func startLocalDisplay(ctx context.Context, cfg *config.Config, board *StatusBoard) func() {
	d, err := OpenDisplay(cfg.DisplayI2CBus)
	if err != nil {
		log.Printf("robot: display disabled: %v", err)
		return func() {}
	}
	if err := d.Splash(); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		refreshDisplay(ctx, d, board, config.Duration(cfg.DisplayUpdateInterval))
	}()

	return func() {
		cancel()
		wg.Wait()
		// Keep the final screen up; only release the bus.
		if err := d.bus.Close(); err != nil {
			log.Printf("display: %v", err)
		}
	}
}
