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
	"github.com/relabs-tech/line_follower/internal/telemetry"
)

// FormatTelemetryLine renders one record for the terminal.
func FormatTelemetryLine(r telemetry.Record) string {
	dist := "  --  "
	if reading.HasEcho(r.DistanceCm) {
		dist = fmt.Sprintf("%5.1fcm", r.DistanceCm)
	}
	return fmt.Sprintf(
		"[TICK %6d] C=%5d L=%5d R=%5d  pos=%+.3f conf=%5.1f thr=%.2f dist=%s  motors L=%+.3f R=%+.3f  %.2fms",
		r.Tick, r.CenterRaw, r.LeftRaw, r.RightRaw,
		r.Position, r.Confidence, r.Throttle, dist,
		r.MotorLeft, r.MotorRight, r.TickDurationMs,
	)
}

// FormatStateLine renders one state change for the terminal.
func FormatStateLine(sc telemetry.StateChange) string {
	line := fmt.Sprintf("[STATE] %s at %s", sc.State, sc.Time.Format(time.RFC3339))
	if sc.Error != "" {
		line += " error: " + sc.Error
	}
	return line
}

// RunConsoleMQTT prints the vehicle's telemetry and state changes until
// interrupted.
func RunConsoleMQTT() error {
	cfg := config.Get()

	client, err := telemetry.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	err = subscribeStatus(client, cfg, &StatusBoard{}, "console",
		func(r telemetry.Record, _ []byte) { fmt.Println(FormatTelemetryLine(r)) },
		func(sc telemetry.StateChange, _ []byte) { fmt.Println(FormatStateLine(sc)) },
	)
	if err != nil {
		client.Disconnect(250)
		return err
	}

	// Wait for Ctrl+C
	ctx, stop := signalContext()
	defer stop()
	<-ctx.Done()

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
