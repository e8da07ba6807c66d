// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package control runs the fixed-rate steering loop and its start/stop state
// machine.
package control

import (
	"context"
	"errors"
	"time"

	"github.com/relabs-tech/line_follower/internal/config"
	"github.com/relabs-tech/line_follower/internal/reading"
	"github.com/relabs-tech/line_follower/internal/steering"
	"github.com/relabs-tech/line_follower/internal/telemetry"
)

// State is a phase of a run.
type State int32

const (
	Idle State = iota
	Calibrating
	WaitingForStart
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Calibrating:
		return "Calibrating"
	case WaitingForStart:
		return "WaitingForStart"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	}
	return "Unknown"
}

var (
	// ErrSensorUnavailable is reported once when the loop reads the start-up
	// sentinel instead of a real sample.
	ErrSensorUnavailable = errors.New("sensor unavailable")
	// ErrActuatorWrite wraps motor command failures.
	ErrActuatorWrite = errors.New("actuator write failed")
)

// SensorSource returns the newest reflectance sample without blocking.
// HasReading is false until the first sample has arrived.
type SensorSource interface {
	LatestReading() reading.Sample
	HasReading() bool
}

// DistanceSource returns the newest forward distance without blocking.
type DistanceSource interface {
	LatestDistanceCm() float64
}

// Actuator receives normalized wheel commands.
type Actuator interface {
	SetCommand(left, right float64) error
	FullStop() error
}

// StartStop is the operator button.
type StartStop interface {
	WaitForPress(ctx context.Context) error
	OnPress(fn func())
}

// TelemetrySink accepts one record per tick. It must not block.
type TelemetrySink interface {
	Publish(r telemetry.Record) error
}

// Params are the tuning values fixed for a run.
type Params struct {
	FramesPerSecond              int
	GeneralCoefficient           float64
	ConfidenceIncrementPerSecond float64
	ConfidenceDecrementPerSecond float64
	StartDelay                   time.Duration

	CalibrationSamples      int
	CalibrationPollInterval time.Duration
	CalibrationMaxAttempts  int

	LogEveryTicks int
}

// ParamsFromConfig extracts the loop tuning from cfg.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		FramesPerSecond:              cfg.FramesPerSecond,
		GeneralCoefficient:           cfg.GeneralCoefficient,
		ConfidenceIncrementPerSecond: cfg.ConfidenceIncrementPerSecond,
		ConfidenceDecrementPerSecond: cfg.ConfidenceDecrementPerSecond,
		StartDelay:                   config.Duration(cfg.StartDelay),
		CalibrationSamples:           cfg.CalibrationSamples,
		CalibrationPollInterval:      config.Duration(cfg.CalibrationPollInterval),
		CalibrationMaxAttempts:       cfg.CalibrationMaxAttempts,
		LogEveryTicks:                cfg.LogEveryTicks,
	}
}

func (p Params) confidence() steering.ConfidenceParams {
	return steering.ConfidenceParams{
		IncrementPerSecond: p.ConfidenceIncrementPerSecond,
		DecrementPerSecond: p.ConfidenceDecrementPerSecond,
		FramesPerSecond:    p.FramesPerSecond,
	}
}

// Period is the tick budget.
func (p Params) Period() time.Duration {
	if p.FramesPerSecond <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(p.FramesPerSecond)
}

// ControllerState is everything a run carries from one tick to the next.
// It belongs to the goroutine running the loop.
type ControllerState struct {
	Baseline   steering.Baseline
	Confidence float64
	History    *steering.History
	Position   float64
	Tick       uint64
}

// NewControllerState starts a run with zero confidence and the line assumed
// centred.
func NewControllerState(b steering.Baseline, framesPerSecond int) *ControllerState {
	return &ControllerState{
		Baseline: b,
		History:  steering.NewHistory(steering.HistoryCapacity(framesPerSecond)),
	}
}

// Frame is the outcome of one pass through the steering pipeline.
type Frame struct {
	Sample     reading.Sample
	DistanceCm float64
	Position   float64
	Confidence float64
	TurnFactor float64
	Throttle   float64
	Command    steering.Command
}

// Advance runs estimate, confidence, throttle and mix for one sample and
// moves st forward by one tick.
func Advance(st *ControllerState, s reading.Sample, distanceCm float64, p Params) Frame {
	pos := steering.Estimate(s, st.Baseline, st.Position)
	st.Confidence = steering.UpdateConfidence(st.Confidence, pos, st.History, steering.PeakRatio(s), p.confidence())
	throttle := steering.Throttle(distanceCm)
	cmd := steering.Mix(st.Confidence, pos, throttle, p.GeneralCoefficient)

	st.History.Push(pos)
	st.Position = pos
	st.Tick++

	return Frame{
		Sample:     s,
		DistanceCm: distanceCm,
		Position:   pos,
		Confidence: st.Confidence,
		TurnFactor: steering.TurnFactor(pos),
		Throttle:   throttle,
		Command:    cmd,
	}
}
