// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import "time"

// Record is the JSON schema published once per control tick.
type Record struct {
	Time  time.Time `json:"time"`
	Tick  uint64    `json:"tick"`
	State string    `json:"state"`

	CenterRaw int `json:"center_raw"`
	LeftRaw   int `json:"left_raw"`
	RightRaw  int `json:"right_raw"`
	RearRaw   int `json:"rear_raw"`

	Position   float64 `json:"position"`    // [-1, 1]
	Confidence float64 `json:"confidence"`  // [0, 100]
	TurnFactor float64 `json:"turn_factor"` // position^3
	Throttle   float64 `json:"throttle"`    // [0, 1]
	DistanceCm float64 `json:"distance_cm"` // -1 when no echo

	MotorLeft  float64 `json:"motor_left"`
	MotorRight float64 `json:"motor_right"`

	TickDurationMs float64 `json:"tick_duration_ms"`
}

// StateChange is published (retained) whenever the control loop changes state.
type StateChange struct {
	State string    `json:"state"`
	Time  time.Time `json:"time"`
	Error string    `json:"error,omitempty"`
}
