// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package steering

import "github.com/relabs-tech/line_follower/internal/reading"

const (
	// StopDistanceCm and below means an obstacle is about to be hit.
	StopDistanceCm = 5.0
	// SlowDistanceCm and below ramps speed down linearly.
	SlowDistanceCm = 20.0
)

// Throttle maps a forward distance to a speed coefficient in [0, 1].
// A missing echo means nothing is in front of the vehicle.
func Throttle(distanceCm float64) float64 {
	switch {
	case !reading.HasEcho(distanceCm):
		return 1
	case distanceCm <= StopDistanceCm:
		return 0
	case distanceCm <= SlowDistanceCm:
		return 1 - (SlowDistanceCm-distanceCm)/16
	default:
		return 1
	}
}
