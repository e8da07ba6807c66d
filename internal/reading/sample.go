// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package reading

// MaxCode is the largest code the ADS1115 returns for a single-ended
// channel at gain 1 (16-bit signed, positive half).
const MaxCode = 32767

// NoEcho is the distance reported when the rangefinder saw no echo.
const NoEcho = -1.0

// Sample is one snapshot of the reflectance channels plus the forward distance.
type Sample struct {
	Center int `json:"center"`
	Left   int `json:"left"`
	Right  int `json:"right"`
	Rear   int `json:"rear"` // not used for steering

	DistanceCm float64 `json:"distance_cm"` // NoEcho when nothing came back
}

// Unavailable is what consumers see before any producer has published:
// no line under any channel and no obstacle ahead. A working sensor can
// report the same values, so whether anything arrived is tracked by the
// source, not by comparing against this.
var Unavailable = Sample{DistanceCm: NoEcho}

// FrontValue is the prototype's single-number diagnostic for the forward
// channels. It is only used for probing, never for steering.
func (s Sample) FrontValue() float64 {
	return float64(-s.Left+s.Center+s.Right) / 3
}

// HasEcho reports whether DistanceCm carries a real measurement.
func HasEcho(distanceCm float64) bool {
	return distanceCm >= 0
}
