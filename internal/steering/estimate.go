// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package steering holds the per-frame estimation and control math:
// baseline calibration, line position, confidence, obstacle throttle and
// the differential mix. Everything except the Calibrator is a pure function
// of its arguments.
package steering

import (
	"github.com/relabs-tech/line_follower/internal/reading"
)

// Baseline is the per-channel reading expected when no line is under the sensor.
type Baseline struct {
	Center int `json:"center"`
	Left   int `json:"left"`
	Right  int `json:"right"`
}

// linearValue maps a raw code onto [0, 1] above the channel baseline.
func linearValue(raw, base int) float64 {
	if base >= reading.MaxCode {
		return 0
	}
	if raw < base {
		raw = base
	}
	return float64(raw-base) / float64(reading.MaxCode-base)
}

// Estimate returns the line position in [-1, +1] (-1 left, 0 centered, +1 right).
//
// When no channel rises above its baseline the line is lost, and the last
// known side is held at its extreme instead of snapping back to center:
// -1 if last was negative, +1 otherwise.
func Estimate(s reading.Sample, b Baseline, last float64) float64 {
	left := linearValue(s.Left, b.Left)
	center := linearValue(s.Center, b.Center)
	right := linearValue(s.Right, b.Right)

	sum := left + center + right
	if sum == 0 {
		if last < 0 {
			return -1
		}
		return 1
	}
	return (-left + right) / sum
}
