// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package steering

import (
	"math"

	"github.com/relabs-tech/line_follower/internal/reading"
)

const (
	// MaxConfidence is the upper bound of the confidence score.
	MaxConfidence = 100.0

	// SignalThreshold is the peak channel ratio above which a frame counts
	// as a trustworthy sighting.
	SignalThreshold = 0.25

	// JumpThreshold is the frame-to-frame position change treated as a glitch.
	JumpThreshold = 0.25
)

// ConfidenceParams are the per-second confidence rates and the loop rate
// they are spread over. DecrementPerSecond is expected to be negative.
type ConfidenceParams struct {
	IncrementPerSecond float64
	DecrementPerSecond float64
	FramesPerSecond    int
}

// PeakRatio is the strongest forward channel as a fraction of MaxCode.
func PeakRatio(s reading.Sample) float64 {
	peak := max(s.Center, s.Left, s.Right)
	return float64(peak) / reading.MaxCode
}

// UpdateConfidence advances the leaky confidence integrator by one frame.
//
// A strong frame adds IncrementPerSecond/fps, a weak one adds
// DecrementPerSecond/fps. A jump larger than JumpThreshold against the last
// history entry adds the decrement term once more. The result is clamped to
// [0, MaxConfidence].
func UpdateConfidence(confidence, position float64, history *History, peakRatio float64, p ConfidenceParams) float64 {
	fps := float64(p.FramesPerSecond)
	if fps <= 0 {
		fps = 1
	}
	decrement := p.DecrementPerSecond / fps

	if peakRatio > SignalThreshold {
		confidence += p.IncrementPerSecond / fps
	} else {
		confidence += decrement
	}

	if history != nil && math.Abs(position-history.Last()) > JumpThreshold {
		confidence += decrement
	}

	return clamp(confidence, 0, MaxConfidence)
}

// clamp keeps value inside [lo, hi]. NaN is treated as 0.
func clamp(value, lo, hi float64) float64 {
	if math.IsNaN(value) {
		value = 0
	}
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
