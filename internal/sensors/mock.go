// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/line_follower/internal/reading"
	"github.com/relabs-tech/line_follower/internal/timeutil"
)

// Lateral sensor offsets as seen by the estimator: left reads negative.
var sensorOffsets = [3]float64{-0.5, 0, 0.5} // left, center, right

// MockTrack generates smoothly changing readings of a line that weaves under
// the vehicle and an obstacle that approaches and recedes. Until Place is
// called the vehicle is held over bare floor, which is what calibration
// expects to see.
type MockTrack struct {
	clock   timeutil.Clock
	start   time.Time
	placed  atomic.Bool
	Ambient int     // code over bare floor
	Peak    int     // code with the line centred under a sensor
	Width   float64 // line half-width in sensor offset units
}

// NewMockTrack starts the track at clock.Now().
func NewMockTrack(clock timeutil.Clock) *MockTrack {
	return &MockTrack{
		clock:   clock,
		start:   clock.Now(),
		Ambient: 3000,
		Peak:    24000,
		Width:   0.35,
	}
}

// Place puts the vehicle on the track.
func (m *MockTrack) Place() { m.placed.Store(true) }

// LinePosition is where the line is at time elapsed, in [-0.8, 0.8].
func (m *MockTrack) LinePosition(elapsed float64) float64 {
	return 0.8 * math.Sin(elapsed*0.5)
}

// ObstacleCm is the simulated distance at time elapsed. It dips to 10 cm
// every ~31 s.
func (m *MockTrack) ObstacleCm(elapsed float64) float64 {
	return math.Round((60+50*math.Cos(elapsed*0.2))*10) / 10
}

// Read returns the reflectance channels for the current time.
func (m *MockTrack) Read() (reading.Sample, error) {
	codes := [3]int{m.Ambient, m.Ambient, m.Ambient}
	if m.placed.Load() {
		pos := m.LinePosition(m.clock.Since(m.start).Seconds())
		for i, off := range sensorOffsets {
			d := (pos - off) / m.Width
			codes[i] += int(float64(m.Peak-m.Ambient) * math.Exp(-d*d))
		}
	}
	return reading.Sample{
		Left:       codes[0],
		Center:     codes[1],
		Right:      codes[2],
		Rear:       m.Ambient,
		DistanceCm: reading.NoEcho,
	}, nil
}

// Distance returns the simulated obstacle distance for the current time.
func (m *MockTrack) Distance() (float64, error) {
	return m.ObstacleCm(m.clock.Since(m.start).Seconds()), nil
}
