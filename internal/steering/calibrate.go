// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package steering

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/line_follower/internal/reading"
	"github.com/relabs-tech/line_follower/internal/timeutil"
)

const (
	DefaultCalibrationSamples      = 100
	DefaultCalibrationPollInterval = 20 * time.Millisecond
	DefaultCalibrationMaxAttempts  = 1000
)

// ErrCalibrationStalled is returned when the sensors did not produce enough
// clean samples within the attempt ceiling.
var ErrCalibrationStalled = errors.New("calibration stalled")

// SampleSource is the non-blocking latest-value read used while calibrating.
type SampleSource interface {
	LatestReading() reading.Sample
}

// Calibrator samples the forward channels off-line and averages them into
// a Baseline.
type Calibrator struct {
	Source       SampleSource
	Clock        timeutil.Clock
	Samples      int           // accepted samples to average
	PollInterval time.Duration // wait between polls
	MaxAttempts  int           // total polls before giving up; <= 0 uses the default
}

// NewCalibrator returns a Calibrator with the prototype's defaults.
func NewCalibrator(src SampleSource, clock timeutil.Clock) *Calibrator {
	return &Calibrator{
		Source:       src,
		Clock:        clock,
		Samples:      DefaultCalibrationSamples,
		PollInterval: DefaultCalibrationPollInterval,
		MaxAttempts:  DefaultCalibrationMaxAttempts,
	}
}

// Calibrate polls the source until Samples readings with every forward
// channel above zero have been collected, then returns their truncated
// per-channel mean.
func (c *Calibrator) Calibrate(ctx context.Context) (Baseline, error) {
	if c.Samples <= 0 {
		return Baseline{}, fmt.Errorf("calibration: sample count must be > 0, got %d", c.Samples)
	}
	clock := c.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultCalibrationMaxAttempts
	}

	var sumCenter, sumLeft, sumRight int64
	accepted := 0
	for attempt := 1; accepted < c.Samples; attempt++ {
		if attempt > maxAttempts {
			return Baseline{}, fmt.Errorf("%w: %d of %d clean samples after %d polls",
				ErrCalibrationStalled, accepted, c.Samples, maxAttempts)
		}
		if err := ctx.Err(); err != nil {
			return Baseline{}, err
		}

		s := c.Source.LatestReading()
		if min(s.Left, s.Right, s.Center) > 0 {
			sumCenter += int64(s.Center)
			sumLeft += int64(s.Left)
			sumRight += int64(s.Right)
			accepted++
		}
		if accepted < c.Samples {
			clock.Sleep(c.PollInterval)
		}
	}

	n := int64(c.Samples)
	b := Baseline{
		Center: int(sumCenter / n),
		Left:   int(sumLeft / n),
		Right:  int(sumRight / n),
	}
	log.Printf("calibration: baseline center=%d left=%d right=%d (%d samples)", b.Center, b.Left, b.Right, c.Samples)
	return b, nil
}
