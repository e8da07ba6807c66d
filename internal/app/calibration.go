// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/relabs-tech/line_follower/internal/config"
	"github.com/relabs-tech/line_follower/internal/control"
	"github.com/relabs-tech/line_follower/internal/reading"
	"github.com/relabs-tech/line_follower/internal/steering"
	"github.com/relabs-tech/line_follower/internal/timeutil"
)

// noisyChannel flags a channel whose spread is a large share of its mean.
const noisyChannel = 0.05

// ChannelStats summarizes one reflectance channel during calibration.
type ChannelStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    int     `json:"min"`
	Max    int     `json:"max"`
}

// CalibrationReport is what the calibration tool prints. Nothing is stored:
// the robot recalibrates at the start of every run.
type CalibrationReport struct {
	SchemaVersion int               `json:"schema_version"`
	CalibrationAt string            `json:"calibration_at"` // RFC3339
	Source        string            `json:"source"`
	Samples       int               `json:"samples"`
	Baseline      steering.Baseline `json:"baseline"`
	Center        ChannelStats      `json:"center"`
	Left          ChannelStats      `json:"left"`
	Right         ChannelStats      `json:"right"`
	Rear          ChannelStats      `json:"rear"`
	Notes         []string          `json:"notes,omitempty"`
}

// recordingSource keeps every sample the calibrator will accept.
type recordingSource struct {
	src steering.SampleSource

	mu       sync.Mutex
	accepted []reading.Sample
}

func (r *recordingSource) LatestReading() reading.Sample {
	s := r.src.LatestReading()
	if min(s.Left, s.Right, s.Center) > 0 {
		r.mu.Lock()
		r.accepted = append(r.accepted, s)
		r.mu.Unlock()
	}
	return s
}

func (r *recordingSource) samples() []reading.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reading.Sample(nil), r.accepted...)
}

// Calibrate runs the same calibration the control loop does and reports
// per-channel statistics alongside the baseline.
func Calibrate(ctx context.Context, src steering.SampleSource, clock timeutil.Clock, p control.Params, sourceName string) (CalibrationReport, error) {
	rec := &recordingSource{src: src}
	cal := steering.NewCalibrator(rec, clock)
	cal.Samples = p.CalibrationSamples
	cal.PollInterval = p.CalibrationPollInterval
	cal.MaxAttempts = p.CalibrationMaxAttempts

	b, err := cal.Calibrate(ctx)
	if err != nil {
		return CalibrationReport{}, err
	}

	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return buildReport(rec.samples(), b, clock.Now(), sourceName), nil
}

func buildReport(samples []reading.Sample, b steering.Baseline, at time.Time, source string) CalibrationReport {
	pick := func(f func(reading.Sample) int) ChannelStats {
		vs := make([]int, len(samples))
		for i, s := range samples {
			vs[i] = f(s)
		}
		return channelStats(vs)
	}

	rep := CalibrationReport{
		SchemaVersion: 1,
		CalibrationAt: at.Format(time.RFC3339),
		Source:        source,
		Samples:       len(samples),
		Baseline:      b,
		Center:        pick(func(s reading.Sample) int { return s.Center }),
		Left:          pick(func(s reading.Sample) int { return s.Left }),
		Right:         pick(func(s reading.Sample) int { return s.Right }),
		Rear:          pick(func(s reading.Sample) int { return s.Rear }),
	}

	for _, ch := range []struct {
		name string
		st   ChannelStats
	}{{"center", rep.Center}, {"left", rep.Left}, {"right", rep.Right}} {
		if ch.st.Mean > 0 && ch.st.StdDev/ch.st.Mean > noisyChannel {
			rep.Notes = append(rep.Notes, fmt.Sprintf("%s channel is noisy (stddev %.0f on mean %.0f)", ch.name, ch.st.StdDev, ch.st.Mean))
		}
		if ch.st.Max >= reading.MaxCode {
			rep.Notes = append(rep.Notes, ch.name+" channel saturated; is it over the line?")
		}
	}
	return rep
}

func channelStats(vs []int) ChannelStats {
	if len(vs) == 0 {
		return ChannelStats{}
	}
	st := ChannelStats{Min: vs[0], Max: vs[0]}
	var sum float64
	for _, v := range vs {
		sum += float64(v)
		st.Min = min(st.Min, v)
		st.Max = max(st.Max, v)
	}
	st.Mean = sum / float64(len(vs))

	var variance float64
	for _, v := range vs {
		d := float64(v) - st.Mean
		variance += d * d
	}
	st.StdDev = math.Sqrt(variance / float64(len(vs)))
	return st
}

// RunCalibration guides a one-off calibration on the configured sensors and
// prints the report.
func RunCalibration(asJSON bool) error {
	cfg := config.Get()
	in := bufio.NewReader(os.Stdin)

	fmt.Println("=== Line sensor calibration ===")
	fmt.Println("Results are printed only; the robot calibrates again at every start.")
	fmt.Println()

	rig, err := OpenSensors(cfg, timeutil.RealClock{})
	if err != nil {
		return err
	}
	defer rig.Close()

	ctx, stop := signalContext()
	defer stop()
	rig.Feed.Start(ctx)

	fmt.Println("Place the vehicle with all three front sensors over bare floor, away from the line.")
	waitEnter(in, "Press ENTER to start sampling...")

	p := control.ParamsFromConfig(cfg)
	rep, err := Calibrate(ctx, rig.Feed, timeutil.RealClock{}, p, cfg.SensorSource)
	if err != nil {
		return err
	}

	if asJSON {
		b, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}

	fmt.Printf("\nBaseline: center=%d left=%d right=%d (%d samples)\n",
		rep.Baseline.Center, rep.Baseline.Left, rep.Baseline.Right, rep.Samples)
	for _, ch := range []struct {
		name string
		st   ChannelStats
	}{{"center", rep.Center}, {"left", rep.Left}, {"right", rep.Right}, {"rear", rep.Rear}} {
		fmt.Printf("  %-6s mean=%8.1f stddev=%7.1f min=%5d max=%5d\n", ch.name, ch.st.Mean, ch.st.StdDev, ch.st.Min, ch.st.Max)
	}
	for _, n := range rep.Notes {
		fmt.Println("  note:", n)
	}
	return nil
}

func waitEnter(in *bufio.Reader, prompt string) {
	fmt.Print(prompt)
	_, _ = in.ReadString('\n')
}
