// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/relabs-tech/line_follower/internal/steering"
	"github.com/relabs-tech/line_follower/internal/telemetry"
	"github.com/relabs-tech/line_follower/internal/timeutil"
)

// Deps are the collaborators of a Loop. Telemetry and Clock are optional.
type Deps struct {
	Sensor    SensorSource
	Distance  DistanceSource
	Actuator  Actuator
	Button    StartStop
	Telemetry TelemetrySink
	Clock     timeutil.Clock
}

// StateHook observes state transitions. err is set when a run ends on a
// failure. Hooks run on the loop goroutine and must not block.
type StateHook func(s State, err error)

// Loop drives one run from Idle to Stopped.
type Loop struct {
	deps   Deps
	params Params
	clock  timeutil.Clock

	state         atomic.Int32
	stopRequested atomic.Bool

	hooksMu sync.Mutex
	hooks   []StateHook

	sensorWarned     bool
	overruns         atomic.Uint64
	actuatorFailures atomic.Uint64
	telemetryDropped atomic.Uint64
}

// New validates deps and returns an Idle loop.
func New(deps Deps, params Params) (*Loop, error) {
	switch {
	case deps.Sensor == nil:
		return nil, errors.New("control: sensor source is required")
	case deps.Distance == nil:
		return nil, errors.New("control: distance source is required")
	case deps.Actuator == nil:
		return nil, errors.New("control: actuator is required")
	case deps.Button == nil:
		return nil, errors.New("control: start/stop button is required")
	case params.FramesPerSecond <= 0:
		return nil, fmt.Errorf("control: frames per second must be > 0, got %d", params.FramesPerSecond)
	}

	clock := deps.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Loop{deps: deps, params: params, clock: clock}, nil
}

// OnStateChange adds a hook called on every transition.
func (l *Loop) OnStateChange(h StateHook) {
	l.hooksMu.Lock()
	defer l.hooksMu.Unlock()
	l.hooks = append(l.hooks, h)
}

// State is the current phase. Safe from any goroutine.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// RequestStop asks a running loop to stop at the top of its next tick.
func (l *Loop) RequestStop() {
	l.stopRequested.Store(true)
}

// Overruns is the number of ticks that exceeded their budget.
func (l *Loop) Overruns() uint64 { return l.overruns.Load() }

// ActuatorFailures is the number of ticks whose motor command failed.
func (l *Loop) ActuatorFailures() uint64 { return l.actuatorFailures.Load() }

// TelemetryDropped is the number of records the sink refused.
func (l *Loop) TelemetryDropped() uint64 { return l.telemetryDropped.Load() }

// Run waits for the first press, calibrates, waits for the second press and
// steers until the button is pressed again or ctx is done. It returns nil
// when a started run is stopped. The actuator is always left at full stop.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(Idle, nil)

	log.Println("control: press the button to calibrate")
	if err := l.deps.Button.WaitForPress(ctx); err != nil {
		return l.abort(fmt.Errorf("waiting to calibrate: %w", err))
	}

	l.setState(Calibrating, nil)
	cal := steering.NewCalibrator(l.deps.Sensor, l.clock)
	cal.Samples = l.params.CalibrationSamples
	cal.PollInterval = l.params.CalibrationPollInterval
	cal.MaxAttempts = l.params.CalibrationMaxAttempts
	baseline, err := cal.Calibrate(ctx)
	if err != nil {
		return l.abort(fmt.Errorf("calibrating: %w", err))
	}

	l.setState(WaitingForStart, nil)
	log.Println("control: place the vehicle on the line and press the button to start")
	if err := l.deps.Button.WaitForPress(ctx); err != nil {
		return l.abort(fmt.Errorf("waiting to start: %w", err))
	}
	if l.params.StartDelay > 0 {
		log.Printf("control: starting in %v", l.params.StartDelay)
		if err := timeutil.SleepContext(ctx, l.clock, l.params.StartDelay); err != nil {
			return l.abort(fmt.Errorf("start delay: %w", err))
		}
	}

	l.stopRequested.Store(false)
	l.deps.Button.OnPress(l.RequestStop)
	l.setState(Running, nil)

	st := NewControllerState(baseline, l.params.FramesPerSecond)
	l.run(ctx, st)

	stopErr := l.fullStop()
	l.setState(Stopped, stopErr)
	log.Printf("control: stopped after %d ticks (%d overruns, %d actuator failures, %d telemetry dropped)",
		st.Tick, l.Overruns(), l.ActuatorFailures(), l.TelemetryDropped())
	return stopErr
}

// run is the fixed-rate loop. Pacing keeps an absolute deadline; a late tick
// sleeps zero and the schedule restarts from now instead of catching up.
func (l *Loop) run(ctx context.Context, st *ControllerState) {
	period := l.params.Period()
	next := l.clock.Now()

	for !l.stopRequested.Load() && ctx.Err() == nil {
		l.Step(st)

		next = next.Add(period)
		if d := l.clock.Until(next); d > 0 {
			l.clock.Sleep(d)
		} else {
			l.overruns.Add(1)
			next = l.clock.Now()
		}
	}
}

// Step performs one tick against st: read, steer, command and report.
func (l *Loop) Step(st *ControllerState) Frame {
	start := l.clock.Now()

	sample := l.deps.Sensor.LatestReading()
	if !l.sensorWarned && !l.deps.Sensor.HasReading() {
		l.sensorWarned = true
		log.Printf("control: %v, steering on the last known side", ErrSensorUnavailable)
	}
	distance := l.deps.Distance.LatestDistanceCm()

	f := Advance(st, sample, distance, l.params)

	if err := l.deps.Actuator.SetCommand(f.Command.Left, f.Command.Right); err != nil {
		n := l.actuatorFailures.Add(1)
		if n == 1 || n%100 == 0 {
			log.Printf("control: tick %d: %v (%d so far)", st.Tick, fmt.Errorf("%w: %w", ErrActuatorWrite, err), n)
		}
	}

	elapsed := l.clock.Since(start)
	if l.deps.Telemetry != nil {
		rec := telemetry.Record{
			Time:           start,
			Tick:           st.Tick,
			State:          Running.String(),
			CenterRaw:      sample.Center,
			LeftRaw:        sample.Left,
			RightRaw:       sample.Right,
			RearRaw:        sample.Rear,
			Position:       f.Position,
			Confidence:     f.Confidence,
			TurnFactor:     f.TurnFactor,
			Throttle:       f.Throttle,
			DistanceCm:     distance,
			MotorLeft:      f.Command.Left,
			MotorRight:     f.Command.Right,
			TickDurationMs: float64(elapsed.Microseconds()) / 1000,
		}
		if err := l.deps.Telemetry.Publish(rec); err != nil {
			l.telemetryDropped.Add(1)
		}
	}

	if every := uint64(l.params.LogEveryTicks); every > 0 && st.Tick%every == 0 {
		log.Printf("control: tick %d pos=%+.3f conf=%5.1f thr=%.2f dist=%.1f motors L=%+.3f R=%+.3f (%v)",
			st.Tick, f.Position, f.Confidence, f.Throttle, distance, f.Command.Left, f.Command.Right, elapsed)
	}
	return f
}

func (l *Loop) abort(err error) error {
	if stopErr := l.fullStop(); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	l.setState(Stopped, err)
	return err
}

func (l *Loop) fullStop() error {
	if err := l.deps.Actuator.FullStop(); err != nil {
		err = fmt.Errorf("%w: full stop: %w", ErrActuatorWrite, err)
		log.Printf("control: %v", err)
		return err
	}
	return nil
}

func (l *Loop) setState(s State, err error) {
	l.state.Store(int32(s))
	if err != nil {
		log.Printf("control: state %s (%v)", s, err)
	} else {
		log.Printf("control: state %s", s)
	}

	l.hooksMu.Lock()
	hooks := append([]StateHook(nil), l.hooks...)
	l.hooksMu.Unlock()
	for _, h := range hooks {
		h(s, err)
	}
}
