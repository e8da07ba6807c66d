// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"
	"math"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/line_follower/internal/reading"
	"github.com/relabs-tech/line_follower/internal/timeutil"
)

// Speed of sound used to convert the echo pulse, in cm/s.
const speedOfSoundCmPerS = 34300

const triggerPulse = 10 * time.Microsecond

type outPin interface {
	Out(l gpio.Level) error
}

type edgePin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	WaitForEdge(timeout time.Duration) bool
	Read() gpio.Level
}

// Ultrasonic drives an HC-SR04 style rangefinder.
type Ultrasonic struct {
	trig    outPin
	echo    edgePin
	clock   timeutil.Clock
	timeout time.Duration
}

// OpenUltrasonic configures the trigger and echo pins.
func OpenUltrasonic(trigName, echoName string, timeout time.Duration) (*Ultrasonic, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("ultrasonic: periph host init: %w", err)
	}

	trig := gpioreg.ByName(trigName)
	if trig == nil {
		return nil, fmt.Errorf("ultrasonic: trigger pin %q not found", trigName)
	}
	echo := gpioreg.ByName(echoName)
	if echo == nil {
		return nil, fmt.Errorf("ultrasonic: echo pin %q not found", echoName)
	}

	u, err := newUltrasonic(trig, echo, timeutil.RealClock{}, timeout)
	if err != nil {
		return nil, err
	}
	log.Printf("ultrasonic: trigger=%s echo=%s timeout=%v", trigName, echoName, timeout)
	return u, nil
}

func newUltrasonic(trig outPin, echo edgePin, clock timeutil.Clock, timeout time.Duration) (*Ultrasonic, error) {
	if err := trig.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("ultrasonic: trigger low: %w", err)
	}
	if err := echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("ultrasonic: echo edge detection: %w", err)
	}
	return &Ultrasonic{trig: trig, echo: echo, clock: clock, timeout: timeout}, nil
}

// Measure fires one ping and returns the distance in centimetres, or
// reading.NoEcho when the echo never started or never ended in time.
func (u *Ultrasonic) Measure() (float64, error) {
	// drop edges latched since the previous ping
	for i := 0; i < 4 && u.echo.WaitForEdge(0); i++ {
	}

	if err := u.trig.Out(gpio.High); err != nil {
		return reading.NoEcho, fmt.Errorf("trigger high: %w", err)
	}
	u.clock.Sleep(triggerPulse)
	if err := u.trig.Out(gpio.Low); err != nil {
		return reading.NoEcho, fmt.Errorf("trigger low: %w", err)
	}

	if !u.echo.WaitForEdge(u.timeout) || u.echo.Read() != gpio.High {
		return reading.NoEcho, nil
	}
	start := u.clock.Now()

	if !u.echo.WaitForEdge(u.timeout) {
		return reading.NoEcho, nil
	}
	return EchoToCm(u.clock.Since(start)), nil
}

// Close disables edge detection on the echo pin and leaves the trigger low.
func (u *Ultrasonic) Close() error {
	if err := u.echo.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return fmt.Errorf("ultrasonic: echo release: %w", err)
	}
	return u.trig.Out(gpio.Low)
}

// EchoToCm converts an echo pulse width to centimetres, rounded to 0.1 cm.
func EchoToCm(pulse time.Duration) float64 {
	cm := pulse.Seconds() * speedOfSoundCmPerS / 2
	return math.Round(cm*10) / 10
}
