// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package actuator drives the two continuous-rotation wheel servos.
package actuator

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// Standard hobby servo timing: 1.5 ms is stopped, 1.0 ms and 2.0 ms are
// full speed in either direction.
const (
	ServoFrequency  = 50 * physic.Hertz
	ServoPeriod     = 20 * time.Millisecond
	ServoPulseMid   = 1500 * time.Microsecond
	ServoPulseRange = 500 * time.Microsecond
)

type pwmPin interface {
	PWM(duty gpio.Duty, f physic.Frequency) error
	Halt() error
}

// Servos writes normalized speeds to the left and right wheel servos. The
// left servo is mounted mirrored, so its value is inverted on the wire.
// A channel is only rewritten when its value changes.
type Servos struct {
	mu          sync.Mutex
	left, right pwmPin
	lastLeft    float64
	lastRight   float64
}

// OpenServos configures hardware PWM on the two named pins and parks both
// servos at neutral.
func OpenServos(leftName, rightName string) (*Servos, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("servos: periph host init: %w", err)
	}

	left := gpioreg.ByName(leftName)
	if left == nil {
		return nil, fmt.Errorf("servos: left pin %q not found", leftName)
	}
	right := gpioreg.ByName(rightName)
	if right == nil {
		return nil, fmt.Errorf("servos: right pin %q not found", rightName)
	}

	s, err := newServos(left, right)
	if err != nil {
		return nil, err
	}
	log.Printf("servos: left=%s right=%s at %v", leftName, rightName, ServoFrequency)
	return s, nil
}

func newServos(left, right pwmPin) (*Servos, error) {
	s := &Servos{left: left, right: right}
	if err := s.FullStop(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetCommand writes left and right speeds in [-1, 1]. Out of range values
// are clamped and NaN is treated as stop.
func (s *Servos) SetCommand(left, right float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	left, right = normalize(left), normalize(right)

	var errs []error
	if left != s.lastLeft {
		if err := s.left.PWM(Duty(-left), ServoFrequency); err != nil {
			errs = append(errs, fmt.Errorf("left servo: %w", err))
		} else {
			s.lastLeft = left
		}
	}
	if right != s.lastRight {
		if err := s.right.PWM(Duty(right), ServoFrequency); err != nil {
			errs = append(errs, fmt.Errorf("right servo: %w", err))
		} else {
			s.lastRight = right
		}
	}
	return errors.Join(errs...)
}

// FullStop writes neutral to both servos unconditionally.
func (s *Servos) FullStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := s.left.PWM(Duty(0), ServoFrequency); err != nil {
		errs = append(errs, fmt.Errorf("left servo: %w", err))
	} else {
		s.lastLeft = 0
	}
	if err := s.right.PWM(Duty(0), ServoFrequency); err != nil {
		errs = append(errs, fmt.Errorf("right servo: %w", err))
	} else {
		s.lastRight = 0
	}
	return errors.Join(errs...)
}

// Close stops both servos and releases the PWM outputs.
func (s *Servos) Close() error {
	stopErr := s.FullStop()

	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(stopErr, s.left.Halt(), s.right.Halt())
}

// PulseWidth is the servo pulse for a normalized speed.
func PulseWidth(v float64) time.Duration {
	return ServoPulseMid + time.Duration(normalize(v)*float64(ServoPulseRange))
}

// Duty is the PWM duty cycle for a normalized speed at ServoFrequency.
func Duty(v float64) gpio.Duty {
	return gpio.Duty(math.Round(float64(gpio.DutyMax) * float64(PulseWidth(v)) / float64(ServoPeriod)))
}

func normalize(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < -1:
		return -1
	case v > 1:
		return 1
	}
	return v
}
