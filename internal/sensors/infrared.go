// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
	"log"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/line_follower/internal/reading"
)

// Full scale of the ADS1115 at gain 1; codes then span 0..reading.MaxCode.
const (
	adcFullScale = 4096 * physic.MilliVolt
	adcDataRate  = 860 * physic.Hertz
)

// Channels maps each reflectance sensor to an ADS1115 single-ended input.
type Channels struct {
	Center, Left, Right, Rear int
}

// adcPin is the part of ads1x15.PinADC used here.
type adcPin interface {
	Read() (analog.Sample, error)
	Halt() error
}

// Infrared reads the four reflectance sensors from an ADS1115.
type Infrared struct {
	center, left, right, rear adcPin
	bus                       i2c.BusCloser
}

// OpenInfrared initializes the ADS1115 on busName ("" for the first bus).
func OpenInfrared(busName string, addr uint16, ch Channels) (*Infrared, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("infrared: periph host init: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("infrared: I2C open %q: %w", busName, err)
	}

	dev, err := ads1x15.NewADS1115(bus, &ads1x15.Opts{I2cAddress: addr})
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("infrared: ADS1115 at 0x%02X: %w", addr, err)
	}

	ir := &Infrared{bus: bus}
	for _, p := range []struct {
		name    string
		channel int
		dst     *adcPin
	}{
		{"center", ch.Center, &ir.center},
		{"left", ch.Left, &ir.left},
		{"right", ch.Right, &ir.right},
		{"rear", ch.Rear, &ir.rear},
	} {
		pin, err := dev.PinForChannel(singleEnded(p.channel), adcFullScale, adcDataRate, ads1x15.BestQuality)
		if err != nil {
			ir.Close()
			return nil, fmt.Errorf("infrared: %s channel %d: %w", p.name, p.channel, err)
		}
		*p.dst = pin
	}

	log.Printf("infrared: ADS1115 at 0x%02X ready (center=A%d left=A%d right=A%d rear=A%d)",
		addr, ch.Center, ch.Left, ch.Right, ch.Rear)
	return ir, nil
}

func singleEnded(ch int) ads1x15.Channel {
	switch ch {
	case 1:
		return ads1x15.Channel1
	case 2:
		return ads1x15.Channel2
	case 3:
		return ads1x15.Channel3
	default:
		return ads1x15.Channel0
	}
}

// Read performs one conversion per channel.
func (ir *Infrared) Read() (reading.Sample, error) {
	center, err := readCode(ir.center)
	if err != nil {
		return reading.Sample{}, fmt.Errorf("center: %w", err)
	}
	left, err := readCode(ir.left)
	if err != nil {
		return reading.Sample{}, fmt.Errorf("left: %w", err)
	}
	right, err := readCode(ir.right)
	if err != nil {
		return reading.Sample{}, fmt.Errorf("right: %w", err)
	}
	rear, err := readCode(ir.rear)
	if err != nil {
		return reading.Sample{}, fmt.Errorf("rear: %w", err)
	}
	return reading.Sample{
		Center:     center,
		Left:       left,
		Right:      right,
		Rear:       rear,
		DistanceCm: reading.NoEcho,
	}, nil
}

// readCode returns the raw conversion clamped to [0, MaxCode]. Single-ended
// inputs can read slightly negative near ground.
func readCode(p adcPin) (int, error) {
	s, err := p.Read()
	if err != nil {
		return 0, err
	}
	return clampCode(int(s.Raw)), nil
}

func clampCode(raw int) int {
	if raw < 0 {
		return 0
	}
	if raw > reading.MaxCode {
		return reading.MaxCode
	}
	return raw
}

// Close halts the channels and releases the bus.
func (ir *Infrared) Close() error {
	var errs []error
	for _, p := range []adcPin{ir.center, ir.left, ir.right, ir.rear} {
		if p != nil {
			errs = append(errs, p.Halt())
		}
	}
	if ir.bus != nil {
		errs = append(errs, ir.bus.Close())
	}
	return errors.Join(errs...)
}
