// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package button turns a momentary push button into press events.
package button

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/line_follower/internal/timeutil"
)

const (
	// DefaultDebounce ignores contact bounce after a press.
	DefaultDebounce = 50 * time.Millisecond

	edgePoll = 100 * time.Millisecond
)

// ErrClosed is returned by WaitForPress once the button is closed.
var ErrClosed = errors.New("button closed")

type edgeInput interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	WaitForEdge(timeout time.Duration) bool
	Read() gpio.Level
	Halt() error
}

// Button watches an active-low button wired between the pin and ground.
type Button struct {
	pin      edgeInput
	clock    timeutil.Clock
	debounce time.Duration

	presses chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	handler func()
}

// Open enables the internal pull-up and falling edge detection on name.
func Open(name string) (*Button, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("button: periph host init: %w", err)
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("button: pin %q not found", name)
	}

	b, err := newButton(pin, timeutil.RealClock{}, DefaultDebounce)
	if err != nil {
		return nil, err
	}
	log.Printf("button: watching %s", name)
	return b, nil
}

func newButton(pin edgeInput, clock timeutil.Clock, debounce time.Duration) (*Button, error) {
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("button: edge detection: %w", err)
	}
	b := &Button{
		pin:      pin,
		clock:    clock,
		debounce: debounce,
		presses:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.watch()
	return b, nil
}

// WaitForPress blocks until the next press. Presses that happened before the
// call are not counted.
func (b *Button) WaitForPress(ctx context.Context) error {
	select {
	case <-b.presses:
	default:
	}

	select {
	case <-b.presses:
		return nil
	case <-b.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnPress registers fn to run on every later press, replacing any earlier
// handler. fn runs on the watcher goroutine and must not block.
func (b *Button) OnPress(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

// Close stops watching and releases the pin.
func (b *Button) Close() error {
	b.once.Do(func() { close(b.stop) })
	<-b.done
	return b.pin.Halt()
}

func (b *Button) watch() {
	defer close(b.done)

	var last time.Time
	for {
		select {
		case <-b.stop:
			return
		default:
		}

		if !b.pin.WaitForEdge(edgePoll) {
			continue
		}
		if b.pin.Read() != gpio.Low {
			continue
		}
		now := b.clock.Now()
		if !last.IsZero() && now.Sub(last) < b.debounce {
			continue
		}
		last = now
		b.press()
	}
}

func (b *Button) press() {
	b.mu.Lock()
	fn := b.handler
	b.mu.Unlock()
	if fn != nil {
		fn()
	}

	select {
	case b.presses <- struct{}{}:
	default:
	}
}
