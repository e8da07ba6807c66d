// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors turns the vehicle's reflectance and distance hardware into
// latest-value feeds that the control loop can read without blocking.
package sensors

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/line_follower/internal/reading"
)

// Feed collects readings from independent producer goroutines.
type Feed struct {
	readings  *Latest[reading.Sample]
	distance  *Latest[float64]
	published atomic.Bool

	mu      sync.Mutex
	pending []func(ctx context.Context)
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewFeed returns a feed holding reading.Unavailable and no echo.
func NewFeed() *Feed {
	return &Feed{
		readings: NewLatest(reading.Unavailable),
		distance: NewLatest(reading.NoEcho),
	}
}

// LatestReading returns the newest reflectance sample, or
// reading.Unavailable before the first one. Use LatestDistanceCm for the
// rangefinder.
func (f *Feed) LatestReading() reading.Sample {
	return f.readings.Load()
}

// HasReading reports whether any reflectance sample was published.
func (f *Feed) HasReading() bool {
	return f.published.Load()
}

// LatestDistanceCm returns the newest distance, or reading.NoEcho.
func (f *Feed) LatestDistanceCm() float64 {
	return f.distance.Load()
}

// PublishReading stores a new reflectance sample.
func (f *Feed) PublishReading(s reading.Sample) {
	f.readings.Publish(s)
	f.published.Store(true)
}

// PublishDistance stores a new distance in centimetres.
func (f *Feed) PublishDistance(cm float64) {
	f.distance.Publish(cm)
}

// Go runs fn in its own goroutine once the feed is started. fn must return
// when ctx is done.
func (f *Feed) Go(fn func(ctx context.Context)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctx == nil {
		f.pending = append(f.pending, fn)
		return
	}
	f.launch(fn)
}

// WatchReadings polls read every interval and publishes successful results.
func (f *Feed) WatchReadings(name string, interval time.Duration, read func() (reading.Sample, error)) {
	f.Go(func(ctx context.Context) {
		poll(ctx, name, interval, read, f.PublishReading)
	})
}

// WatchDistance polls read every interval and publishes successful results.
func (f *Feed) WatchDistance(name string, interval time.Duration, read func() (float64, error)) {
	f.Go(func(ctx context.Context) {
		poll(ctx, name, interval, read, f.PublishDistance)
	})
}

// Start launches every registered producer.
func (f *Feed) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctx != nil {
		return
	}
	f.ctx, f.cancel = context.WithCancel(ctx)
	for _, fn := range f.pending {
		f.launch(fn)
	}
	f.pending = nil
}

// Stop cancels the producers and waits for them to return.
func (f *Feed) Stop() {
	f.mu.Lock()
	cancel := f.cancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
}

// launch must be called with f.mu held.
func (f *Feed) launch(fn func(ctx context.Context)) {
	f.wg.Add(1)
	go func(ctx context.Context) {
		defer f.wg.Done()
		fn(ctx)
	}(f.ctx)
}

func poll[T any](ctx context.Context, name string, interval time.Duration, read func() (T, error), publish func(T)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var failures uint64
	for {
		v, err := read()
		if err != nil {
			failures++
			if failures == 1 || failures%100 == 0 {
				log.Printf("sensors: %s read error: %v (%d so far)", name, err, failures)
			}
		} else {
			publish(v)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
