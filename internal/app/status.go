// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/relabs-tech/line_follower/internal/control"
	"github.com/relabs-tech/line_follower/internal/telemetry"
)

// Status is a snapshot of what the vehicle last reported.
type Status struct {
	State      telemetry.StateChange
	HaveState  bool
	Record     telemetry.Record
	HaveRecord bool
}

// StatusBoard keeps the newest state change and telemetry record. It is fed
// either directly by the control loop or from MQTT payloads.
type StatusBoard struct {
	mu sync.RWMutex
	st Status
}

// Publish stores r. It never fails, so the board can sit next to a real
// telemetry sink.
func (b *StatusBoard) Publish(r telemetry.Record) error {
	b.mu.Lock()
	b.st.Record = r
	b.st.HaveRecord = true
	b.mu.Unlock()
	return nil
}

// SetState stores sc.
func (b *StatusBoard) SetState(sc telemetry.StateChange) {
	b.mu.Lock()
	b.st.State = sc
	b.st.HaveState = true
	b.mu.Unlock()
}

// Snapshot returns a copy of the current status.
func (b *StatusBoard) Snapshot() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st
}

// HandleTelemetryPayload decodes a telemetry record published over MQTT.
func (b *StatusBoard) HandleTelemetryPayload(payload []byte) (telemetry.Record, error) {
	var r telemetry.Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return r, err
	}
	b.Publish(r)
	return r, nil
}

// HandleStatePayload decodes a state change published over MQTT.
func (b *StatusBoard) HandleStatePayload(payload []byte) (telemetry.StateChange, error) {
	var sc telemetry.StateChange
	if err := json.Unmarshal(payload, &sc); err != nil {
		return sc, err
	}
	b.SetState(sc)
	return sc, nil
}

// stateChange converts a loop transition to its published form.
func stateChange(s control.State, err error, at time.Time) telemetry.StateChange {
	sc := telemetry.StateChange{State: s.String(), Time: at}
	if err != nil {
		sc.Error = err.Error()
	}
	return sc
}

// multiSink fans a record out to several sinks.
type multiSink []control.TelemetrySink

func (m multiSink) Publish(r telemetry.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
