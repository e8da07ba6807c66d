// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import "sync/atomic"

// Latest is a single-slot mailbox: the newest published value replaces the
// previous one and readers never block.
type Latest[T any] struct {
	p atomic.Pointer[T]
}

// NewLatest returns a slot holding initial.
func NewLatest[T any](initial T) *Latest[T] {
	l := &Latest[T]{}
	l.Publish(initial)
	return l
}

// Publish replaces the stored value.
func (l *Latest[T]) Publish(v T) {
	l.p.Store(&v)
}

// Load returns the most recently published value.
func (l *Latest[T]) Load() T {
	if p := l.p.Load(); p != nil {
		return *p
	}
	var zero T
	return zero
}
