// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package button

import (
	"context"
	"sync"
)

// Auto is a button that is always pressed when waited on. Press fires the
// registered handler, which is how a simulation ends a run.
type Auto struct {
	mu      sync.Mutex
	handler func()
	waits   int
}

// WaitForPress returns at once unless ctx is already done.
func (a *Auto) WaitForPress(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	a.waits++
	a.mu.Unlock()
	return nil
}

// OnPress registers fn for Press.
func (a *Auto) OnPress(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = fn
}

// Press runs the registered handler, if any.
func (a *Auto) Press() {
	a.mu.Lock()
	fn := a.handler
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Waits is how many times WaitForPress returned a press.
func (a *Auto) Waits() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.waits
}
