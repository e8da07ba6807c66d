// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package steering

// History is a bounded FIFO window of past line positions.
// It is seeded with a single 0 and is never empty.
type History struct {
	values   []float64
	capacity int
}

// NewHistory returns a window holding at most capacity positions.
// Capacities below 1 are raised to 1.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	values := make([]float64, 1, capacity+1)
	return &History{values: values, capacity: capacity}
}

// HistoryCapacity is the rolling two second window for a loop rate.
func HistoryCapacity(framesPerSecond int) int {
	return 2 * framesPerSecond
}

// Push appends a position and evicts the oldest entries past capacity.
func (h *History) Push(position float64) {
	h.values = append(h.values, position)
	if over := len(h.values) - h.capacity; over > 0 {
		h.values = append(h.values[:0], h.values[over:]...)
	}
}

// Last returns the most recent position.
func (h *History) Last() float64 {
	return h.values[len(h.values)-1]
}

func (h *History) Len() int      { return len(h.values) }
func (h *History) Capacity() int { return h.capacity }

// Values returns a copy of the window, oldest first.
func (h *History) Values() []float64 {
	out := make([]float64, len(h.values))
	copy(out, h.values)
	return out
}
