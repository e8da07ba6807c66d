// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package actuator

import (
	"log"
	"sync"

	"github.com/relabs-tech/line_follower/internal/steering"
)

// Console stands in for the servos when running without hardware. It keeps
// the last command and logs stops.
type Console struct {
	mu      sync.Mutex
	last    steering.Command
	writes  int
	Verbose bool // log every change, not just stops
}

// SetCommand records the clamped command.
func (c *Console) SetCommand(left, right float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := steering.Command{Left: normalize(left), Right: normalize(right)}
	if cmd == c.last {
		return nil
	}
	c.last = cmd
	c.writes++
	if c.Verbose {
		log.Printf("console actuator: left=%+.3f right=%+.3f", cmd.Left, cmd.Right)
	}
	return nil
}

// FullStop records a neutral command.
func (c *Console) FullStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = steering.FullStop
	c.writes++
	log.Println("console actuator: full stop")
	return nil
}

// Last returns the most recent command.
func (c *Console) Last() steering.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Writes is the number of commands that changed the output.
func (c *Console) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}
