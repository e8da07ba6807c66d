// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package steering

// Command is a normalized differential motor command.
type Command struct {
	Left  float64 `json:"left"`  // [-1, 1]
	Right float64 `json:"right"` // [-1, 1]
}

// FullStop is the neutral command.
var FullStop = Command{}

// ConfidenceFactor squares normalized confidence so an unsure controller crawls.
func ConfidenceFactor(confidence float64) float64 {
	c := clamp(confidence, 0, MaxConfidence) / MaxConfidence
	return c * c
}

// TurnFactor is the cubed line position: gentle near center, sharp at the edges.
func TurnFactor(position float64) float64 {
	return position * position * position
}

// Mix combines confidence, line position and obstacle throttle into motor
// commands scaled by coefficient.
func Mix(confidence, position, throttle, coefficient float64) Command {
	cf := ConfidenceFactor(confidence)
	turn := TurnFactor(position)
	scale := throttle * coefficient

	return Command{
		Left:  clamp((cf-turn)*scale, -1, 1),
		Right: clamp((cf+turn)*scale, -1, 1),
	}
}
