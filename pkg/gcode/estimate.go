// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gcode

import "math"

// Acceleration used by the move time estimate, in mm/s²
const Acceleration = 2000.0

// estimator accumulates move times with a trapezoidal feedrate model.
// Feedrates are in mm/s.
type estimator struct {
	lastF  float64
	lastDX float64
	lastDY float64
}

// move returns the estimated duration in seconds of the move from prev to
// cur at feedrate f
func (e *estimator) move(l *Line, prev, cur position, f float64) float64 {
	if l.X == nil && l.Y == nil && l.Z == nil && l.E == nil {
		// feedrate-only move
		return 0
	}

	dx := cur.x - prev.x
	dy := cur.y - prev.y

	// Reversal or first move: assume a full stop before this segment.
	if dx*e.lastDX+dy*e.lastDY <= 0 {
		e.lastF = 0
	}

	travel := math.Hypot(dx, dy)
	if travel == 0 {
		switch {
		case l.Z != nil:
			travel = math.Abs(cur.z - prev.z)
		case l.E != nil:
			travel = math.Abs(cur.e - prev.e)
		}
	}

	var d float64
	switch {
	case f == e.lastF:
		if f != 0 {
			d = travel / f
		}
	default:
		accel := 2 * math.Abs((e.lastF+f)*(f-e.lastF)*0.5/Acceleration)
		switch {
		case accel <= travel && e.lastF+f != 0 && f != 0:
			d = 2*accel/(e.lastF+f) + (travel-accel)/f
		case e.lastF+f != 0:
			d = 2 * travel / (e.lastF + f)
		}
	}

	e.lastDX = dx
	e.lastDY = dy
	e.lastF = f
	return d
}
