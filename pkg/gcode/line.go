// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gcode

// Axis words tracked for bare mentions (e.g. "G28 X")
const (
	axisX uint8 = 1 << iota
	axisY
	axisZ
	axisE
)

// Line is one parsed G-code command plus the state the analyzer stamped on it
type Line struct {
	Raw     string
	Command string

	X, Y, Z, E, F, I, J *float64

	IsMove bool

	// Filled in by the analyzer
	Relative        bool
	RelativeE       bool
	CurrentTool     int
	Extruding       bool
	CurrentX        float64
	CurrentY        float64
	CurrentZ        float64
	GCViewEndVertex int

	bare uint8
}

// Mentions reports whether the axis letter appears on the line, with or
// without a value. Only X, Y, Z and E are tracked.
func (l *Line) Mentions(axis byte) bool {
	switch axis | 0x20 {
	case 'x':
		return l.X != nil || l.bare&axisX != 0
	case 'y':
		return l.Y != nil || l.bare&axisY != 0
	case 'z':
		return l.Z != nil || l.bare&axisZ != 0
	case 'e':
		return l.E != nil || l.bare&axisE != 0
	}
	return false
}

// P returns the P word of the line (dwell time in milliseconds for G4)
func (l *Line) P() (float64, bool) {
	return findWord(l.Raw, 'P')
}

// S returns the S word of the line
func (l *Line) S() (float64, bool) {
	return findWord(l.Raw, 'S')
}

// HasParams reports whether any positional parameter was parsed
func (l *Line) HasParams() bool {
	return l.X != nil || l.Y != nil || l.Z != nil || l.E != nil ||
		l.F != nil || l.I != nil || l.J != nil
}

// Layer is a horizontal slice of a document
type Layer struct {
	Z        float64
	HasZ     bool
	Lines    []*Line
	Duration float64 // seconds

	extruded bool
}

// Len returns the number of lines in the layer
func (l *Layer) Len() int {
	return len(l.Lines)
}

// Printed reports whether any line in the layer extruded material
func (l *Layer) Printed() bool {
	return l.extruded
}

func float(v float64) *float64 {
	return &v
}
