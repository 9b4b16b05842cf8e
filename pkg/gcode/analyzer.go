// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gcode

import (
	"strconv"
	"strings"
)

const mmPerInch = 25.4

// Analyzer replays G-code commands and tracks the modal machine state:
// units, positioning modes, tool, position, G92 offsets and extrusion.
// It is not safe for concurrent use.
type Analyzer struct {
	Imperial  bool
	Relative  bool
	RelativeE bool
	Cutting   bool

	CurrentTool int

	CurrentX float64
	CurrentY float64
	CurrentZ float64
	CurrentE float64
	CurrentF float64

	OffsetX float64
	OffsetY float64
	OffsetZ float64
	OffsetE float64

	HomeX float64
	HomeY float64
	HomeZ float64

	TotalE float64
	MaxE   float64

	CurrentEMulti []float64
	OffsetEMulti  []float64
	TotalEMulti   []float64
	MaxEMulti     []float64
}

// NewAnalyzer returns an analyzer in metric, absolute mode on tool 0
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		CurrentEMulti: []float64{0},
		OffsetEMulti:  []float64{0},
		TotalEMulti:   []float64{0},
		MaxEMulti:     []float64{0},
	}
}

// AbsX returns the X position in the coordinate system set by G92
func (a *Analyzer) AbsX() float64 { return a.CurrentX - a.OffsetX }

// AbsY returns the Y position in the coordinate system set by G92
func (a *Analyzer) AbsY() float64 { return a.CurrentY - a.OffsetY }

// AbsZ returns the Z position in the coordinate system set by G92
func (a *Analyzer) AbsZ() float64 { return a.CurrentZ - a.OffsetZ }

// AbsE returns the extruder position in the coordinate system set by G92
func (a *Analyzer) AbsE() float64 { return a.CurrentE - a.OffsetE }

// Append parses raw and applies it
func (a *Analyzer) Append(raw string) *Line {
	l := Parse(raw)
	a.Apply(l)
	return l
}

// Apply applies the effect of l to the analyzer and stamps the resulting
// state onto l
func (a *Analyzer) Apply(l *Line) {
	switch l.Command {
	case "G20":
		a.Imperial = true
	case "G21":
		a.Imperial = false
	case "G90":
		a.Relative = false
		a.RelativeE = false
	case "G91":
		a.Relative = true
		a.RelativeE = true
	case "M82":
		a.RelativeE = false
	case "M83":
		a.RelativeE = true
	case "M3", "M4":
		a.Cutting = true
	case "M5":
		a.Cutting = false
	case "G28":
		a.home(l)
	case "G92":
		a.setOffsets(l)
	default:
		if strings.HasPrefix(l.Command, "T") {
			a.selectTool(l.Command[1:])
		}
	}

	if l.IsMove {
		a.move(l)
	}

	l.Relative = a.Relative
	l.RelativeE = a.RelativeE
	l.CurrentTool = a.CurrentTool
	l.CurrentX = a.CurrentX
	l.CurrentY = a.CurrentY
	l.CurrentZ = a.CurrentZ
}

func (a *Analyzer) unit(v *float64) float64 {
	if a.Imperial {
		return *v * mmPerInch
	}
	return *v
}

func (a *Analyzer) selectTool(num string) {
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return
	}
	for len(a.CurrentEMulti) <= n {
		a.CurrentEMulti = append(a.CurrentEMulti, 0)
		a.OffsetEMulti = append(a.OffsetEMulti, 0)
		a.TotalEMulti = append(a.TotalEMulti, 0)
		a.MaxEMulti = append(a.MaxEMulti, 0)
	}
	a.CurrentTool = n
}

func (a *Analyzer) home(l *Line) {
	all := !l.Mentions('X') && !l.Mentions('Y') && !l.Mentions('Z')
	if all || l.Mentions('X') {
		a.OffsetX = 0
		a.CurrentX = a.HomeX
	}
	if all || l.Mentions('Y') {
		a.OffsetY = 0
		a.CurrentY = a.HomeY
	}
	if all || l.Mentions('Z') {
		a.OffsetZ = 0
		a.CurrentZ = a.HomeZ
	}
}

func (a *Analyzer) setOffsets(l *Line) {
	if l.X != nil {
		a.OffsetX = a.CurrentX - a.unit(l.X)
	}
	if l.Y != nil {
		a.OffsetY = a.CurrentY - a.unit(l.Y)
	}
	if l.Z != nil {
		a.OffsetZ = a.CurrentZ - a.unit(l.Z)
	}
	if l.E != nil {
		e := a.unit(l.E)
		a.OffsetE = a.CurrentE - e
		t := a.CurrentTool
		a.OffsetEMulti[t] = a.CurrentEMulti[t] - e
	}
}

func (a *Analyzer) move(l *Line) {
	if l.X != nil {
		a.CurrentX = a.axis(a.CurrentX, a.OffsetX, a.unit(l.X), a.Relative)
	}
	if l.Y != nil {
		a.CurrentY = a.axis(a.CurrentY, a.OffsetY, a.unit(l.Y), a.Relative)
	}
	if l.Z != nil {
		a.CurrentZ = a.axis(a.CurrentZ, a.OffsetZ, a.unit(l.Z), a.Relative)
	}
	if l.F != nil {
		a.CurrentF = a.unit(l.F)
	}

	l.Extruding = a.Cutting
	if l.E != nil {
		l.Extruding = a.extrude(a.unit(l.E)) || a.Cutting
	}
}

func (a *Analyzer) axis(current, offset, value float64, relative bool) float64 {
	if relative {
		return current + value
	}
	return offset + value
}

func (a *Analyzer) extrude(e float64) bool {
	t := a.CurrentTool
	var extruding bool

	if a.RelativeE {
		extruding = e > 0
		a.TotalE += e
		a.TotalEMulti[t] += e
		a.CurrentE += e
		a.CurrentEMulti[t] += e
	} else {
		target := a.OffsetE + e
		extruding = target > a.CurrentE
		a.TotalE += target - a.CurrentE
		a.CurrentE = target

		targetT := a.OffsetEMulti[t] + e
		a.TotalEMulti[t] += targetT - a.CurrentEMulti[t]
		a.CurrentEMulti[t] = targetT
	}

	if a.TotalE > a.MaxE {
		a.MaxE = a.TotalE
	}
	if a.TotalEMulti[t] > a.MaxEMulti[t] {
		a.MaxEMulti[t] = a.TotalEMulti[t]
	}
	return extruding
}

// Snapshot returns a copy of the analyzer state
func (a *Analyzer) Snapshot() Analyzer {
	s := *a
	s.CurrentEMulti = append([]float64(nil), a.CurrentEMulti...)
	s.OffsetEMulti = append([]float64(nil), a.OffsetEMulti...)
	s.TotalEMulti = append([]float64(nil), a.TotalEMulti...)
	s.MaxEMulti = append([]float64(nil), a.MaxEMulti...)
	return s
}
