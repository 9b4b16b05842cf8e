// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gcode

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Parser Tests
// ============================================================

func TestParse_Commands(t *testing.T) {
	tests := []struct {
		raw     string
		command string
		isMove  bool
	}{
		{"G1 X10 Y20", "G1", true},
		{"g0 x1", "G0", true},
		{"G2 X1 Y1 I0.5 J0.5", "G2", true},
		{"G28", "G28", false},
		{"M104 S200", "M104", false},
		{"T1", "T1", false},
		{"T", "T", false},
		{"N12 G1 X5*34", "G1", true},
		{"Random Command", "Random Command", false},
		{"; only a comment", "; only a comment", false},
		{"(setup) G90", "G90", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			l := Parse(tt.raw)
			assert.Equal(t, tt.raw, l.Raw)
			assert.Equal(t, tt.command, l.Command)
			assert.Equal(t, tt.isMove, l.IsMove)
		})
	}
}

func TestParse_Params(t *testing.T) {
	l := Parse("G1 X10.5 Y-2 Z+0.3 E.25 F1500 ; move")
	require.NotNil(t, l.X)
	require.NotNil(t, l.Y)
	require.NotNil(t, l.Z)
	require.NotNil(t, l.E)
	require.NotNil(t, l.F)
	assert.Equal(t, 10.5, *l.X)
	assert.Equal(t, -2.0, *l.Y)
	assert.Equal(t, 0.3, *l.Z)
	assert.Equal(t, 0.25, *l.E)
	assert.Equal(t, 1500.0, *l.F)
	assert.Nil(t, l.I)
	assert.Nil(t, l.J)
}

func TestParse_CommentsIgnored(t *testing.T) {
	l := Parse("G1 (X99) X1 ;Y5")
	require.NotNil(t, l.X)
	assert.Equal(t, 1.0, *l.X)
	assert.Nil(t, l.Y)
}

func TestParse_NonGCommandsHaveNoParams(t *testing.T) {
	l := Parse("M92 X80 Y80 E93")
	assert.False(t, l.HasParams())
}

func TestParse_BareAxisWords(t *testing.T) {
	l := Parse("G28 X Y")
	assert.Nil(t, l.X)
	assert.True(t, l.Mentions('X'))
	assert.True(t, l.Mentions('y'))
	assert.False(t, l.Mentions('Z'))
}

func TestParse_Words(t *testing.T) {
	p, ok := Parse("G4 P500").P()
	require.True(t, ok)
	assert.Equal(t, 500.0, p)

	s, ok := Parse("M104 S210 ; hot").S()
	require.True(t, ok)
	assert.Equal(t, 210.0, s)

	_, ok = Parse("G4").P()
	assert.False(t, ok)
}

func TestParse_Reparse(t *testing.T) {
	lines := []string{"G1 X10 Y20 Z1 F1500", "G92 E0", "G0 X-1.5 Y2.25", "M106 S255", "T0"}
	for _, raw := range lines {
		a := Parse(raw)
		b := Parse(a.Raw)
		assert.Equal(t, a, b, raw)
	}
}

func TestHostCommand(t *testing.T) {
	assert.True(t, IsHostCommand(";@pause"))
	assert.True(t, IsHostCommand("  ;@pause"))
	assert.False(t, IsHostCommand("; comment"))

	name, args := HostCommand(";@Beep 3 times")
	assert.Equal(t, "beep", name)
	assert.Equal(t, "3 times", args)
}

func TestStripComment(t *testing.T) {
	assert.Equal(t, "G1 X1", StripComment("G1 X1 ; travel"))
	assert.Equal(t, "", StripComment("; comment"))
	assert.Equal(t, "M105", StripComment("  M105  "))
}

// ============================================================
// Analyzer Tests
// ============================================================

func analyze(lines ...string) *Analyzer {
	a := NewAnalyzer()
	for _, l := range lines {
		a.Append(l)
	}
	return a
}

func TestAnalyzer_AbsoluteThenRelative(t *testing.T) {
	a := analyze("G21", "G90", "G1 X10 Y20 Z1 F1500", "G91", "G1 X5 Y0 Z0")
	assert.Equal(t, 15.0, a.CurrentX)
	assert.Equal(t, 20.0, a.CurrentY)
	assert.Equal(t, 1.0, a.CurrentZ)
	assert.Equal(t, 1500.0, a.CurrentF)
}

func TestAnalyzer_LineStamping(t *testing.T) {
	a := NewAnalyzer()
	a.Append("G91")
	l := a.Append("G1 X2 Y3 Z4")
	assert.True(t, l.Relative)
	assert.True(t, l.RelativeE)
	assert.Equal(t, 2.0, l.CurrentX)
	assert.Equal(t, 3.0, l.CurrentY)
	assert.Equal(t, 4.0, l.CurrentZ)
}

func TestAnalyzer_Imperial(t *testing.T) {
	a := analyze("G20", "G1 X1 Y2")
	assert.InDelta(t, 25.4, a.CurrentX, 1e-9)
	assert.InDelta(t, 50.8, a.CurrentY, 1e-9)

	a = analyze("G20", "G21", "G1 X1")
	assert.Equal(t, 1.0, a.CurrentX)
}

func TestAnalyzer_G92Offsets(t *testing.T) {
	a := analyze("G1 X10 Y10", "G92 X0 Y0", "G1 X5 Y5")
	assert.Equal(t, 15.0, a.CurrentX)
	assert.Equal(t, 15.0, a.CurrentY)
	assert.Equal(t, 5.0, a.AbsX())
	assert.Equal(t, 5.0, a.AbsY())
}

func TestAnalyzer_Home(t *testing.T) {
	tests := []struct {
		name    string
		home    string
		x, y, z float64
	}{
		{"all", "G28", 0, 0, 0},
		{"x only", "G28 X0", 0, 20, 5},
		{"bare words", "G28 X Y", 0, 0, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := analyze("G1 X10 Y20 Z5", tt.home)
			assert.Equal(t, tt.x, a.CurrentX)
			assert.Equal(t, tt.y, a.CurrentY)
			assert.Equal(t, tt.z, a.CurrentZ)
		})
	}
}

func TestAnalyzer_HomeResetsOffset(t *testing.T) {
	a := NewAnalyzer()
	a.HomeX = 3
	a.Append("G1 X10")
	a.Append("G92 X0")
	a.Append("G28 X")
	assert.Equal(t, 3.0, a.CurrentX)
	assert.Equal(t, 0.0, a.OffsetX)
}

func TestAnalyzer_AbsoluteExtrusion(t *testing.T) {
	a := NewAnalyzer()
	l1 := a.Append("G1 X1 E5")
	l2 := a.Append("G1 E3")
	l3 := a.Append("G1 X2 E6")
	assert.True(t, l1.Extruding)
	assert.False(t, l2.Extruding)
	assert.True(t, l3.Extruding)
	assert.Equal(t, 6.0, a.TotalE)
	assert.Equal(t, 6.0, a.MaxE)
}

func TestAnalyzer_RelativeExtrusion(t *testing.T) {
	a := NewAnalyzer()
	a.Append("M83")
	assert.False(t, a.Relative)
	assert.True(t, a.RelativeE)

	l1 := a.Append("G1 X1 E2")
	l2 := a.Append("G1 E-1")
	l3 := a.Append("G1 X2 E4")
	assert.True(t, l1.Extruding)
	assert.False(t, l2.Extruding)
	assert.True(t, l3.Extruding)
	assert.Equal(t, 5.0, a.TotalE)
	assert.Equal(t, 5.0, a.MaxE)
}

func TestAnalyzer_MaxEMonotonic(t *testing.T) {
	a := NewAnalyzer()
	a.Append("M83")
	prev := 0.0
	for _, raw := range []string{"G1 E3", "G1 E-2", "G1 E-5", "G1 E1", "G1 E10"} {
		a.Append(raw)
		assert.GreaterOrEqual(t, a.MaxE, prev, raw)
		prev = a.MaxE
	}
	assert.Equal(t, 7.0, a.MaxE)
}

func TestAnalyzer_Tools(t *testing.T) {
	a := NewAnalyzer()
	a.Append("M83")
	a.Append("T2")
	assert.Equal(t, 2, a.CurrentTool)
	require.Len(t, a.MaxEMulti, 3)

	a.Append("G1 E4")
	a.Append("T")
	assert.Equal(t, 2, a.CurrentTool)
	a.Append("T0")
	a.Append("G1 E1")
	assert.Equal(t, []float64{1, 0, 4}, a.MaxEMulti)
}

func TestAnalyzer_G92E(t *testing.T) {
	a := analyze("G1 E10", "G92 E0", "G1 E2")
	assert.Equal(t, 12.0, a.CurrentE)
	assert.Equal(t, 2.0, a.AbsE())
	assert.Equal(t, 12.0, a.MaxE)
}

func TestAnalyzer_Cutting(t *testing.T) {
	a := NewAnalyzer()
	a.Append("M3")
	assert.True(t, a.Cutting)
	assert.True(t, a.Append("G1 X5").Extruding)
	a.Append("M5")
	assert.False(t, a.Append("G1 X6").Extruding)
}

func TestAnalyzer_FinalAbsoluteMove(t *testing.T) {
	a := analyze("G91", "G1 X3 Y3", "G92 X0", "G90", "G1 X7 Y8 Z9")
	// G92 shifted X by the relative move, Y and Z have no offset
	assert.Equal(t, 10.0, a.CurrentX)
	assert.Equal(t, 8.0, a.CurrentY)
	assert.Equal(t, 9.0, a.CurrentZ)
	assert.Equal(t, 7.0, a.AbsX())
}

// ============================================================
// Document Tests
// ============================================================

func sampleLines() []string {
	return []string{
		"G21",
		"G90",
		"M82",
		"G28",
		"G1 Z0.2 F1200",
		"G1 X10 Y10 E1 F1800",
		"G1 X20 Y10 E2",
		"G1 Z0.4",
		"G1 X20 Y20 E3",
		"G1 X10 Y20 E4",
		"G1 Z0.6",
		"G1 X10 Y10 E5",
		"G1 X50 Y50",
	}
}

func checkIndexes(t *testing.T, d *Document) {
	t.Helper()
	require.Len(t, d.LayerIdxs, len(d.Lines))
	require.Len(t, d.LineIdxs, len(d.Lines))

	maxLayer := 0
	total := 0
	for i := range d.Lines {
		layer, offset := d.Idxs(i)
		require.Less(t, layer, len(d.AllLayers))
		require.Less(t, offset, len(d.AllLayers[layer].Lines))
		assert.Same(t, d.Lines[i], d.AllLayers[layer].Lines[offset])
		if layer > maxLayer {
			maxLayer = layer
		}
	}
	for _, l := range d.AllLayers {
		total += l.Len()
	}
	if len(d.Lines) > 0 {
		assert.Equal(t, maxLayer+1, len(d.AllLayers))
	}
	assert.Equal(t, len(d.Lines), total)
}

func TestDocument_Layers(t *testing.T) {
	d := NewDocument(sampleLines())
	checkIndexes(t, d)

	require.Equal(t, 4, d.NumLayers())
	assert.Equal(t, 0.0, d.AllLayers[0].Z)
	assert.Equal(t, 0.2, d.AllLayers[1].Z)
	assert.Equal(t, 0.4, d.AllLayers[2].Z)
	assert.Equal(t, 0.6, d.AllLayers[3].Z)
	assert.Equal(t, 3, d.PrintedLayers())

	layer, offset := d.Idxs(4)
	assert.Equal(t, 1, layer)
	assert.Equal(t, 0, offset)
}

func TestDocument_MovesCarryAnalyzerState(t *testing.T) {
	d := NewDocument(sampleLines())
	l := d.LineAt(8)
	require.True(t, l.IsMove)
	assert.Equal(t, 20.0, l.CurrentX)
	assert.Equal(t, 20.0, l.CurrentY)
	assert.Equal(t, 0.4, l.CurrentZ)
}

func TestDocument_SmallZChangeStaysInLayer(t *testing.T) {
	d := NewDocument([]string{"G1 Z0.2", "G1 X1 E1", "G1 Z0.205", "G1 X2 E2"})
	checkIndexes(t, d)
	assert.Equal(t, 1, d.NumLayers())
}

func TestDocument_BlankLinesDropped(t *testing.T) {
	d := NewDocument([]string{"", "G1 X1", "   ", "G1 X2"})
	assert.Equal(t, 2, d.Len())
}

func TestDocument_Empty(t *testing.T) {
	d := NewDocument(nil)
	checkIndexes(t, d)
	assert.Equal(t, 0, d.NumLayers())
	assert.Equal(t, time.Duration(0), d.Duration)
	assert.False(t, d.HasIndex(0))
	assert.Nil(t, d.LineAt(0))
}

func TestDocument_BoundingBox(t *testing.T) {
	d := NewDocument(sampleLines())
	// the final travel to 50,50 is ignored once extrusion happened
	assert.Equal(t, 0.0, d.XMin)
	assert.Equal(t, 20.0, d.XMax)
	assert.Equal(t, 0.0, d.YMin)
	assert.Equal(t, 20.0, d.YMax)
	assert.Equal(t, 0.2, d.ZMin)
	assert.Equal(t, 0.6, d.ZMax)
	assert.InDelta(t, 0.4, d.Height, 1e-9)
	assert.Equal(t, 5.0, d.FilamentLength)
}

func TestDocument_TravelOnlyBoundingBox(t *testing.T) {
	d := NewDocument([]string{"G1 X5 Y6", "G1 X-1 Y2"})
	assert.Equal(t, -1.0, d.XMin)
	assert.Equal(t, 5.0, d.XMax)
	assert.Equal(t, 2.0, d.YMin)
	assert.Equal(t, 6.0, d.YMax)
	assert.Equal(t, 6.0, d.Width)
}

func TestDocument_Duration(t *testing.T) {
	// 100 mm/s from rest: 5 mm to accelerate, 5 mm cruise
	d := NewDocument([]string{"G1 X10 F6000"})
	assert.InDelta(t, 0.15, d.AllLayers[0].Duration, 1e-9)

	// same feedrate and direction: pure cruise
	d = NewDocument([]string{"G1 X10 F6000", "G1 X20"})
	assert.InDelta(t, 0.25, d.AllLayers[0].Duration, 1e-9)

	// reversal drops the previous feedrate, the return leg starts from
	// rest again with no deceleration charged: 0.15 + 0.15
	d = NewDocument([]string{"G1 X10 F6000", "G1 X0"})
	assert.InDelta(t, 0.30, d.AllLayers[0].Duration, 1e-9)
}

func TestDocument_DurationShortMove(t *testing.T) {
	// 2 mm cannot reach 100 mm/s: 2*d/(f0+f1)
	d := NewDocument([]string{"G1 X2 F6000"})
	assert.InDelta(t, 0.04, d.AllLayers[0].Duration, 1e-9)
}

func TestDocument_DurationDwellAndZ(t *testing.T) {
	d := NewDocument([]string{"G4 P1500"})
	assert.InDelta(t, 1.5, d.AllLayers[0].Duration, 1e-9)
	assert.Equal(t, 1500*time.Millisecond, d.Duration)

	// Z-only move uses the Z displacement
	d = NewDocument([]string{"G1 Z10 F6000"})
	assert.InDelta(t, 0.15, d.Duration.Seconds(), 1e-6)
}

func TestDocument_Append(t *testing.T) {
	d := NewDocument(sampleLines())
	n := d.Len()
	layers := d.NumLayers()

	l := d.Append("G1 X1 Y1")
	d.Append("M105")
	assert.Equal(t, n+2, d.Len())
	assert.Equal(t, layers+1, d.NumLayers())
	assert.Equal(t, 1.0, l.CurrentX)
	checkIndexes(t, d)
}

func TestDocument_EstimateRemaining(t *testing.T) {
	d := NewDocument([]string{"G1 X10 F6000", "G1 Z1", "G1 X20"})
	assert.Equal(t, d.Duration, d.EstimateRemaining(0))
	assert.Equal(t, time.Duration(0), d.EstimateRemaining(d.Len()))
	assert.Less(t, d.EstimateRemaining(2), d.Duration)
}

func TestLoad(t *testing.T) {
	d, err := Load(strings.NewReader("G28\r\nG1 X1\r\n\r\nG1 X2\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, "G1 X1", d.LineAt(1).Raw)
}

func TestLoadFileWithHome(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part.gcode")
	require.NoError(t, os.WriteFile(path, []byte("G28\nG91\nG1 X1 Y1\n"), 0o644))

	d, err := LoadFileWithHome(path, 5, 10, 0)
	require.NoError(t, err)
	l := d.LineAt(2)
	require.True(t, l.IsMove)
	assert.Equal(t, 6.0, l.CurrentX)
	assert.Equal(t, 11.0, l.CurrentY)

	_, err = LoadFileWithHome(filepath.Join(t.TempDir(), "missing.gcode"), 0, 0, 0)
	assert.Error(t, err)
}

// ============================================================
// Formatting Tests
// ============================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{61 * time.Second, "1m01s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h02m03s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d))
	}
}

func TestSummary(t *testing.T) {
	s := NewDocument(sampleLines()).Summary()
	assert.Contains(t, s, "Number of layers: 4")
	assert.Contains(t, s, "Filament used: 5.00mm")
}
