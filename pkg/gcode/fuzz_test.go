// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Parser Fuzzing
// ============================================================

var fuzzSeeds = []string{
	"",
	"G1 X10 Y20 Z1 F1500",
	"g0 x-1.5 y2.25",
	"G28 X",
	"G92 E0",
	"N12 G1 X5*34",
	"M104 S200 ; heat",
	"(setup) G90",
	"T1",
	";@pause",
	"G1 X.5 Y1. E-",
	"G4 P1500",
	"Random Command",
	"\xff\xfeG1",
	"G1 X99999999999999999999999999999999999999",
}

func FuzzParse(f *testing.F) {
	for _, s := range fuzzSeeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		l := Parse(raw)
		require.NotNil(t, l)
		assert.Equal(t, raw, l.Raw)

		// parsing the kept text again gives the same line
		assert.Equal(t, l, Parse(l.Raw))

		if l.IsMove {
			assert.True(t, strings.HasPrefix(l.Command, "G"), "move %q", l.Command)
		}
		for _, axis := range []struct {
			letter byte
			value  *float64
		}{{'x', l.X}, {'y', l.Y}, {'z', l.Z}, {'e', l.E}} {
			if axis.value != nil {
				assert.True(t, l.Mentions(axis.letter), "axis %c", axis.letter)
			}
		}

		assert.NotPanics(t, func() { NewDocument([]string{raw}) })
	})
}
