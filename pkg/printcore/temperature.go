// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printcore

import (
	"regexp"
	"strconv"
)

// Reading is one heater from a temperature report
type Reading struct {
	Current float64
	Target  float64
	// HasTarget is false when the report carried no "/target" part
	HasTarget bool
}

var tempRe = regexp.MustCompile(`([TBC]\d*):\s*([-+]?\d+(?:\.\d+)?)(?:\s*/\s*([-+]?\d+(?:\.\d+)?))?`)

// ParseTemperatures extracts heater readings from a report such as
// "ok T:210.0 /210.0 B:60.0 /60.0 T0:210.0 /210.0 @:0".
// The map is keyed by heater name (T, T0, B, C).
func ParseTemperatures(line string) map[string]Reading {
	out := make(map[string]Reading)
	for _, m := range tempRe.FindAllStringSubmatch(line, -1) {
		cur, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		r := Reading{Current: cur}
		if m[3] != "" {
			if target, err := strconv.ParseFloat(m[3], 64); err == nil {
				r.Target = target
				r.HasTarget = true
			}
		}
		if _, seen := out[m[1]]; !seen {
			out[m[1]] = r
		}
	}
	return out
}
