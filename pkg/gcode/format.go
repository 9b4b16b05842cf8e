// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gcode

import (
	"fmt"
	"strings"
	"time"
)

// FormatDuration formats d as "1h02m03s", dropping leading zero units
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}

	total := int64(d.Round(time.Second) / time.Second)
	hours := total / 3600
	minutes := (total / 60) % 60
	secs := total % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%02dm%02ds", hours, minutes, secs)
	case minutes > 0:
		return fmt.Sprintf("%dm%02ds", minutes, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// Summary returns a human-readable multi-line description of the document
func (d *Document) Summary() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Dimensions:\n")
	fmt.Fprintf(&b, "  X: %0.02f - %0.02f (%0.02f)\n", d.XMin, d.XMax, d.Width)
	fmt.Fprintf(&b, "  Y: %0.02f - %0.02f (%0.02f)\n", d.YMin, d.YMax, d.Depth)
	fmt.Fprintf(&b, "  Z: %0.02f - %0.02f (%0.02f)\n", d.ZMin, d.ZMax, d.Height)
	fmt.Fprintf(&b, "Filament used: %0.02fmm\n", d.FilamentLength)
	for i, e := range d.FilamentLengthMulti {
		if len(d.FilamentLengthMulti) > 1 {
			fmt.Fprintf(&b, "  Extruder %d: %0.02fmm\n", i, e)
		}
	}
	fmt.Fprintf(&b, "Number of layers: %d\n", len(d.AllLayers))
	fmt.Fprintf(&b, "Estimated duration: %s\n", FormatDuration(d.Duration))
	return b.String()
}
