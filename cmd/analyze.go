// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/gcodehost/pkg/gcode"
)

var (
	analyzeLayers bool
	analyzeHome   []float64
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE",
	Short: "Summarize a G-code file without a printer",
	Long: `Load a G-code file, split it into layers and report its bounding box,
filament use and estimated print time.

The estimate uses the same acceleration model as the live print ETA, so it
is a coarse approximation of what the firmware will actually do.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&analyzeLayers, "layers", false, "List every layer")
	analyzeCmd.Flags().Float64SliceVar(&analyzeHome, "home", nil, "Home position X,Y,Z used for G28")
}

func loadDocument(path string, home []float64) (*gcode.Document, error) {
	if len(home) == 0 {
		return gcode.LoadFile(path)
	}
	if len(home) != 3 {
		return nil, fmt.Errorf("--home wants X,Y,Z, got %d values", len(home))
	}
	return gcode.LoadFileWithHome(path, home[0], home[1], home[2])
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	start := time.Now()
	doc, err := loadDocument(args[0], analyzeHome)
	if err != nil {
		return err
	}

	pterm.DefaultSection.Println(args[0])
	pterm.Info.Printfln("Loaded %d lines in %s", doc.Len(), time.Since(start).Round(time.Millisecond))

	data := pterm.TableData{
		{"Axis", "Min", "Max", "Size"},
		{"X", mm(doc.XMin), mm(doc.XMax), mm(doc.Width)},
		{"Y", mm(doc.YMin), mm(doc.YMax), mm(doc.Depth)},
		{"Z", mm(doc.ZMin), mm(doc.ZMax), mm(doc.Height)},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render(); err != nil {
		return fmt.Errorf("render dimensions: %w", err)
	}

	totals := pterm.TableData{
		{"Filament used", mm(doc.FilamentLength)},
	}
	if len(doc.FilamentLengthMulti) > 1 {
		for i, e := range doc.FilamentLengthMulti {
			totals = append(totals, []string{fmt.Sprintf("  Extruder %d", i), mm(e)})
		}
	}
	totals = append(totals,
		[]string{"Layers", strconv.Itoa(doc.NumLayers())},
		[]string{"Printed layers", strconv.Itoa(doc.PrintedLayers())},
		[]string{"Estimated duration", gcode.FormatDuration(doc.Duration)},
	)
	if err := pterm.DefaultTable.WithData(totals).Render(); err != nil {
		return fmt.Errorf("render totals: %w", err)
	}

	if analyzeLayers {
		return renderLayers(doc)
	}
	return nil
}

func renderLayers(doc *gcode.Document) error {
	data := pterm.TableData{{"Layer", "Z", "Lines", "Printed", "Duration"}}
	for i, l := range doc.AllLayers {
		z := "-"
		if l.HasZ {
			z = mm(l.Z)
		}
		data = append(data, []string{
			strconv.Itoa(i),
			z,
			strconv.Itoa(l.Len()),
			strconv.FormatBool(l.Printed()),
			gcode.FormatDuration(time.Duration(l.Duration * float64(time.Second))),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func mm(v float64) string {
	return fmt.Sprintf("%.2f mm", v)
}
