// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/gcodehost/pkg/gcode"
	"github.com/Thermoquad/gcodehost/pkg/printcore"
)

// errJobPaused stops the wait when the file pauses itself with ;@pause
var errJobPaused = errors.New("print paused by the file")

var (
	printStateFile string
	printRecover   bool
	printHome      []float64
)

var printCmd = &cobra.Command{
	Use:   "print FILE",
	Short: "Stream a G-code file to the printer",
	Long: `Connect to the printer, stream FILE line by line and wait for it to finish.

Ctrl+C pauses the job, saves where it stopped to the state file and
disconnects. If the link drops mid-print the state is saved as well.
Run the same command again with --recover to continue from the saved
layer: Z is set to the saved height with G92 and X/Y are homed first, so
the printer must still hold its Z position.`,
	Args: cobra.ExactArgs(1),
	RunE: runPrint,
}

func init() {
	rootCmd.AddCommand(printCmd)
	printCmd.Flags().StringVar(&printStateFile, "state", "", "Recover state file (default FILE.state)")
	printCmd.Flags().BoolVar(&printRecover, "recover", false, "Continue from the recover state file")
	printCmd.Flags().Float64SliceVar(&printHome, "home", nil, "Home position X,Y,Z used for G28 in the estimate")
}

// printObserver reports job events on the terminal
type printObserver struct {
	bar *pterm.ProgressbarPrinter
}

func (o *printObserver) OnPrintSend(*gcode.Line) {
	if o.bar != nil {
		o.bar.Increment()
	}
}

func (o *printObserver) OnLayerChange(layer int) {
	log.Debug().Int("layer", layer).Msg("layer change")
}

func (o *printObserver) OnError(msg string) {
	pterm.Error.Println(msg)
}

func (o *printObserver) OnHostCommand(command string) {
	pterm.Info.Printfln("host command %s", command)
}

func runPrint(cmd *cobra.Command, args []string) error {
	path := args[0]
	stateFile := printStateFile
	if stateFile == "" {
		stateFile = path + ".state"
	}

	doc, err := loadDocument(path, printHome)
	if err != nil {
		return err
	}
	if doc.Len() == 0 {
		return fmt.Errorf("%s has no G-code lines", path)
	}

	var saved printcore.RecoverState
	if printRecover {
		saved, err = printcore.ReadRecoverState(stateFile)
		if err != nil {
			return err
		}
		if saved.Total != doc.Len() {
			return fmt.Errorf("%s has %d lines, the saved job had %d", path, doc.Len(), saved.Total)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs := &printObserver{}
	c, err := OpenController(ctx, obs)
	if err != nil {
		return err
	}
	defer c.Disconnect()

	pterm.Info.Printfln("Connected (%s)", connectionInfo())
	pterm.Info.Printfln("%s: %d lines, %d layers, estimated %s",
		filepath.Base(path), doc.Len(), doc.NumLayers(), gcode.FormatDuration(doc.Duration))

	first := 0
	if printRecover {
		first = saved.Cursor
	}
	obs.bar, err = pterm.DefaultProgressbar.
		WithTotal(doc.Len()).
		WithCurrent(first).
		WithTitle(filepath.Base(path)).
		Start()
	if err != nil {
		return fmt.Errorf("progress bar: %w", err)
	}

	var started bool
	if printRecover {
		pterm.Info.Printfln("Recovering %s", saved)
		started = c.RecoverFrom(doc, saved)
	} else {
		started = c.StartPrint(doc, 0)
	}
	if !started {
		obs.bar.Stop()
		return errors.New("printer refused the job")
	}

	err = waitJob(ctx, c)
	obs.bar.Stop()

	switch {
	case err == nil:
		pterm.Success.Printfln("Print finished")
		_ = os.Remove(stateFile)
	case errors.Is(err, context.Canceled), errors.Is(err, errJobPaused):
		if c.Printing() {
			c.Pause()
		}
		err = saveState(c, path, stateFile)
		if err == nil {
			pterm.Warning.Printfln("Paused. Continue with: gcodehost print %s --recover", path)
		}
	default:
		if serr := saveState(c, path, stateFile); serr != nil {
			log.Error().Err(serr).Msg("could not save recover state")
		}
	}

	stats := c.Stats()
	fmt.Print(stats.String())
	return err
}

// waitJob returns when the job finishes or pauses, ctx is done, or the
// link drops
func waitJob(ctx context.Context, c *printcore.Controller) error {
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}

		if !c.Online() {
			return errors.New("printer went offline mid-print")
		}
		switch c.JobState() {
		case printcore.JobPaused:
			return errJobPaused
		case printcore.JobIdle:
			if c.Interrupted() {
				return errors.New("print interrupted")
			}
			return nil
		}
	}
}

func saveState(c *printcore.Controller, path, stateFile string) error {
	s, ok := c.RecoverState()
	if !ok {
		return nil
	}
	s.File = path
	if err := s.WriteFile(stateFile); err != nil {
		return err
	}
	pterm.Info.Printfln("Saved %s to %s", s, stateFile)
	return nil
}
