// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/gcodehost/pkg/gcode"
	"github.com/Thermoquad/gcodehost/pkg/printcore"
)

var consoleTempInterval time.Duration

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive printer console",
	Long: `Open a full-screen console to the printer.

Type G-code and press Enter to send it. While a job runs, typed commands
jump the queue ahead of the file. Lines starting with / control the job:

  /print FILE   start streaming FILE
  /pause        pause the job and remember the head position
  /resume       move back and continue
  /cancel       cancel a paused or running job
  /recover      restart a job cut short by a disconnect
  /reset        pulse DTR to reboot the board (serial only)
  /stats        log the link statistics
  /quit         leave the console

Keys: Enter send, PgUp/PgDn scroll, Ctrl+C quit.`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().DurationVar(&consoleTempInterval, "temp-interval", 5*time.Second, "Temperature poll interval (0 disables)")
}

// consoleObserver forwards controller events into the TUI program
type consoleObserver struct {
	p atomic.Pointer[tea.Program]
}

func (o *consoleObserver) send(msg tea.Msg) {
	if p := o.p.Load(); p != nil {
		p.Send(msg)
	}
}

func (o *consoleObserver) OnRecv(line string) {
	o.send(consoleRecvMsg{line: strings.TrimRight(line, "\r\n")})
}

func (o *consoleObserver) OnSend(command string, _ *gcode.Line) {
	o.send(consoleSendMsg{command: command})
}

func (o *consoleObserver) OnTemp(line string) {
	o.send(consoleTempMsg{temps: printcore.ParseTemperatures(line)})
}

func (o *consoleObserver) OnError(msg string) {
	o.send(consoleEventMsg{message: msg, isError: true})
}

func (o *consoleObserver) OnOnline() {
	o.send(consoleEventMsg{message: "Printer is online"})
}

func (o *consoleObserver) OnDisconnect() {
	o.send(consoleEventMsg{message: "Disconnected", isError: true})
}

func (o *consoleObserver) OnStart(resuming bool) {
	if resuming {
		o.send(consoleEventMsg{message: "Job resumed"})
		return
	}
	o.send(consoleEventMsg{message: "Job started"})
}

func (o *consoleObserver) OnEnd() {
	o.send(consoleEventMsg{message: "Sender stopped"})
}

func (o *consoleObserver) OnLayerChange(layer int) {
	o.send(consoleLayerMsg{layer: layer})
}

func (o *consoleObserver) OnHostCommand(command string) {
	o.send(consoleEventMsg{message: "Host command " + command})
}

func runConsole(cmd *cobra.Command, args []string) error {
	obs := &consoleObserver{}
	c, err := OpenController(cmd.Context(), obs)
	if err != nil {
		return err
	}
	defer c.Disconnect()

	m := initialConsoleModel(c, connectionInfo(), consoleTempInterval)
	p := tea.NewProgram(m, tea.WithAltScreen())
	obs.p.Store(p)

	_, err = p.Run()
	obs.p.Store(nil)
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
