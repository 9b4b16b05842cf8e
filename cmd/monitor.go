// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var monitorPoll time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display everything the printer prints",
	Long: `Connect to the printer and print each line it sends with a timestamp.

With --poll the printer is asked for temperatures at that interval, which
also keeps boards that stay silent until spoken to showing output.

Supports serial, TCP and WebSocket targets.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVar(&monitorPoll, "poll", 0, "Send M105 at this interval (0 disables)")
}

// lineEcho prints received lines
type lineEcho struct{}

func (lineEcho) OnRecv(line string) {
	fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), strings.TrimRight(line, "\r\n"))
}

func (lineEcho) OnError(msg string) {
	fmt.Printf("[ERROR] %s\n", msg)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	c, err := OpenController(ctx, lineEcho{})
	if err != nil {
		return err
	}
	defer c.Disconnect()

	fmt.Printf("gcodehost - Monitor\n")
	fmt.Printf("Connection: %s\n", connectionInfo())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var poll <-chan time.Time
	if monitorPoll > 0 {
		t := time.NewTicker(monitorPoll)
		defer t.Stop()
		poll = t.C
	}

	check := time.NewTicker(time.Second)
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-poll:
			c.SendNow("M105")
		case <-check.C:
			if !c.Online() {
				return fmt.Errorf("connection to %s closed", portName)
			}
		}
	}
}
