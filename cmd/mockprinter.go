// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/gcodehost/pkg/mockprinter"
)

var (
	mockListen  string
	mockCorrupt []int
)

var mockPrinterCmd = &cobra.Command{
	Use:   "mock-printer",
	Short: "Run a simulated Marlin printer on a TCP port",
	Long: `Listen on a TCP address and answer like Marlin firmware: every line is
acked, numbered lines are checked for sequence and checksum, and M105
returns a temperature report.

Point another gcodehost at it to try a print without hardware:
  gcodehost mock-printer --listen 127.0.0.1:2323
  gcodehost print -p 127.0.0.1:2323 part.gcode

--corrupt makes the given line numbers fail their checksum once so the
resend path can be exercised.`,
	Args: cobra.NoArgs,
	RunE: runMockPrinter,
}

func init() {
	rootCmd.AddCommand(mockPrinterCmd)
	mockPrinterCmd.Flags().StringVar(&mockListen, "listen", "127.0.0.1:2323", "TCP address to listen on")
	mockPrinterCmd.Flags().IntSliceVar(&mockCorrupt, "corrupt", nil, "Line numbers to reject once")
}

func runMockPrinter(cmd *cobra.Command, args []string) error {
	ln, err := net.Listen("tcp", mockListen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", mockListen, err)
	}

	p := mockprinter.New(log.Logger.With().Str("component", "mockprinter").Logger())
	for _, n := range mockCorrupt {
		p.CorruptLine(n)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	log.Info().Str("addr", ln.Addr().String()).Msg("mock printer listening")
	return p.Serve(ctx, ln)
}
