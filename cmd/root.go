// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rusq/osenv/v2"
	"github.com/spf13/cobra"
)

var (
	// Printer target flags
	portName string
	baudRate int
	dtr      bool

	// Network target flags
	tcpStreaming  bool
	wsUsername    string
	wsNoSSLVerify bool

	// Resume feedrates
	xyFeedrate float64
	zFeedrate  float64

	// Logging flags
	logLevel string
	logJSON  bool
	loud     bool
)

var rootCmd = &cobra.Command{
	Use:   "gcodehost",
	Short: "G-code host for Marlin-compatible printers",
	Long: `gcodehost - A CLI tool for streaming G-code to 3D printers.

Lines sent during a print carry a line number and checksum; the printer acks
each line before the next one goes out and may ask for lines to be resent.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]  (wildcards such as /dev/ttyACM* are allowed)
  TCP:       --port 192.168.1.20:23 [--tcp-streaming]
  WebSocket: --port ws://host/path [--username user]

For WebSocket authentication, the password is read from the GCODEHOST_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Defaults for --port, --baud and --log-level may be set with GCODEHOST_PORT,
GCODEHOST_BAUD and GCODEHOST_LOG_LEVEL.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	// Printer target flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", osenv.Value("GCODEHOST_PORT", ""), "Serial device, host:port or ws:// URL")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", osenv.Value("GCODEHOST_BAUD", 115200), "Baud rate (serial only)")
	rootCmd.PersistentFlags().BoolVar(&dtr, "dtr", false, "Assert DTR on open (serial only)")

	// Network target flags
	rootCmd.PersistentFlags().BoolVar(&tcpStreaming, "tcp-streaming", false, "Stream without waiting for acks (TCP only)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth (WebSocket only)")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Resume feedrates
	rootCmd.PersistentFlags().Float64Var(&xyFeedrate, "xy-feedrate", 0, "XY feedrate for the resume move, mm/min (0 keeps the printer's)")
	rootCmd.PersistentFlags().Float64Var(&zFeedrate, "z-feedrate", 0, "Z feedrate for the resume move, mm/min (0 keeps the printer's)")

	// Logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", osenv.Value("GCODEHOST_LOG_LEVEL", "info"), "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON instead of console text")
	rootCmd.PersistentFlags().BoolVar(&loud, "loud", false, "Log every line sent and received")
}

// setupLogging configures the global zerolog logger from the flags
func setupLogging(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	if logJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return nil
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
