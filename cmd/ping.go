// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gcodehost/pkg/printcore"
)

var (
	pingTimeout time.Duration
	pingCount   int
	pingPeriod  time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Poll the printer with M105 and report round trips",
	Long: `Send M105 temperature requests and wait for each temperature report.

This is useful for verifying:
  - the port and baud rate are right
  - a TCP or WebSocket bridge forwards both ways
  - the printer answers promptly while idle

Exit codes:
  0 - All pings answered
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 5*time.Second, "Timeout for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
	pingCmd.Flags().DurationVar(&pingPeriod, "interval", 500*time.Millisecond, "Delay between pings")
}

// tempWaiter hands temperature reports to the ping loop
type tempWaiter struct {
	reports chan string
}

func (w *tempWaiter) OnTemp(line string) {
	select {
	case w.reports <- line:
	default:
	}
}

func runPing(cmd *cobra.Command, args []string) error {
	w := &tempWaiter{reports: make(chan string, 1)}
	c, err := OpenController(cmd.Context(), w)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer c.Disconnect()

	fmt.Printf("gcodehost - Ping\n")
	fmt.Printf("Connection: %s\n", connectionInfo())
	fmt.Printf("Timeout: %s per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		// drop a report left over from the previous round
		select {
		case <-w.reports:
		default:
		}

		startTime := time.Now()
		if !c.SendNow("M105") {
			fmt.Printf("SEND FAILED\n")
			failCount++
			continue
		}

		select {
		case line := <-w.reports:
			rtt := time.Since(startTime)
			fmt.Printf("%s, rtt=%v\n", formatTemps(printcore.ParseTemperatures(line)), rtt.Round(time.Millisecond))
			successCount++

		case <-time.After(pingTimeout):
			fmt.Printf("TIMEOUT (no report in %s)\n", pingTimeout)
			failCount++
		}

		if i < pingCount {
			time.Sleep(pingPeriod)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d reports received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		c.Disconnect()
		os.Exit(1)
	}
	return nil
}

// formatTemps renders readings as "B:60.0/60.0 T:210.0/215.0"
func formatTemps(temps map[string]printcore.Reading) string {
	if len(temps) == 0 {
		return "no readings"
	}
	keys := sortedTempKeys(temps)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		r := temps[k]
		if r.HasTarget {
			parts = append(parts, fmt.Sprintf("%s:%.1f/%.1f", k, r.Current, r.Target))
		} else {
			parts = append(parts, fmt.Sprintf("%s:%.1f", k, r.Current))
		}
	}
	return strings.Join(parts, " ")
}
