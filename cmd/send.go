// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var sendTimeout time.Duration

var sendCmd = &cobra.Command{
	Use:   "send CMD...",
	Short: "Send one-shot commands and print the replies",
	Long: `Connect to the printer, send each argument as one command and print every
line the printer answers until each command has been acked.

Example:
  gcodehost send -p /dev/ttyACM0 M115 "M104 S200" M105`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "How long to wait for the acks")
}

// replyCollector prints replies and counts acks
type replyCollector struct {
	acks chan struct{}
}

func (r *replyCollector) OnRecv(line string) {
	line = strings.TrimRight(line, "\r\n")
	fmt.Println(line)
	if strings.HasPrefix(line, "ok") {
		select {
		case r.acks <- struct{}{}:
		default:
		}
	}
}

func runSend(cmd *cobra.Command, args []string) error {
	r := &replyCollector{acks: make(chan struct{}, len(args)+1)}
	c, err := OpenController(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Disconnect()

	// the handshake ack was consumed before this handler existed
	c.AddEventHandler(r)
	for _, a := range args {
		if !c.SendNow(a) {
			return fmt.Errorf("could not queue %q", a)
		}
	}

	deadline := time.After(sendTimeout)
	for n := 0; n < len(args); n++ {
		select {
		case <-r.acks:
		case <-deadline:
			return fmt.Errorf("timed out after %d of %d acks", n, len(args))
		}
	}
	return nil
}
