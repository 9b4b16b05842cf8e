// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var portsUSBOnly bool

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports that may have a printer attached",
	Long: `Enumerate the serial ports of this machine with their USB details.

Most printer boards show up as USB CDC devices (/dev/ttyACM*) or behind a
USB-serial bridge (/dev/ttyUSB*). Use --usb-only to hide built-in UARTs.`,
	Args: cobra.NoArgs,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().BoolVar(&portsUSBOnly, "usb-only", false, "Only list USB devices")
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return fmt.Errorf("failed to list serial ports: %w", err)
	}

	data := pterm.TableData{{"Port", "USB", "VID:PID", "Serial", "Product"}}
	for _, p := range ports {
		if portsUSBOnly && !p.IsUSB {
			continue
		}
		usb, ids := "no", ""
		if p.IsUSB {
			usb = "yes"
			ids = p.VID + ":" + p.PID
		}
		data = append(data, []string{p.Name, usb, ids, p.SerialNumber, p.Product})
	}

	if len(data) == 1 {
		pterm.Warning.Println("No serial ports found")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
