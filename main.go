// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// gcodehost - G-code host for Marlin-compatible 3D printers
//
// Streams G-code files to a printer over serial, TCP or WebSocket with
// line numbering, checksums and resend handling.

package main

import (
	"os"

	"github.com/Thermoquad/gcodehost/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
