// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printcore

import (
	"strconv"
	"strings"
)

// Line-number reset sent at the start and end of every print
const lineNumberReset = "M110 N-1"

// greetings are the prefixes a board prints after reset
var greetings = []string{"start", "Grbl "}

// Checksum computes the XOR of all bytes in s
func Checksum(s string) byte {
	var c byte
	for i := 0; i < len(s); i++ {
		c ^= s[i]
	}
	return c
}

// Frame wraps cmd as "N<lineno> <cmd>*<checksum>"
func Frame(lineno int, cmd string) string {
	prefix := "N" + strconv.Itoa(lineno) + " " + cmd
	return prefix + "*" + strconv.Itoa(int(Checksum(prefix)))
}

func isGreeting(line string) bool {
	for _, g := range greetings {
		if strings.HasPrefix(line, g) {
			return true
		}
	}
	return false
}

func isAck(line string) bool {
	return isGreeting(line) || strings.HasPrefix(line, "ok")
}

func isTempAck(line string) bool {
	return strings.HasPrefix(line, "ok") && strings.Contains(line, "T:")
}

func isResend(line string) bool {
	return strings.HasPrefix(strings.ToLower(line), "resend") || strings.HasPrefix(line, "rs")
}

var resendReplacer = strings.NewReplacer("N:", " ", "N", " ", ":", " ")

// parseResend extracts the line number from "Resend: 12" or "rs N12"
func parseResend(line string) (int, bool) {
	for _, word := range strings.Fields(resendReplacer.Replace(line)) {
		if n, err := strconv.Atoi(word); err == nil {
			return n, true
		}
	}
	return 0, false
}
