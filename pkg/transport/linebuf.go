// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import "bytes"

// maxLineLength caps an unterminated line; longer runs are returned as is
const maxLineLength = 4096

// lineBuffer accumulates raw reads and hands out complete lines
type lineBuffer struct {
	buf []byte
}

func (b *lineBuffer) Write(p []byte) {
	b.buf = append(b.buf, p...)
}

// Next returns the next complete line, terminator included
func (b *lineBuffer) Next() ([]byte, bool) {
	i := bytes.IndexByte(b.buf, '\n')
	if i < 0 {
		if len(b.buf) >= maxLineLength {
			return b.take(len(b.buf)), true
		}
		return nil, false
	}
	return b.take(i + 1), true
}

// Drain returns whatever partial line is buffered
func (b *lineBuffer) Drain() []byte {
	if len(b.buf) == 0 {
		return nil
	}
	return b.take(len(b.buf))
}

func (b *lineBuffer) take(n int) []byte {
	line := make([]byte, n)
	copy(line, b.buf[:n])
	rest := copy(b.buf, b.buf[n:])
	b.buf = b.buf[:rest]
	return line
}
