// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printcore

import "sync"

// recvLog keeps the most recent received lines
type recvLog struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newRecvLog(size int) *recvLog {
	return &recvLog{lines: make([]string, size)}
}

func (r *recvLog) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = line
	r.next++
	if r.next == len(r.lines) {
		r.next = 0
		r.full = true
	}
}

// all returns the kept lines, oldest first
func (r *recvLog) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.next]...)
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}
