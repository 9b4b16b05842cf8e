// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printcore

import (
	"fmt"
	"sync"
	"time"
)

// Statistics tracks link traffic and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	LinesSent     uint64
	LinesReceived uint64
	Acks          uint64
	TempReports   uint64
	Resends       uint64
	Errors        uint64
	DecodeErrors  uint64
	WriteFailures uint64

	// Rates (calculated)
	LineRate  float64 // lines/sec, both directions
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// CalculateRates calculates line and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.LineRate = float64(s.LinesSent+s.LinesReceived) / elapsed
		errorCount := s.Errors + s.DecodeErrors + s.WriteFailures
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var resendPercent float64
	if s.LinesSent > 0 {
		resendPercent = float64(s.Resends) * 100.0 / float64(s.LinesSent)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Lines Sent:      %8d\n", s.LinesSent)
	result += fmt.Sprintf("Lines Received:  %8d\n", s.LinesReceived)
	result += fmt.Sprintf("Acks:            %8d\n", s.Acks)
	if s.TempReports > 0 {
		result += fmt.Sprintf("  Temp Reports:     %5d\n", s.TempReports)
	}
	if s.Resends > 0 {
		result += fmt.Sprintf("Resends:         %8d (%.1f%%)\n", s.Resends, resendPercent)
	}
	if s.Errors > 0 {
		result += fmt.Sprintf("Printer Errors:  %8d\n", s.Errors)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}
	if s.WriteFailures > 0 {
		result += fmt.Sprintf("Write Failures:  %8d\n", s.WriteFailures)
	}

	result += fmt.Sprintf("Line Rate:       %8.1f lines/sec\n", s.LineRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}

// counters guards a Statistics shared by the reader and sender
type counters struct {
	mu sync.Mutex
	s  Statistics
}

func newCounters() *counters {
	return &counters{s: *NewStatistics()}
}

func (c *counters) update(fn func(s *Statistics)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.s)
	c.s.LastUpdateTime = time.Now()
}

func (c *counters) snapshot() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.s
	s.CalculateRates()
	return s
}

func (c *counters) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Reset()
}
