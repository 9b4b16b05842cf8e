// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printcore

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Thermoquad/gcodehost/pkg/transport"
)

const (
	// DefaultPriQueueSize is the capacity of the priority queue
	DefaultPriQueueSize = 4096

	// recvLogSize is how many received lines are kept
	recvLogSize = 10000

	// handshakeEmptyReads aborts one handshake pass
	handshakeEmptyReads = 15

	// maxWriteFailures aborts the handshake
	maxWriteFailures = 4

	idlePoll  = 100 * time.Millisecond
	clearPoll = time.Millisecond
)

// Config holds the controller options
type Config struct {
	// Port is a device path, a glob, "host:port" or a ws:// URL
	Port string
	Baud int

	// DTR holds DTR high on open so the board is not reset
	DTR bool

	// TCPStreaming stops waiting for acks on transports with their own
	// flow control
	TCPStreaming bool

	// Feedrates for the moves re-issued on resume, in mm/min. Zero omits F.
	XYFeedrate float64
	ZFeedrate  float64

	ReadTimeout  time.Duration
	PriQueueSize int

	// Loud logs every line sent and received at info level
	Loud bool

	// WebSocket bridge credentials
	Username           string
	Password           string
	InsecureSkipVerify bool

	// Logger defaults to the global zerolog logger
	Logger *zerolog.Logger

	// Dial opens the transport, transport.Open when nil
	Dial DialFunc
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = transport.DefaultReadTimeout
	}
	if c.PriQueueSize <= 0 {
		c.PriQueueSize = DefaultPriQueueSize
	}
	if c.Logger == nil {
		c.Logger = &log.Logger
	}
	return c
}

func (c Config) transportOptions() transport.Options {
	return transport.Options{
		Target:             c.Port,
		Baud:               c.Baud,
		DTR:                c.DTR,
		Timeout:            c.ReadTimeout,
		Username:           c.Username,
		Password:           c.Password,
		InsecureSkipVerify: c.InsecureSkipVerify,
		Logger:             *c.Logger,
	}
}
