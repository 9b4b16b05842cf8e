// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides line-oriented duplex channels to a printer:
// a serial port, a raw TCP text stream, or a WebSocket serial bridge.
package transport

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultReadTimeout bounds a single ReadLine call
const DefaultReadTimeout = 250 * time.Millisecond

// ErrTransport wraps open, read and write failures
var ErrTransport = errors.New("transport error")

// Transport is a duplex line channel to the device.
//
// ReadLine returns the next line including its terminator, (nil, nil) when
// no complete line arrived within the read timeout, and (nil, io.EOF) once
// the link is gone. Any other error wraps ErrTransport.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	ReadLine() ([]byte, error)
	Write(p []byte) error
	Reset() error
	HasFlowControl() bool
	IsConnected() bool
	String() string
}

// Kind identifies a transport variant
type Kind int

const (
	KindSerial Kind = iota
	KindTCP
	KindWebSocket
)

func (k Kind) String() string {
	switch k {
	case KindSerial:
		return "serial"
	case KindTCP:
		return "tcp"
	case KindWebSocket:
		return "websocket"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var hostPortRe = regexp.MustCompile(`^([a-zA-Z0-9_.\-]+|\[[0-9a-fA-F:]+\]):([0-9]+)$`)

// KindOf guesses the transport variant from a target string
func KindOf(target string) Kind {
	switch {
	case strings.HasPrefix(target, "ws://"), strings.HasPrefix(target, "wss://"):
		return KindWebSocket
	case hostPortRe.MatchString(target):
		return KindTCP
	default:
		return KindSerial
	}
}

// Options configures a transport built by New
type Options struct {
	Target  string
	Baud    int
	DTR     bool
	Timeout time.Duration

	// WebSocket only
	Username           string
	Password           string
	InsecureSkipVerify bool

	Logger zerolog.Logger
}

// New builds an unopened transport for opts.Target
func New(opts Options) Transport {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultReadTimeout
	}
	switch KindOf(opts.Target) {
	case KindWebSocket:
		return NewWebSocket(opts.Target, opts)
	case KindTCP:
		return NewTCPText(opts.Target, opts)
	default:
		return NewSerial(opts.Target, opts.Baud, opts)
	}
}

// Open builds and opens the transport for opts.Target
func Open(ctx context.Context, opts Options) (Transport, error) {
	t := New(opts)
	if err := t.Open(ctx); err != nil {
		return nil, err
	}
	return t, nil
}
