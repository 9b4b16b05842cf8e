// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// dtrResetPulse is how long DTR is held during Reset
const dtrResetPulse = 200 * time.Millisecond

// Serial is a transport over a local serial device
type Serial struct {
	pattern string
	baud    int
	dtr     bool
	timeout time.Duration
	log     zerolog.Logger

	name      string
	port      serial.Port
	connected atomic.Bool

	readMu sync.Mutex
	lines  lineBuffer
	chunk  []byte

	writeMu sync.Mutex
}

// NewSerial builds a serial transport. path may be a glob such as
// "/dev/ttyUSB*"; the first matching port is used on Open.
func NewSerial(path string, baud int, opts Options) *Serial {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultReadTimeout
	}
	return &Serial{
		pattern: path,
		baud:    baud,
		dtr:     opts.DTR,
		timeout: opts.Timeout,
		log:     opts.Logger.With().Str("transport", "serial").Logger(),
		chunk:   make([]byte, 256),
	}
}

// Open opens the serial port
func (s *Serial) Open(ctx context.Context) error {
	name, err := resolvePort(s.pattern)
	if err != nil {
		return err
	}
	s.name = name

	if err := disableHangup(name); err != nil {
		s.log.Debug().Err(err).Str("port", name).Msg("could not clear HUPCL")
	}

	mode := &serial.Mode{
		BaudRate: s.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if s.dtr {
		mode.InitialStatusBits = &serial.ModemOutputBits{DTR: true}
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return fmt.Errorf("%w: failed to open serial port %s: %v", ErrTransport, name, err)
	}
	if err := port.SetReadTimeout(s.timeout); err != nil {
		port.Close()
		return fmt.Errorf("%w: setting read timeout on %s: %v", ErrTransport, name, err)
	}

	s.port = port
	s.connected.Store(true)
	s.log.Debug().Str("port", name).Int("baud", s.baud).Msg("serial port open")
	return nil
}

// Close closes the port, unblocking a pending ReadLine
func (s *Serial) Close() error {
	if !s.connected.Swap(false) {
		return nil
	}
	if err := s.port.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrTransport, s.name, err)
	}
	return nil
}

// ReadLine reads the next line from the port
func (s *Serial) ReadLine() ([]byte, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for {
		if line, ok := s.lines.Next(); ok {
			return line, nil
		}
		if !s.connected.Load() {
			return nil, io.EOF
		}

		n, err := s.port.Read(s.chunk)
		if err != nil {
			if !s.connected.Load() {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: reading %s: %v", ErrTransport, s.name, err)
		}
		if n == 0 {
			// read timeout
			return nil, nil
		}
		s.lines.Write(s.chunk[:n])
	}
}

// Write writes p to the port
func (s *Serial) Write(p []byte) error {
	if !s.connected.Load() {
		return fmt.Errorf("%w: %s is not open", ErrTransport, s.pattern)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for len(p) > 0 {
		n, err := s.port.Write(p)
		if err != nil {
			return fmt.Errorf("%w: writing %s: %v", ErrTransport, s.name, err)
		}
		p = p[n:]
	}
	return nil
}

// Reset pulses DTR to reboot the board
func (s *Serial) Reset() error {
	if !s.connected.Load() {
		return fmt.Errorf("%w: %s is not open", ErrTransport, s.pattern)
	}
	if err := s.port.SetDTR(true); err != nil {
		return fmt.Errorf("%w: setting DTR: %v", ErrTransport, err)
	}
	time.Sleep(dtrResetPulse)
	if err := s.port.SetDTR(false); err != nil {
		return fmt.Errorf("%w: clearing DTR: %v", ErrTransport, err)
	}
	return nil
}

func (s *Serial) HasFlowControl() bool { return false }

func (s *Serial) IsConnected() bool { return s.connected.Load() }

func (s *Serial) String() string {
	if s.name != "" {
		return s.name
	}
	return s.pattern
}

// resolvePort expands a glob pattern against the ports known to the system
func resolvePort(pattern string) (string, error) {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern, nil
	}

	ports, err := serial.GetPortsList()
	if err != nil {
		return "", fmt.Errorf("%w: listing serial ports: %v", ErrTransport, err)
	}
	sort.Strings(ports)
	for _, p := range ports {
		if ok, _ := filepath.Match(pattern, p); ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: no serial port matches %q", ErrTransport, pattern)
}
