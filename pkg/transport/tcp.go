// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const tcpDialTimeout = 5 * time.Second

// TCPText is a transport over a plain TCP text stream (host:port). The
// remote end is expected to handle flow control itself.
type TCPText struct {
	addr    string
	timeout time.Duration
	log     zerolog.Logger

	conn      net.Conn
	connected atomic.Bool
	closeOnce sync.Once

	readMu sync.Mutex
	lines  lineBuffer
	chunk  []byte

	writeMu sync.Mutex
	w       *bufio.Writer
}

// NewTCPText builds a TCP transport for addr
func NewTCPText(addr string, opts Options) *TCPText {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultReadTimeout
	}
	return &TCPText{
		addr:    addr,
		timeout: opts.Timeout,
		log:     opts.Logger.With().Str("transport", "tcp").Logger(),
		chunk:   make([]byte, 1024),
	}
}

// Open dials the remote end
func (t *TCPText) Open(ctx context.Context) error {
	d := net.Dialer{Timeout: tcpDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("%w: could not connect to %s: %v", ErrTransport, t.addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			t.log.Debug().Err(err).Msg("could not set TCP_NODELAY")
		}
	}

	t.conn = conn
	t.w = bufio.NewWriter(conn)
	t.connected.Store(true)
	t.log.Debug().Str("addr", t.addr).Msg("tcp connected")
	return nil
}

// Close closes the connection, unblocking a pending ReadLine
func (t *TCPText) Close() error {
	if t.conn == nil {
		return nil
	}
	t.connected.Store(false)

	var err error
	t.closeOnce.Do(func() { err = t.conn.Close() })
	if err != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrTransport, t.addr, err)
	}
	return nil
}

// ReadLine reads the next line from the socket
func (t *TCPText) ReadLine() ([]byte, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for {
		if line, ok := t.lines.Next(); ok {
			return line, nil
		}
		if !t.connected.Load() {
			return nil, io.EOF
		}

		if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
			return nil, t.readError(err)
		}
		n, err := t.conn.Read(t.chunk)
		t.lines.Write(t.chunk[:n])

		switch {
		case err == nil:
			continue
		case errors.Is(err, os.ErrDeadlineExceeded):
			if line, ok := t.lines.Next(); ok {
				return line, nil
			}
			return nil, nil
		case errors.Is(err, io.EOF):
			// peer closed
			t.connected.Store(false)
			if line, ok := t.lines.Next(); ok {
				return line, nil
			}
			if rest := t.lines.Drain(); rest != nil {
				return rest, nil
			}
			return nil, io.EOF
		default:
			return nil, t.readError(err)
		}
	}
}

func (t *TCPText) readError(err error) error {
	if !t.connected.Load() {
		return io.EOF
	}
	return fmt.Errorf("%w: reading %s: %v", ErrTransport, t.addr, err)
}

// Write sends p and flushes
func (t *TCPText) Write(p []byte) error {
	if !t.connected.Load() {
		return fmt.Errorf("%w: %s is not connected", ErrTransport, t.addr)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.w.Write(p); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrTransport, t.addr, err)
	}
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrTransport, t.addr, err)
	}
	return nil
}

// Reset has no effect on a TCP link
func (t *TCPText) Reset() error { return nil }

func (t *TCPText) HasFlowControl() bool { return true }

func (t *TCPText) IsConnected() bool { return t.connected.Load() }

func (t *TCPText) String() string { return t.addr }
