// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const wsHandshakeTimeout = 10 * time.Second

// WebSocket is a transport to a serial-over-WebSocket bridge. The bridge
// forwards bytes verbatim, so the link behaves like a serial line.
type WebSocket struct {
	url      string
	username string
	password string
	insecure bool
	timeout  time.Duration
	log      zerolog.Logger

	conn      *websocket.Conn
	connected atomic.Bool
	messages  chan []byte
	done      chan struct{}
	closeOnce sync.Once

	readMu sync.Mutex
	lines  lineBuffer

	writeMu sync.Mutex
}

// NewWebSocket builds a WebSocket transport for a ws:// or wss:// URL
func NewWebSocket(rawURL string, opts Options) *WebSocket {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultReadTimeout
	}
	return &WebSocket{
		url:      rawURL,
		username: opts.Username,
		password: opts.Password,
		insecure: opts.InsecureSkipVerify,
		timeout:  opts.Timeout,
		log:      opts.Logger.With().Str("transport", "websocket").Logger(),
	}
}

// Open dials the bridge and starts the message pump
func (w *WebSocket) Open(ctx context.Context) error {
	u, err := url.Parse(w.url)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %v", ErrTransport, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("%w: unsupported URL scheme: %s (use ws:// or wss://)", ErrTransport, u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: w.insecure,
		}
	}

	headers := http.Header{}
	if w.username != "" && w.password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(w.username + ":" + w.password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, w.url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: WebSocket connection failed (HTTP %d): %v", ErrTransport, resp.StatusCode, err)
		}
		return fmt.Errorf("%w: WebSocket connection failed: %v", ErrTransport, err)
	}

	w.conn = conn
	w.messages = make(chan []byte, 64)
	w.done = make(chan struct{})
	w.connected.Store(true)
	go w.pump()
	return nil
}

// pump moves inbound messages onto the channel until the socket fails
func (w *WebSocket) pump() {
	defer close(w.messages)
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if w.connected.Load() {
				w.log.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		select {
		case w.messages <- data:
		case <-w.done:
			return
		}
	}
}

// Close closes the socket; the pump exits and ReadLine reports EOF
func (w *WebSocket) Close() error {
	if w.conn == nil {
		return nil
	}
	w.connected.Store(false)

	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	if err != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrTransport, w.url, err)
	}
	return nil
}

// ReadLine returns the next line assembled from inbound messages
func (w *WebSocket) ReadLine() ([]byte, error) {
	w.readMu.Lock()
	defer w.readMu.Unlock()

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	for {
		if line, ok := w.lines.Next(); ok {
			return line, nil
		}
		select {
		case data, ok := <-w.messages:
			if !ok {
				w.connected.Store(false)
				if rest := w.lines.Drain(); rest != nil {
					return rest, nil
				}
				return nil, io.EOF
			}
			w.lines.Write(data)
		case <-timer.C:
			return nil, nil
		}
	}
}

// Write sends p as one text message
func (w *WebSocket) Write(p []byte) error {
	if !w.connected.Load() {
		return fmt.Errorf("%w: %s is not connected", ErrTransport, w.url)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrTransport, w.url, err)
	}
	return nil
}

// Reset has no effect through a bridge
func (w *WebSocket) Reset() error { return nil }

func (w *WebSocket) HasFlowControl() bool { return false }

func (w *WebSocket) IsConnected() bool { return w.connected.Load() }

func (w *WebSocket) String() string { return w.url }
