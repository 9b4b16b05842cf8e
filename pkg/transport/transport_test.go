// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Line Buffer Tests
// ============================================================

func TestLineBuffer_SplitsLines(t *testing.T) {
	var b lineBuffer
	b.Write([]byte("ok\nok T:20"))

	line, ok := b.Next()
	require.True(t, ok)
	assert.Equal(t, "ok\n", string(line))

	_, ok = b.Next()
	assert.False(t, ok, "partial line must wait for its terminator")

	b.Write([]byte("/0\r\n"))
	line, ok = b.Next()
	require.True(t, ok)
	assert.Equal(t, "ok T:20/0\r\n", string(line))
	assert.Nil(t, b.Drain())
}

func TestLineBuffer_Overlong(t *testing.T) {
	var b lineBuffer
	b.Write([]byte(strings.Repeat("x", maxLineLength)))
	line, ok := b.Next()
	require.True(t, ok)
	assert.Len(t, line, maxLineLength)
}

func TestLineBuffer_LinesAreCopies(t *testing.T) {
	var b lineBuffer
	b.Write([]byte("a\nb\n"))
	first, _ := b.Next()
	b.Write([]byte("c\n"))
	assert.Equal(t, "a\n", string(first))
}

// ============================================================
// Target Tests
// ============================================================

func TestKindOf(t *testing.T) {
	tests := []struct {
		target string
		want   Kind
	}{
		{"/dev/ttyUSB0", KindSerial},
		{"/dev/ttyACM*", KindSerial},
		{"COM3", KindSerial},
		{"localhost:8080", KindTCP},
		{"192.168.1.20:23", KindTCP},
		{"[::1]:23", KindTCP},
		{"ws://octo.local/serial", KindWebSocket},
		{"wss://printer/ws", KindWebSocket},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.target))
		})
	}
}

func TestNew_Variants(t *testing.T) {
	assert.IsType(t, &Serial{}, New(Options{Target: "/dev/ttyUSB0", Baud: 115200}))
	assert.IsType(t, &TCPText{}, New(Options{Target: "localhost:23"}))
	assert.IsType(t, &WebSocket{}, New(Options{Target: "ws://localhost/ws"}))
}

func TestSerial_Capabilities(t *testing.T) {
	s := NewSerial("/dev/null-port", 250000, Options{})
	assert.False(t, s.HasFlowControl())
	assert.False(t, s.IsConnected())
	assert.Equal(t, "/dev/null-port", s.String())
	assert.ErrorIs(t, s.Write([]byte("M105\n")), ErrTransport)
	assert.ErrorIs(t, s.Reset(), ErrTransport)
}

func TestResolvePort_Literal(t *testing.T) {
	name, err := resolvePort("/dev/ttyUSB0")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", name)
}

// ============================================================
// TCP Tests
// ============================================================

func listenTCP(t *testing.T, serve func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		serve(conn)
	}()
	return ln.Addr().String()
}

func TestTCPText_RoundTrip(t *testing.T) {
	addr := listenTCP(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		conn.Write([]byte("echo:" + line))
		conn.Write([]byte("ok"))
		time.Sleep(20 * time.Millisecond)
		conn.Write([]byte(" T:21\n"))
	})

	tr := NewTCPText(addr, Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, tr.Open(context.Background()))
	defer tr.Close()

	assert.True(t, tr.HasFlowControl())
	assert.True(t, tr.IsConnected())
	assert.NoError(t, tr.Reset())

	require.NoError(t, tr.Write([]byte("M105\n")))

	var got []string
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 2 && time.Now().Before(deadline) {
		line, err := tr.ReadLine()
		require.NoError(t, err)
		if line != nil {
			got = append(got, string(line))
		}
	}
	assert.Equal(t, []string{"echo:M105\n", "ok T:21\n"}, got)
}

func TestTCPText_TimeoutReturnsEmpty(t *testing.T) {
	addr := listenTCP(t, func(conn net.Conn) {
		time.Sleep(500 * time.Millisecond)
		conn.Close()
	})

	tr := NewTCPText(addr, Options{Timeout: 20 * time.Millisecond})
	require.NoError(t, tr.Open(context.Background()))
	defer tr.Close()

	line, err := tr.ReadLine()
	assert.NoError(t, err)
	assert.Nil(t, line)
}

func TestTCPText_PeerCloseIsEOF(t *testing.T) {
	addr := listenTCP(t, func(conn net.Conn) {
		conn.Write([]byte("start\nbye"))
		conn.Close()
	})

	tr := NewTCPText(addr, Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, tr.Open(context.Background()))
	defer tr.Close()

	var lines []string
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var line []byte
		line, err = tr.ReadLine()
		if err != nil {
			break
		}
		if line != nil {
			lines = append(lines, string(line))
		}
	}
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"start\n", "bye"}, lines)
	assert.False(t, tr.IsConnected())
}

func TestTCPText_CloseUnblocksRead(t *testing.T) {
	addr := listenTCP(t, func(conn net.Conn) {
		time.Sleep(time.Second)
		conn.Close()
	})

	tr := NewTCPText(addr, Options{Timeout: time.Second})
	require.NoError(t, tr.Open(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := tr.ReadLine()
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tr.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("ReadLine did not return after Close")
	}
}

func TestTCPText_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Open(context.Background(), Options{Target: addr})
	assert.ErrorIs(t, err, ErrTransport)
}

// ============================================================
// WebSocket Tests
// ============================================================

func TestWebSocket_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		// split the reply across frames like a serial bridge would
		conn.WriteMessage(websocket.BinaryMessage, []byte("o"))
		conn.WriteMessage(websocket.BinaryMessage, []byte("k "+strings.TrimSpace(string(data))+"\n"))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	tr := NewWebSocket(url, Options{Username: "maker", Password: "secret", Timeout: 100 * time.Millisecond})
	require.NoError(t, tr.Open(context.Background()))
	defer tr.Close()

	assert.False(t, tr.HasFlowControl())
	require.NoError(t, tr.Write([]byte("N0 M105*39\n")))

	var line []byte
	deadline := time.Now().Add(2 * time.Second)
	for line == nil && time.Now().Before(deadline) {
		var err error
		line, err = tr.ReadLine()
		require.NoError(t, err)
	}
	assert.Equal(t, "ok N0 M105*39\n", string(line))
	assert.Equal(t, "Basic bWFrZXI6c2VjcmV0", <-auth)

	// server hung up
	var err error
	for err == nil && time.Now().Before(deadline) {
		_, err = tr.ReadLine()
	}
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, tr.Close())
}

func TestWebSocket_BadScheme(t *testing.T) {
	tr := NewWebSocket("http://example.com", Options{})
	assert.ErrorIs(t, tr.Open(context.Background()), ErrTransport)
}
