// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printcore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/gcodehost/pkg/gcode"
	"github.com/Thermoquad/gcodehost/pkg/transport"
)

// ============================================================
// Fake Transport
// ============================================================

// fakeTransport records writes and serves lines pushed by the test or by
// an automatic responder
type fakeTransport struct {
	mu      sync.Mutex
	writes  []string
	respond func(line string) []string

	lines     chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	flow       bool
	connected  atomic.Bool
	failWrites atomic.Bool
}

func newFake(respond func(line string) []string) *fakeTransport {
	return &fakeTransport{
		respond: respond,
		lines:   make(chan []byte, 1024),
		closed:  make(chan struct{}),
	}
}

func okResponder(string) []string { return []string{"ok\n"} }

func (f *fakeTransport) Open(context.Context) error {
	f.connected.Store(true)
	return nil
}

func (f *fakeTransport) Close() error {
	f.connected.Store(false)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// hangup simulates the printer going away
func (f *fakeTransport) hangup() { f.Close() }

func (f *fakeTransport) ReadLine() ([]byte, error) {
	select {
	case b := <-f.lines:
		return b, nil
	case <-f.closed:
		return nil, io.EOF
	case <-time.After(20 * time.Millisecond):
		return nil, nil
	}
}

func (f *fakeTransport) Write(p []byte) error {
	if f.failWrites.Load() {
		return fmt.Errorf("%w: broken pipe", transport.ErrTransport)
	}
	f.mu.Lock()
	f.writes = append(f.writes, string(p))
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		for _, r := range respond(string(p)) {
			f.lines <- []byte(r)
		}
	}
	return nil
}

func (f *fakeTransport) Reset() error         { return nil }
func (f *fakeTransport) HasFlowControl() bool { return f.flow }
func (f *fakeTransport) IsConnected() bool    { return f.connected.Load() }
func (f *fakeTransport) String() string       { return "fake" }

// feed queues a line for the reader
func (f *fakeTransport) feed(line string) { f.lines <- []byte(line) }

func (f *fakeTransport) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeTransport) waitWrites(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.Writes()) >= n },
		2*time.Second, time.Millisecond, "waiting for %d writes, have %q", n, f.Writes())
	return f.Writes()
}

// ============================================================
// Event Recorder
// ============================================================

type recorder struct {
	mu     sync.Mutex
	events []string
	glines []*gcode.Line
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) OnInit()       { r.add("init") }
func (r *recorder) OnConnect()    { r.add("connect") }
func (r *recorder) OnDisconnect() { r.add("disconnect") }
func (r *recorder) OnOnline()     { r.add("online") }
func (r *recorder) OnEnd()        { r.add("end") }
func (r *recorder) OnStart(resuming bool) {
	r.add(fmt.Sprintf("start:%t", resuming))
}
func (r *recorder) OnError(msg string)         { r.add("error:" + msg) }
func (r *recorder) OnTemp(line string)         { r.add("temp:" + strings.TrimSpace(line)) }
func (r *recorder) OnLayerChange(layer int)    { r.add(fmt.Sprintf("layer:%d", layer)) }
func (r *recorder) OnHostCommand(cmd string)   { r.add("host:" + cmd) }
func (r *recorder) OnPrintSend(g *gcode.Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "printsend:"+g.Raw)
	r.glines = append(r.glines, g)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(prefix string) int {
	n := 0
	for _, e := range r.list() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

// index returns the position of the first event with prefix, or -1
func (r *recorder) index(prefix string) int {
	for i, e := range r.list() {
		if strings.HasPrefix(e, prefix) {
			return i
		}
	}
	return -1
}

// ============================================================
// Controller Helpers
// ============================================================

func dialer(f *fakeTransport) DialFunc {
	return func(ctx context.Context, _ transport.Options) (transport.Transport, error) {
		return f, f.Open(ctx)
	}
}

// newController connects a controller to f and waits until it is online.
// With no responder the test must answer the handshake itself.
func newController(t *testing.T, f *fakeTransport, cfg Config, handlers ...any) *Controller {
	t.Helper()
	nop := zerolog.Nop()
	cfg.Logger = &nop
	cfg.Dial = dialer(f)

	c := New(cfg)
	for _, h := range handlers {
		c.AddEventHandler(h)
	}
	require.NoError(t, c.Connect(context.Background(), "/dev/mock", 115200))
	t.Cleanup(c.Disconnect)

	if f.respond == nil {
		f.waitWrites(t, 1)
		f.feed("ok\n")
	}
	require.Eventually(t, c.Online, 2*time.Second, time.Millisecond)
	return c
}

// framed returns the writes that carry a line number, M110 excluded
func framed(writes []string) []string {
	var out []string
	for _, w := range writes {
		if strings.HasPrefix(w, "N") && !strings.Contains(w, "M110") {
			out = append(out, w)
		}
	}
	return out
}
