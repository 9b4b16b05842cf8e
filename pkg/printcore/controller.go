// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package printcore drives a Marlin-style printer over a line transport:
// online handshake, ack-gated streaming with numbered and checksummed
// frames, resends, and the print job lifecycle.
package printcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/gcodehost/pkg/gcode"
	"github.com/Thermoquad/gcodehost/pkg/transport"
)

// DialFunc opens a transport. transport.Open is used when Config.Dial is nil.
type DialFunc func(ctx context.Context, opts transport.Options) (transport.Transport, error)

// HostCommandFunc handles a ";@name args" line. It runs on the sender
// goroutine.
type HostCommandFunc func(args string)

// link is one live connection and the goroutines serving it
type link struct {
	tr     transport.Transport
	port   string
	baud   int
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	// closing is set by Disconnect before the transport is closed
	closing atomic.Bool
}

// printRun is one pass of the sender over the main queue
type printRun struct {
	resuming bool
	done     chan struct{}
}

type pauseState struct {
	X, Y, Z, E float64
	F          float64
	Relative   bool
	RelativeE  bool
}

// Controller is the host side of a printer connection
type Controller struct {
	cfg  Config
	log  zerolog.Logger
	dial DialFunc

	connMu sync.Mutex
	link   atomic.Pointer[link]

	online        atomic.Bool
	clear         atomic.Bool
	writeFailures atomic.Int32
	resendFrom    atomic.Int64

	job *fsm.FSM

	mu          sync.Mutex
	mainqueue   *gcode.Document
	cursor      int
	lineno      int
	sentlines   map[int]string
	pending     *printRun
	active      *printRun
	lineReset   bool
	paused      pauseState
	interrupted bool
	jobID       string

	priqueue chan string
	wake     chan struct{}

	analyzerMu sync.Mutex
	analyzer   *gcode.Analyzer

	events *dispatcher

	hostMu       sync.RWMutex
	hostCommands map[string]HostCommandFunc

	stats *counters
	recv  *recvLog
}

// New creates an offline controller. The process-wide handlers registered
// so far are copied in and receive the init event.
func New(cfg Config) *Controller {
	cfg = cfg.withDefaults()
	lg := cfg.Logger.With().Str("component", "printcore").Logger()

	c := &Controller{
		cfg:          cfg,
		log:          lg,
		dial:         transport.Open,
		job:          makeJobFSM(lg),
		sentlines:    make(map[int]string),
		priqueue:     make(chan string, cfg.PriQueueSize),
		wake:         make(chan struct{}, 1),
		analyzer:     gcode.NewAnalyzer(),
		events:       newDispatcher(lg, registeredHandlers()),
		hostCommands: make(map[string]HostCommandFunc),
		stats:        newCounters(),
		recv:         newRecvLog(recvLogSize),
	}
	c.resendFrom.Store(-1)
	if cfg.Dial != nil {
		c.dial = cfg.Dial
	}
	c.hostCommands["pause"] = func(string) { c.pauseInline() }

	c.events.init()
	return c
}

/////////////////////////////////////////////////////////////////////
// Observers
/////////////////////////////////////////////////////////////////////

// AddEventHandler registers an observer implementing any of the *Handler
// interfaces
func (c *Controller) AddEventHandler(h any) { c.events.add(h) }

// RemoveEventHandler unregisters an observer added with AddEventHandler
func (c *Controller) RemoveEventHandler(h any) { c.events.remove(h) }

// SetCallbacks replaces the single-slot callbacks
func (c *Controller) SetCallbacks(cb Callbacks) { c.events.setCallbacks(cb) }

// SetCallbackHolder sets the object dispatched after the callbacks
func (c *Controller) SetCallbackHolder(h any) { c.events.setHolder(h) }

// RegisterHostCommand binds ";@name" lines in a print to fn. The name is
// matched case-insensitively. Registering "pause" replaces the built-in.
func (c *Controller) RegisterHostCommand(name string, fn HostCommandFunc) {
	c.hostMu.Lock()
	defer c.hostMu.Unlock()
	c.hostCommands[strings.ToLower(name)] = fn
}

/////////////////////////////////////////////////////////////////////
// Connection
/////////////////////////////////////////////////////////////////////

// Connect opens the transport and starts the reader and sender. Empty
// arguments fall back to Config. An existing connection is closed first.
// The controller goes online asynchronously once the printer answers.
func (c *Controller) Connect(ctx context.Context, port string, baud int) error {
	if port == "" {
		port = c.cfg.Port
	}
	if baud == 0 {
		baud = c.cfg.Baud
	}
	if port == "" || (baud == 0 && transport.KindOf(port) == transport.KindSerial) {
		c.fail(ErrConfig, "Could not connect without a port and baudrate.")
		return fmt.Errorf("%w: port %q baud %d", ErrConfig, port, baud)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.disconnectLocked()

	opts := c.cfg.transportOptions()
	opts.Target = port
	opts.Baud = baud

	tr, err := c.dial(ctx, opts)
	if err != nil {
		c.fail(transport.ErrTransport, fmt.Sprintf("Could not connect to %s at baudrate %d: %v", port, baud, err))
		return fmt.Errorf("connect %s: %w", port, err)
	}

	c.attach(tr, port, baud)
	return nil
}

func (c *Controller) attach(tr transport.Transport, port string, baud int) {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	l := &link{tr: tr, port: port, baud: baud, ctx: gctx, cancel: cancel, group: g}

	c.writeFailures.Store(0)
	c.online.Store(false)
	c.clear.Store(false)
	c.resendFrom.Store(-1)
	c.link.Store(l)

	c.log.Info().Str("port", port).Str("transport", tr.String()).Msg("connected")
	c.events.connect()

	g.Go(func() error { return c.readLoop(l) })
	g.Go(func() error { return c.sendLoop(l) })
}

// Disconnect stops both loops and closes the transport. A job in progress
// is kept for Recover.
func (c *Controller) Disconnect() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.disconnectLocked()
}

func (c *Controller) disconnectLocked() {
	l := c.link.Load()
	if l == nil {
		return
	}
	l.closing.Store(true)

	c.abortJob()
	c.online.Store(false)
	l.cancel()
	if err := l.tr.Close(); err != nil {
		c.log.Debug().Err(err).Msg("closing transport")
	}
	if err := l.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Debug().Err(err).Msg("connection loops stopped")
	}
	c.link.Store(nil)

	c.log.Info().Str("port", l.port).Msg("disconnected")
	c.events.disconnect()
}

// linkLost runs on the reader when the transport goes away under it
func (c *Controller) linkLost(l *link) {
	c.abortJob()
	c.online.Store(false)
	c.log.Warn().Str("port", l.port).Msg("lost connection to printer")
}

// abortJob drops a printing or paused job to idle and marks it for Recover
func (c *Controller) abortJob() {
	if c.job.Is(JobIdle) {
		return
	}
	c.mu.Lock()
	c.interrupted = c.mainqueue != nil
	c.mu.Unlock()
	c.jobEvent(jobEvtAbort)
}

// Reset pulses DTR on serial transports to reboot the board
func (c *Controller) Reset() error {
	l := c.link.Load()
	if l == nil {
		return fmt.Errorf("%w: not connected", ErrState)
	}
	return l.tr.Reset()
}

/////////////////////////////////////////////////////////////////////
// State
/////////////////////////////////////////////////////////////////////

// Online reports whether the printer answered the handshake
func (c *Controller) Online() bool { return c.online.Load() }

// Printing reports whether a job is streaming
func (c *Controller) Printing() bool { return c.job.Is(JobPrinting) }

// Paused reports whether a job is paused
func (c *Controller) Paused() bool { return c.job.Is(JobPaused) }

// JobState returns "idle", "printing" or "paused"
func (c *Controller) JobState() string { return c.job.Current() }

// JobID returns the id of the current or last job
func (c *Controller) JobID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobID
}

// Progress returns the print cursor and the number of lines in the job
func (c *Controller) Progress() (cursor, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mainqueue == nil {
		return 0, 0
	}
	return c.cursor, c.mainqueue.Len()
}

// ETA estimates the time left in the job
func (c *Controller) ETA() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mainqueue == nil {
		return 0
	}
	return c.mainqueue.EstimateRemaining(c.cursor)
}

// Stats returns a snapshot of the link statistics
func (c *Controller) Stats() Statistics { return c.stats.snapshot() }

// ResetStats zeroes the link statistics
func (c *Controller) ResetStats() { c.stats.reset() }

// RecvLog returns the most recent received lines, oldest first
func (c *Controller) RecvLog() []string { return c.recv.all() }

// Analyzer returns a copy of the state of the commands sent so far
func (c *Controller) Analyzer() gcode.Analyzer {
	c.analyzerMu.Lock()
	defer c.analyzerMu.Unlock()
	return c.analyzer.Snapshot()
}

/////////////////////////////////////////////////////////////////////
// Commands
/////////////////////////////////////////////////////////////////////

// Send queues cmd. While printing it is appended to the job, otherwise it
// goes to the priority queue.
func (c *Controller) Send(cmd string) bool {
	if !c.online.Load() {
		c.fail(ErrState, "Not connected to printer.")
		return false
	}
	if c.job.Is(JobPrinting) {
		c.mu.Lock()
		doc := c.mainqueue
		c.mu.Unlock()
		if doc != nil {
			doc.Append(cmd)
			return true
		}
	}
	return c.SendNow(cmd)
}

// SendNow queues cmd ahead of the job
func (c *Controller) SendNow(cmd string) bool {
	if !c.online.Load() {
		c.fail(ErrState, "Not connected to printer.")
		return false
	}
	select {
	case c.priqueue <- cmd:
		return true
	default:
		c.fail(ErrState, fmt.Sprintf("Priority queue full, dropping %q", cmd))
		return false
	}
}

// fail logs msg under kind and fires the error event
func (c *Controller) fail(kind error, msg string) {
	c.log.Error().Err(kind).Msg(msg)
	c.events.error(msg)
}

func (c *Controller) kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
