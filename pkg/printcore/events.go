// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printcore

import (
	"reflect"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/gcodehost/pkg/gcode"
)

/////////////////////////////////////////////////////////////////////
// Observer interfaces
//
// An observer implements any subset of these. Handlers run on the
// controller's I/O goroutines and must not call blocking controller
// methods (Connect, Disconnect, Pause, CancelPrint).
/////////////////////////////////////////////////////////////////////

type InitHandler interface{ OnInit() }

type ConnectHandler interface{ OnConnect() }

type DisconnectHandler interface{ OnDisconnect() }

type OnlineHandler interface{ OnOnline() }

type StartHandler interface{ OnStart(resuming bool) }

type EndHandler interface{ OnEnd() }

type ErrorHandler interface{ OnError(msg string) }

// SendHandler sees every line written, framed as it went on the wire
type SendHandler interface {
	OnSend(command string, gline *gcode.Line)
}

// RecvHandler sees every non-empty line read, terminator included
type RecvHandler interface{ OnRecv(line string) }

type TempHandler interface{ OnTemp(line string) }

type PrePrintSendHandler interface {
	OnPrePrintSend(gline *gcode.Line, index int, mainqueue *gcode.Document)
}

type PrintSendHandler interface{ OnPrintSend(gline *gcode.Line) }

type LayerChangeHandler interface{ OnLayerChange(layer int) }

type HostCommandHandler interface{ OnHostCommand(command string) }

// PrePrintSender may replace the line about to be printed. Returning nil
// skips the line. Only the callback holder is asked.
type PrePrintSender interface {
	PrePrintSend(gline, next *gcode.Line, index int) *gcode.Line
}

// Callbacks are the single-slot callbacks, run after the observers
type Callbacks struct {
	Init       func()
	Connect    func()
	Disconnect func()
	Online     func()
	Start      func(resuming bool)
	End        func()
	Error      func(msg string)
	Send       func(command string, gline *gcode.Line)
	Recv       func(line string)
	Temp       func(line string)
	// PrePrintSend returns the line to print in place of gline, or nil
	PrePrintSend func(gline, next *gcode.Line) *gcode.Line
	PrintSend    func(gline *gcode.Line)
	LayerChange  func(layer int)
	HostCommand  func(command string)
}

/////////////////////////////////////////////////////////////////////
// Process-wide registry
/////////////////////////////////////////////////////////////////////

var registry struct {
	mu       sync.Mutex
	handlers []any
}

// RegisterHandler adds h to the handlers every new Controller starts with
func RegisterHandler(h any) {
	if h == nil {
		return
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.handlers = append(registry.handlers, h)
}

// UnregisterHandler removes h from the process-wide handlers
func UnregisterHandler(h any) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.handlers = without(registry.handlers, h)
}

// ResetHandlers clears the process-wide handlers
func ResetHandlers() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.handlers = nil
}

func registeredHandlers() []any {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return append([]any(nil), registry.handlers...)
}

func without(hs []any, h any) []any {
	if h == nil || !reflect.TypeOf(h).Comparable() {
		return hs
	}
	out := hs[:0:0]
	for _, x := range hs {
		if x == nil || (reflect.TypeOf(x).Comparable() && x == h) {
			continue
		}
		out = append(out, x)
	}
	return out
}

/////////////////////////////////////////////////////////////////////
// Dispatcher
/////////////////////////////////////////////////////////////////////

type dispatcher struct {
	log zerolog.Logger

	mu        sync.RWMutex
	handlers  []any
	callbacks Callbacks
	holder    any
}

func newDispatcher(log zerolog.Logger, handlers []any) *dispatcher {
	return &dispatcher{log: log, handlers: handlers}
}

func (d *dispatcher) add(h any) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

func (d *dispatcher) remove(h any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = without(d.handlers, h)
}

func (d *dispatcher) setCallbacks(cb Callbacks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = cb
}

func (d *dispatcher) setHolder(h any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holder = h
}

func (d *dispatcher) snapshot() ([]any, Callbacks, any) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]any(nil), d.handlers...), d.callbacks, d.holder
}

// safe runs fn, logging instead of propagating a panic
func (d *dispatcher) safe(event string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Str("event", event).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("event handler failed")
			ok = false
		}
	}()
	fn()
	return true
}

// fire runs call on every observer implementing H, then legacy, then the
// holder if it implements H
func fire[H any](d *dispatcher, event string, legacy func(cb Callbacks) func(), call func(H)) {
	handlers, cb, holder := d.snapshot()
	for _, h := range handlers {
		if x, ok := h.(H); ok {
			d.safe(event, func() { call(x) })
		}
	}
	if fn := legacy(cb); fn != nil {
		d.safe(event, fn)
	}
	if x, ok := holder.(H); ok {
		d.safe(event, func() { call(x) })
	}
}

func (d *dispatcher) init() {
	fire(d, "init", func(cb Callbacks) func() { return cb.Init }, InitHandler.OnInit)
}

func (d *dispatcher) connect() {
	fire(d, "connect", func(cb Callbacks) func() { return cb.Connect }, ConnectHandler.OnConnect)
}

func (d *dispatcher) disconnect() {
	fire(d, "disconnect", func(cb Callbacks) func() { return cb.Disconnect }, DisconnectHandler.OnDisconnect)
}

func (d *dispatcher) online() {
	fire(d, "online", func(cb Callbacks) func() { return cb.Online }, OnlineHandler.OnOnline)
}

func (d *dispatcher) end() {
	fire(d, "end", func(cb Callbacks) func() { return cb.End }, EndHandler.OnEnd)
}

func (d *dispatcher) start(resuming bool) {
	fire(d, "start",
		func(cb Callbacks) func() {
			if cb.Start == nil {
				return nil
			}
			return func() { cb.Start(resuming) }
		},
		func(h StartHandler) { h.OnStart(resuming) })
}

func (d *dispatcher) error(msg string) {
	fire(d, "error",
		func(cb Callbacks) func() {
			if cb.Error == nil {
				return nil
			}
			return func() { cb.Error(msg) }
		},
		func(h ErrorHandler) { h.OnError(msg) })
}

func (d *dispatcher) send(command string, gline *gcode.Line) {
	fire(d, "send",
		func(cb Callbacks) func() {
			if cb.Send == nil {
				return nil
			}
			return func() { cb.Send(command, gline) }
		},
		func(h SendHandler) { h.OnSend(command, gline) })
}

func (d *dispatcher) recv(line string) {
	fire(d, "recv",
		func(cb Callbacks) func() {
			if cb.Recv == nil {
				return nil
			}
			return func() { cb.Recv(line) }
		},
		func(h RecvHandler) { h.OnRecv(line) })
}

func (d *dispatcher) temp(line string) {
	fire(d, "temp",
		func(cb Callbacks) func() {
			if cb.Temp == nil {
				return nil
			}
			return func() { cb.Temp(line) }
		},
		func(h TempHandler) { h.OnTemp(line) })
}

func (d *dispatcher) printSend(gline *gcode.Line) {
	fire(d, "printsend",
		func(cb Callbacks) func() {
			if cb.PrintSend == nil {
				return nil
			}
			return func() { cb.PrintSend(gline) }
		},
		func(h PrintSendHandler) { h.OnPrintSend(gline) })
}

func (d *dispatcher) layerChange(layer int) {
	fire(d, "layerchange",
		func(cb Callbacks) func() {
			if cb.LayerChange == nil {
				return nil
			}
			return func() { cb.LayerChange(layer) }
		},
		func(h LayerChangeHandler) { h.OnLayerChange(layer) })
}

func (d *dispatcher) hostCommand(command string) {
	fire(d, "hostcommand",
		func(cb Callbacks) func() {
			if cb.HostCommand == nil {
				return nil
			}
			return func() { cb.HostCommand(command) }
		},
		func(h HostCommandHandler) { h.OnHostCommand(command) })
}

// prePrintSend notifies observers, then lets the legacy callback and the
// holder replace gline in turn. A nil result means skip the line.
func (d *dispatcher) prePrintSend(gline, next *gcode.Line, index int, mainqueue *gcode.Document) *gcode.Line {
	handlers, cb, holder := d.snapshot()
	for _, h := range handlers {
		if x, ok := h.(PrePrintSendHandler); ok {
			d.safe("preprintsend", func() { x.OnPrePrintSend(gline, index, mainqueue) })
		}
	}

	if cb.PrePrintSend != nil {
		in := gline
		d.safe("preprintsend", func() { gline = cb.PrePrintSend(in, next) })
	}
	if x, ok := holder.(PrePrintSender); ok && gline != nil {
		in := gline
		d.safe("preprintsend", func() { gline = x.PrePrintSend(in, next, index) })
	}
	return gline
}
