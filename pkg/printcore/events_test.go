// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printcore

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/gcodehost/pkg/gcode"
)

func newTestDispatcher(handlers ...any) *dispatcher {
	return newDispatcher(zerolog.Nop(), handlers)
}

// ============================================================
// Dispatch Order
// ============================================================

type holder struct {
	rec     *recorder
	replace func(gline *gcode.Line) *gcode.Line
}

func (h *holder) OnOnline() { h.rec.add("holder:online") }

func (h *holder) PrePrintSend(gline, _ *gcode.Line, _ int) *gcode.Line {
	h.rec.add("holder:preprint")
	return h.replace(gline)
}

func TestDispatcher_Order(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher(rec)
	d.setCallbacks(Callbacks{Online: func() { rec.add("legacy:online") }})
	d.setHolder(&holder{rec: rec})

	d.online()
	assert.Equal(t, []string{"online", "legacy:online", "holder:online"}, rec.list())
}

func TestDispatcher_PanicIsContained(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher()
	d.setCallbacks(Callbacks{Error: func(string) { panic("boom") }})
	d.add(rec)

	require.NotPanics(t, func() { d.error("Printer halted") })
	assert.Equal(t, []string{"error:Printer halted"}, rec.list())

	assert.False(t, d.safe("test", func() { panic("again") }))
	assert.True(t, d.safe("test", func() {}))
}

func TestDispatcher_AddRemove(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher()

	d.add(rec)
	d.layerChange(3)
	d.remove(rec)
	d.layerChange(4)
	assert.Equal(t, []string{"layer:3"}, rec.list())

	// non-comparable handlers are ignored by remove
	d.add(map[string]int{})
	d.remove(map[string]int{})
	handlers, _, _ := d.snapshot()
	assert.Len(t, handlers, 1)
}

func TestDispatcher_NilHandler(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher()

	d.add(nil)
	d.add(rec)
	assert.NotPanics(t, func() { d.remove(&recorder{}) })
	assert.NotPanics(t, func() { d.remove(nil) })
	d.layerChange(1)
	assert.Equal(t, []string{"layer:1"}, rec.list())

	handlers, _, _ := d.snapshot()
	assert.Len(t, handlers, 1)

	nop := zerolog.Nop()
	c := New(Config{Logger: &nop})
	c.AddEventHandler(nil)
	assert.NotPanics(t, func() { c.RemoveEventHandler(rec) })

	t.Cleanup(ResetHandlers)
	RegisterHandler(nil)
	assert.NotPanics(t, func() { UnregisterHandler(rec) })
}

// ============================================================
// PrePrintSend
// ============================================================

type prePrintObserver struct {
	indexes []int
}

func (o *prePrintObserver) OnPrePrintSend(_ *gcode.Line, index int, _ *gcode.Document) {
	o.indexes = append(o.indexes, index)
}

func TestDispatcher_PrePrintSendChain(t *testing.T) {
	rec := &recorder{}
	obs := &prePrintObserver{}
	d := newTestDispatcher(obs)

	in := gcode.Parse("G1 X1")
	next := gcode.Parse("G1 X2")

	// nothing installed passes the line through
	assert.Same(t, in, d.prePrintSend(in, next, 0, nil))

	d.setCallbacks(Callbacks{PrePrintSend: func(g, n *gcode.Line) *gcode.Line {
		rec.add("legacy:" + g.Raw + ">" + n.Raw)
		return gcode.Parse("G1 X10")
	}})
	d.setHolder(&holder{rec: rec, replace: func(g *gcode.Line) *gcode.Line {
		return gcode.Parse(g.Raw + " F600")
	}})

	out := d.prePrintSend(in, next, 1, nil)
	require.NotNil(t, out)
	assert.Equal(t, "G1 X10 F600", out.Raw)
	assert.Equal(t, []string{"legacy:G1 X1>G1 X2", "holder:preprint"}, rec.list())
	assert.Equal(t, []int{0, 1}, obs.indexes)
}

func TestDispatcher_PrePrintSendSkip(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher()
	d.setCallbacks(Callbacks{PrePrintSend: func(*gcode.Line, *gcode.Line) *gcode.Line { return nil }})
	d.setHolder(&holder{rec: rec, replace: func(g *gcode.Line) *gcode.Line { return g }})

	assert.Nil(t, d.prePrintSend(gcode.Parse("M106"), nil, 0, nil))
	assert.Empty(t, rec.list(), "holder is not asked about a skipped line")
}

func TestDispatcher_PrePrintSendPanicKeepsLine(t *testing.T) {
	d := newTestDispatcher()
	d.setCallbacks(Callbacks{PrePrintSend: func(*gcode.Line, *gcode.Line) *gcode.Line { panic("bad plugin") }})

	in := gcode.Parse("G1 Z0.2")
	assert.Same(t, in, d.prePrintSend(in, nil, 0, nil))
}

// ============================================================
// Process-wide Registry
// ============================================================

func TestRegistry(t *testing.T) {
	t.Cleanup(ResetHandlers)

	a, b := &recorder{}, &recorder{}
	RegisterHandler(a)
	RegisterHandler(b)
	UnregisterHandler(b)

	nop := zerolog.Nop()
	New(Config{Logger: &nop})
	assert.Equal(t, []string{"init"}, a.list())
	assert.Empty(t, b.list())

	ResetHandlers()
	New(Config{Logger: &nop})
	assert.Equal(t, []string{"init"}, a.list(), "reset handlers are not attached")
}
