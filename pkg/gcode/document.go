// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gcode

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"
)

// Document is a loaded G-code file partitioned into layers.
//
// The exported slices are filled once by the constructor. After that the
// only mutation is Append, which may run while another goroutine reads the
// document through its methods; direct field access is only safe when no
// Append can happen concurrently.
type Document struct {
	mu sync.RWMutex

	Lines     []*Line
	LayerIdxs []int
	LineIdxs  []int
	AllLayers []*Layer

	XMin, XMax float64
	YMin, YMax float64
	ZMin, ZMax float64

	Width  float64
	Depth  float64
	Height float64

	FilamentLength      float64
	FilamentLengthMulti []float64

	// Duration is the estimated print time of the loaded lines
	Duration time.Duration

	analyzer    *Analyzer
	appendLayer int
}

// NewDocument builds a document from raw lines. Surrounding whitespace is
// trimmed and blank lines are dropped.
func NewDocument(lines []string) *Document {
	return newDocument(lines, NewAnalyzer())
}

// NewDocumentWithHome builds a document using the given home position for G28
func NewDocumentWithHome(lines []string, x, y, z float64) *Document {
	a := NewAnalyzer()
	a.HomeX, a.HomeY, a.HomeZ = x, y, z
	return newDocument(lines, a)
}

// Load reads a G-code document from r
func Load(r io.Reader) (*Document, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}
	return NewDocument(lines), nil
}

// LoadFile reads a G-code document from the file at path
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// LoadFileWithHome is LoadFile with the G28 home position set
func LoadFileWithHome(path string, x, y, z float64) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines, err := readLines(f)
	if err != nil {
		return nil, err
	}
	return NewDocumentWithHome(lines, x, y, z), nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading gcode: %w", err)
	}
	return lines, nil
}

func newDocument(raw []string, a *Analyzer) *Document {
	d := &Document{
		analyzer:    a,
		appendLayer: -1,
	}
	b := newBuilder(d, a)
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		b.add(Parse(s))
	}
	b.finish()
	return d
}

// Len returns the number of lines
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.Lines)
}

// HasIndex reports whether i is a valid line index
func (d *Document) HasIndex(i int) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return i >= 0 && i < len(d.Lines)
}

// Idxs returns the layer index and the position within that layer of line i
func (d *Document) Idxs(i int) (layer, offset int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.LayerIdxs[i], d.LineIdxs[i]
}

// LineAt returns line i, or nil when i is out of range
func (d *Document) LineAt(i int) *Line {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i < 0 || i >= len(d.Lines) {
		return nil
	}
	return d.Lines[i]
}

// LayerLine returns the line at offset within layer
func (d *Document) LayerLine(layer, offset int) *Line {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if layer < 0 || layer >= len(d.AllLayers) {
		return nil
	}
	l := d.AllLayers[layer]
	if offset < 0 || offset >= len(l.Lines) {
		return nil
	}
	return l.Lines[offset]
}

// NumLayers returns the number of layers
func (d *Document) NumLayers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.AllLayers)
}

// PrintedLayers returns the number of layers that extrude material
func (d *Document) PrintedLayers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, l := range d.AllLayers {
		if l.Printed() {
			n++
		}
	}
	return n
}

// LayerZ returns the Z height of layer
func (d *Document) LayerZ(layer int) float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if layer < 0 || layer >= len(d.AllLayers) {
		return 0
	}
	return d.AllLayers[layer].Z
}

// Append parses raw, runs it through the document's analyzer and adds it to
// a trailing layer reserved for live commands. Layers are not rebuilt.
func (d *Document) Append(raw string) *Line {
	d.mu.Lock()
	defer d.mu.Unlock()

	l := d.analyzer.Append(raw)
	if d.appendLayer < 0 {
		d.AllLayers = append(d.AllLayers, &Layer{Z: d.analyzer.CurrentZ, HasZ: true})
		d.appendLayer = len(d.AllLayers) - 1
	}
	layer := d.AllLayers[d.appendLayer]
	d.LayerIdxs = append(d.LayerIdxs, d.appendLayer)
	d.LineIdxs = append(d.LineIdxs, len(layer.Lines))
	layer.Lines = append(layer.Lines, l)
	d.Lines = append(d.Lines, l)
	return l
}

// EstimateRemaining estimates the time left when the next line to print is
// cursor. The current layer is prorated by line position.
func (d *Document) EstimateRemaining(cursor int) time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if cursor < 0 || cursor >= len(d.Lines) {
		return 0
	}
	layer, offset := d.LayerIdxs[cursor], d.LineIdxs[cursor]
	cur := d.AllLayers[layer]
	left := cur.Duration * (1 - float64(offset)/float64(len(cur.Lines)))
	for _, l := range d.AllLayers[layer+1:] {
		left += l.Duration
	}
	return seconds(left)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// builder carries the running state of a single document build
type builder struct {
	doc *Document
	a   *Analyzer

	layer          *Layer
	layerIdx       int
	estLayerHeight float64

	est estimator

	ext, travel bounds
	printedZ    bounds
	allZ        bounds
}

func newBuilder(d *Document, a *Analyzer) *builder {
	return &builder{doc: d, a: a, layerIdx: -1}
}

func (b *builder) add(l *Line) {
	prev := position{b.a.CurrentX, b.a.CurrentY, b.a.CurrentZ, b.a.CurrentE}
	b.a.Apply(l)
	cur := position{b.a.CurrentX, b.a.CurrentY, b.a.CurrentZ, b.a.CurrentE}

	b.place(l, cur.z)

	switch {
	case l.IsMove:
		b.layer.Duration += b.est.move(l, prev, cur, b.a.CurrentF/60)
		if l.Extruding {
			b.layer.extruded = true
			b.ext.add2(prev.x, prev.y)
			b.ext.add2(cur.x, cur.y)
			b.printedZ.add1(cur.z)
		} else {
			b.travel.add2(cur.x, cur.y)
		}
	case l.Command == "G4":
		if p, ok := l.P(); ok && p > 0 {
			b.layer.Duration += p / 1000
		}
	}
}

// place assigns l to the open layer or opens a new one when z left the
// tolerance band of the open layer
func (b *builder) place(l *Line, z float64) {
	switch {
	case b.layer == nil:
		b.open(z)
	case !b.sameLayer(z):
		if b.layer.Printed() {
			if h := math.Abs(z - b.layer.Z); b.estLayerHeight == 0 || h < b.estLayerHeight {
				b.estLayerHeight = h
			}
		}
		b.open(z)
	}

	d := b.doc
	d.LayerIdxs = append(d.LayerIdxs, b.layerIdx)
	d.LineIdxs = append(d.LineIdxs, len(b.layer.Lines))
	b.layer.Lines = append(b.layer.Lines, l)
	d.Lines = append(d.Lines, l)
}

func (b *builder) sameLayer(z float64) bool {
	tol := 0.01
	if b.estLayerHeight > 0 {
		tol = b.estLayerHeight / 2
	}
	return math.Abs(z-b.layer.Z) < tol
}

func (b *builder) open(z float64) {
	b.layer = &Layer{Z: roundZ(z), HasZ: true}
	b.doc.AllLayers = append(b.doc.AllLayers, b.layer)
	b.layerIdx = len(b.doc.AllLayers) - 1
	b.allZ.add1(b.layer.Z)
}

func (b *builder) finish() {
	d := b.doc

	box := b.travel
	if b.ext.set {
		box = b.ext
	}
	if box.set {
		d.XMin, d.XMax = box.minX, box.maxX
		d.YMin, d.YMax = box.minY, box.maxY
	}
	zs := b.allZ
	if b.printedZ.set {
		zs = b.printedZ
	}
	if zs.set {
		d.ZMin, d.ZMax = zs.minZ, zs.maxZ
	}
	d.Width = d.XMax - d.XMin
	d.Depth = d.YMax - d.YMin
	d.Height = d.ZMax - d.ZMin

	d.FilamentLength = b.a.MaxE
	d.FilamentLengthMulti = append([]float64(nil), b.a.MaxEMulti...)

	var total float64
	for _, l := range d.AllLayers {
		total += l.Duration
	}
	d.Duration = seconds(total)
}

func roundZ(z float64) float64 {
	return math.Round(z*1000) / 1000
}

type position struct {
	x, y, z, e float64
}

type bounds struct {
	set                    bool
	minX, maxX, minY, maxY float64
	minZ, maxZ             float64
}

func (b *bounds) add2(x, y float64) {
	if !b.set {
		b.set = true
		b.minX, b.maxX, b.minY, b.maxY = x, x, y, y
		return
	}
	b.minX, b.maxX = math.Min(b.minX, x), math.Max(b.maxX, x)
	b.minY, b.maxY = math.Min(b.minY, y), math.Max(b.maxY, y)
}

func (b *bounds) add1(z float64) {
	if !b.set {
		b.set = true
		b.minZ, b.maxZ = z, z
		return
	}
	b.minZ, b.maxZ = math.Min(b.minZ, z), math.Max(b.maxZ, z)
}
