// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printcore

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/Thermoquad/gcodehost/pkg/gcode"
)

// StartPrint streams doc from line startIndex. The firmware line number is
// reset first. It returns false when offline, when a job is already
// running, or when doc is nil.
func (c *Controller) StartPrint(doc *gcode.Document, startIndex int) bool {
	return c.startPrint(doc, startIndex, "")
}

func (c *Controller) startPrint(doc *gcode.Document, startIndex int, jobID string) bool {
	if doc == nil {
		c.fail(ErrState, "Nothing to print.")
		return false
	}
	if !c.online.Load() {
		c.fail(ErrState, "Not connected to printer.")
		return false
	}
	if jobID == "" {
		jobID = uuid.NewString()
	}

	c.mu.Lock()
	if !c.job.Is(JobIdle) {
		c.mu.Unlock()
		c.fail(ErrState, "Already printing.")
		return false
	}
	c.mainqueue = doc
	c.cursor = startIndex
	c.lineno = 0
	c.sentlines = make(map[int]string)
	c.lineReset = true
	c.interrupted = false
	c.jobID = jobID
	c.resendFrom.Store(-1)
	c.pending = &printRun{resuming: startIndex != 0, done: make(chan struct{})}
	ok := c.jobEvent(jobEvtStart)
	c.mu.Unlock()

	if ok {
		c.log.Info().Str("job", jobID).Int("lines", doc.Len()).Int("start", startIndex).Msg("print started")
		c.kick()
	}
	return ok
}

// Pause stops streaming after the line in flight and remembers the
// position for Resume. It blocks until the sender has left the job, so it
// must not be called from an event handler.
func (c *Controller) Pause() bool {
	c.mu.Lock()
	run := c.active
	if run == nil {
		run = c.pending
	}
	c.mu.Unlock()

	if !c.jobEvent(jobEvtPause) {
		return false
	}
	if l := c.link.Load(); run != nil && l != nil {
		select {
		case <-run.done:
		case <-l.ctx.Done():
		}
	}
	c.capturePause()
	c.log.Info().Str("job", c.JobID()).Msg("print paused")
	return true
}

// pauseInline pauses from the sender goroutine
func (c *Controller) pauseInline() {
	if c.jobEvent(jobEvtPause) {
		c.capturePause()
		c.log.Info().Str("job", c.JobID()).Msg("print paused by host command")
	}
}

func (c *Controller) capturePause() {
	c.analyzerMu.Lock()
	a := c.analyzer
	p := pauseState{
		X:         a.AbsX(),
		Y:         a.AbsY(),
		Z:         a.AbsZ(),
		E:         a.AbsE(),
		F:         a.CurrentF,
		Relative:  a.Relative,
		RelativeE: a.RelativeE,
	}
	c.analyzerMu.Unlock()

	c.mu.Lock()
	c.paused = p
	c.mu.Unlock()
}

// Resume restores the paused position and modes, then continues the job
func (c *Controller) Resume() bool {
	if !c.job.Is(JobPaused) {
		c.fail(ErrState, "Not paused.")
		return false
	}
	if !c.online.Load() {
		c.fail(ErrState, "Not connected to printer.")
		return false
	}

	c.mu.Lock()
	p := c.paused
	c.mu.Unlock()
	for _, cmd := range p.restore(c.cfg.XYFeedrate, c.cfg.ZFeedrate) {
		if !c.SendNow(cmd) {
			return false
		}
	}

	c.mu.Lock()
	c.pending = &printRun{resuming: true, done: make(chan struct{})}
	ok := c.jobEvent(jobEvtResume)
	c.mu.Unlock()

	if ok {
		c.log.Info().Str("job", c.JobID()).Msg("print resumed")
		c.kick()
	}
	return ok
}

// restore returns the commands that put the machine back where it paused
func (p pauseState) restore(xyFeed, zFeed float64) []string {
	cmds := []string{
		"G90",
		"G1 X" + num(p.X) + " Y" + num(p.Y) + feed(xyFeed),
		"G1 Z" + num(p.Z) + feed(zFeed),
		"G92 E" + num(p.E),
	}
	if p.Relative {
		cmds = append(cmds, "G91")
	}
	if p.RelativeE {
		cmds = append(cmds, "M83")
	}
	if p.F > 0 {
		cmds = append(cmds, "G1 F"+num(p.F))
	}
	return cmds
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func feed(f float64) string {
	if f <= 0 {
		return ""
	}
	return " F" + num(f)
}

// CancelPrint pauses and then drops the job. It reports whether a job was
// cancelled.
func (c *Controller) CancelPrint() bool {
	c.Pause()

	c.mu.Lock()
	ok := c.jobEvent(jobEvtCancel)
	if ok {
		c.mainqueue = nil
		c.cursor = 0
		c.interrupted = false
	}
	c.mu.Unlock()

	c.clear.Store(true)
	if ok {
		c.log.Info().Str("job", c.JobID()).Msg("print cancelled")
	}
	return ok
}
