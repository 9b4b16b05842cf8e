// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printcore

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/gcodehost/pkg/gcode"
	"github.com/Thermoquad/gcodehost/pkg/transport"
)

// sendLoop is the only writer on the transport. Between jobs it drains the
// priority queue; a started job is streamed by runPrint.
func (c *Controller) sendLoop(l *link) error {
	defer c.abandonRuns()

	tick := time.NewTicker(idlePoll)
	defer tick.Stop()

	for l.ctx.Err() == nil {
		if run := c.takeRun(); run != nil {
			c.runPrint(l, run)
			continue
		}

		select {
		case <-l.ctx.Done():
		case <-c.wake:
		case <-tick.C:
		case cmd := <-c.priqueue:
			if !c.waitClear(l, false) {
				c.log.Debug().Str("cmd", cmd).Msg("dropping queued command on disconnect")
				continue
			}
			c.consumeClear(l)
			c.send(l, cmd, 0, false)
		}
	}
	return nil
}

// takeRun claims the pending run. A run whose job stopped printing before
// it was claimed is released unstarted.
func (c *Controller) takeRun() *printRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	run := c.pending
	if run == nil {
		return nil
	}
	c.pending = nil
	if !c.job.Is(JobPrinting) {
		close(run.done)
		return nil
	}
	c.active = run
	return run
}

func (c *Controller) abandonRuns() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		close(c.pending.done)
		c.pending = nil
	}
}

func (c *Controller) runPrint(l *link, run *printRun) {
	defer func() {
		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
		close(run.done)
	}()

	c.mu.Lock()
	reset := c.lineReset
	c.mu.Unlock()
	if reset {
		if !c.waitClear(l, true) {
			return
		}
		c.consumeClear(l)
		c.send(l, lineNumberReset, -1, true)
		c.mu.Lock()
		c.lineReset = false
		c.mu.Unlock()
	}

	c.events.start(run.resuming)
	for c.job.Is(JobPrinting) && c.online.Load() && l.ctx.Err() == nil {
		c.sendNext(l)
	}

	c.mu.Lock()
	c.sentlines = make(map[int]string)
	c.mu.Unlock()
	c.events.end()
}

// streaming reports whether acks are ignored on this link
func (c *Controller) streaming(l *link) bool {
	return c.cfg.TCPStreaming && l.tr.HasFlowControl()
}

func (c *Controller) consumeClear(l *link) {
	if !c.streaming(l) {
		c.clear.Store(false)
	}
}

// waitClear polls for an ack. It gives up when the link closes or, with
// printing set, when the job leaves the printing state.
func (c *Controller) waitClear(l *link, printing bool) bool {
	for !c.clear.Load() {
		if l.ctx.Err() != nil || (printing && !c.job.Is(JobPrinting)) {
			return false
		}
		time.Sleep(clearPoll)
	}
	return l.ctx.Err() == nil && (!printing || c.job.Is(JobPrinting))
}

// sendNext writes at most one line of the job: a pending resend, a
// priority command, or the line under the cursor
func (c *Controller) sendNext(l *link) {
	if !c.waitClear(l, true) || !c.online.Load() {
		return
	}
	c.consumeClear(l)

	if rf := c.resendFrom.Load(); rf >= 0 {
		c.mu.Lock()
		cmd, kept := c.sentlines[int(rf)]
		inRange := rf < int64(c.lineno)
		c.mu.Unlock()

		next := int64(-1)
		if kept && inRange {
			next = rf + 1
		}
		if !c.resendFrom.CompareAndSwap(rf, next) {
			// the reader asked for another line meanwhile
			c.clear.Store(true)
			return
		}
		if next >= 0 {
			c.resend(l, cmd)
			return
		}
		if inRange {
			c.log.Warn().Int64("line", rf).Msg("resend requested for a line no longer kept")
		}
	}

	select {
	case cmd := <-c.priqueue:
		c.send(l, cmd, 0, false)
		return
	default:
	}

	c.mu.Lock()
	doc, idx := c.mainqueue, c.cursor
	c.mu.Unlock()
	if doc == nil || !doc.HasIndex(idx) {
		c.finishRun(l)
		return
	}

	layer, _ := doc.Idxs(idx)
	if idx > 0 {
		if prev, _ := doc.Idxs(idx - 1); prev != layer {
			c.events.layerChange(layer)
		}
	}

	gline := c.events.prePrintSend(doc.LineAt(idx), doc.LineAt(idx+1), idx, doc)
	if gline == nil {
		c.advance(idx)
		c.clear.Store(true)
		return
	}

	if gcode.IsHostCommand(gline.Raw) {
		c.advance(idx)
		c.clear.Store(true)
		c.hostCommand(gline.Raw)
		return
	}

	tline := gcode.StripComment(gline.Raw)
	if tline == "" {
		c.advance(idx)
		c.clear.Store(true)
		return
	}

	c.mu.Lock()
	n := c.lineno
	c.lineno++
	c.mu.Unlock()

	c.send(l, tline, n, true)
	c.events.printSend(gline)
	c.advance(idx)
}

// advance moves the cursor past idx unless the job was replaced
func (c *Controller) advance(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor == idx {
		c.cursor = idx + 1
	}
}

// finishRun ends a job whose cursor ran past the last line
func (c *Controller) finishRun(l *link) {
	if !c.jobEvent(jobEvtFinish) {
		c.clear.Store(true)
		return
	}
	c.mu.Lock()
	c.cursor = 0
	c.lineno = 0
	c.interrupted = false
	jobID := c.jobID
	c.mu.Unlock()

	c.log.Info().Str("job", jobID).Msg("print finished")
	c.send(l, lineNumberReset, -1, true)
}

func (c *Controller) hostCommand(raw string) {
	name, args := gcode.HostCommand(raw)

	c.hostMu.RLock()
	fn := c.hostCommands[name]
	c.hostMu.RUnlock()

	c.log.Debug().Str("name", name).Str("args", args).Bool("known", fn != nil).Msg("host command")
	if fn != nil {
		c.events.safe("hostcommand", func() { fn(args) })
	}
	c.events.hostCommand(strings.TrimSpace(raw))
}

// send frames cmd when the link needs it, runs it through the analyzer and
// writes it. Framed lines other than M110 are kept for resends.
func (c *Controller) send(l *link, cmd string, lineno int, frame bool) {
	if frame && !l.tr.HasFlowControl() {
		cmd = Frame(lineno, cmd)
		if !strings.Contains(cmd, "M110") {
			c.mu.Lock()
			c.sentlines[lineno] = cmd
			c.mu.Unlock()
		}
	}

	c.analyzerMu.Lock()
	gline := c.analyzer.Append(cmd)
	c.analyzerMu.Unlock()

	c.events.send(cmd, gline)
	c.write(l, cmd)
}

// resend writes a kept frame again. The analyzer has already seen it.
func (c *Controller) resend(l *link, frame string) {
	c.log.Debug().Str("frame", frame).Msg("resending")
	c.events.send(frame, gcode.Parse(frame))
	c.write(l, frame)
}

// write puts one line on the wire and tracks consecutive failures
func (c *Controller) write(l *link, cmd string) {
	if c.cfg.Loud {
		c.log.Info().Str("port", l.port).Msg("SENT: " + cmd)
	} else {
		c.log.Debug().Str("port", l.port).Str("line", cmd).Msg("sent")
	}

	if err := l.tr.Write([]byte(cmd + "\n")); err != nil {
		c.writeFailures.Add(1)
		c.stats.update(func(s *Statistics) { s.WriteFailures++ })
		c.fail(transport.ErrTransport, fmt.Sprintf("Can't write to printer (disconnected?): %v", err))
		return
	}
	c.writeFailures.Store(0)
	c.stats.update(func(s *Statistics) { s.LinesSent++ })
}
