// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printcore

import (
	"context"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

// Job states
const (
	JobIdle     = "idle"
	JobPrinting = "printing"
	JobPaused   = "paused"
)

const (
	jobEvtStart  = "start"
	jobEvtPause  = "pause"
	jobEvtResume = "resume"
	jobEvtCancel = "cancel"
	jobEvtFinish = "finish"
	jobEvtAbort  = "abort"
)

/*
            start               pause
    idle ----------> printing ---------> paused
     ^  ^               |  ^               |  |
     |  |    finish     |  |    resume     |  |
     |  +---------------+  +---------------+  |
     |                cancel                  |
     +----------------------------------------+

  abort drops printing or paused straight to idle when the link is lost.
*/

var jobFsmEvts = []fsm.EventDesc{
	{Name: jobEvtStart, Src: []string{JobIdle}, Dst: JobPrinting},
	{Name: jobEvtPause, Src: []string{JobPrinting}, Dst: JobPaused},
	{Name: jobEvtResume, Src: []string{JobPaused}, Dst: JobPrinting},
	{Name: jobEvtCancel, Src: []string{JobPaused}, Dst: JobIdle},
	{Name: jobEvtFinish, Src: []string{JobPrinting}, Dst: JobIdle},
	{Name: jobEvtAbort, Src: []string{JobPrinting, JobPaused}, Dst: JobIdle},
}

func makeJobFSM(lg zerolog.Logger) *fsm.FSM {
	return fsm.NewFSM(
		JobIdle,
		jobFsmEvts,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				lg.Debug().Str("event", e.Event).Str("from", e.Src).Str("to", e.Dst).Msg("job state")
			},
		},
	)
}

// jobEvent fires a job transition and reports whether it happened
func (c *Controller) jobEvent(name string) bool {
	if err := c.job.Event(context.Background(), name); err != nil {
		c.log.Debug().Err(err).Str("event", name).Str("state", c.job.Current()).Msg("job transition refused")
		return false
	}
	return true
}
