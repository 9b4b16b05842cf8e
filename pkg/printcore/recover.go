// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printcore

import (
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/gcodehost/pkg/gcode"
)

// RecoverState is where an interrupted job stopped
type RecoverState struct {
	JobID   string    `cbor:"1,keyasint"`
	File    string    `cbor:"2,keyasint,omitempty"`
	Cursor  int       `cbor:"3,keyasint"`
	Total   int       `cbor:"4,keyasint"`
	Layer   int       `cbor:"5,keyasint"`
	LayerZ  float64   `cbor:"6,keyasint"`
	SavedAt time.Time `cbor:"7,keyasint"`
}

// MarshalBinary encodes the state as CBOR
func (s RecoverState) MarshalBinary() ([]byte, error) {
	return cbor.Marshal(plainState(s))
}

// plainState drops the BinaryMarshaler methods so cbor encodes the fields
type plainState RecoverState

// UnmarshalBinary decodes a CBOR encoded state
func (s *RecoverState) UnmarshalBinary(data []byte) error {
	var p plainState
	if err := cbor.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: recover state: %v", ErrDecode, err)
	}
	*s = RecoverState(p)
	return nil
}

// WriteFile stores the state at path
func (s RecoverState) WriteFile(path string) error {
	data, err := s.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode recover state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write recover state: %w", err)
	}
	return nil
}

// ReadRecoverState loads a state written by WriteFile
func ReadRecoverState(path string) (RecoverState, error) {
	var s RecoverState
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read recover state: %w", err)
	}
	err = s.UnmarshalBinary(data)
	return s, err
}

func (s RecoverState) String() string {
	return fmt.Sprintf("job %s: line %d/%d, layer %d at Z%s", s.JobID, s.Cursor, s.Total, s.Layer, num(s.LayerZ))
}

// RecoverState describes the loaded job. ok is false when there is none.
func (c *Controller) RecoverState() (s RecoverState, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mainqueue == nil {
		return s, false
	}
	return c.recoverStateLocked(), true
}

func (c *Controller) recoverStateLocked() RecoverState {
	doc := c.mainqueue
	s := RecoverState{
		JobID:   c.jobID,
		Cursor:  c.cursor,
		Total:   doc.Len(),
		SavedAt: time.Now(),
	}
	if i := min(c.cursor, s.Total-1); i >= 0 {
		s.Layer, _ = doc.Idxs(i)
		s.LayerZ = doc.LayerZ(s.Layer)
	}
	return s
}

// Interrupted reports whether a job was cut short by a disconnect
func (c *Controller) Interrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupted
}

// Recover restarts the job interrupted by the last disconnect. The
// controller must be online again.
func (c *Controller) Recover() bool {
	c.mu.Lock()
	if !c.interrupted || c.mainqueue == nil {
		c.mu.Unlock()
		c.fail(ErrState, "No interrupted print to recover.")
		return false
	}
	doc := c.mainqueue
	s := c.recoverStateLocked()
	c.mu.Unlock()

	return c.RecoverFrom(doc, s)
}

// RecoverFrom sets Z to the saved layer height, homes X and Y, and
// restarts doc at the saved cursor
func (c *Controller) RecoverFrom(doc *gcode.Document, s RecoverState) bool {
	if doc == nil || !doc.HasIndex(s.Cursor) {
		c.fail(ErrState, fmt.Sprintf("Cannot recover at line %d.", s.Cursor))
		return false
	}
	if !c.job.Is(JobIdle) {
		c.fail(ErrState, "Already printing.")
		return false
	}
	if !c.SendNow("G92 Z"+num(s.LayerZ)) || !c.SendNow("G28 X Y") {
		return false
	}
	c.log.Info().Str("job", s.JobID).Int("line", s.Cursor).Int("layer", s.Layer).Msg("recovering print")
	return c.startPrint(doc, s.Cursor, s.JobID)
}
