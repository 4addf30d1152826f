// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package actuator

import (
	"fmt"
	"math"
	"sort"
)

// TimingID names one entry of the timing cache. The value doubles as the bit
// position of the entry in the missing-timings mask reported by the board.
type TimingID uint8

// Timing cache entries in missing-mask bit order
const (
	TimingClawOpen TimingID = iota
	TimingClawClose
	TimingDropperActive
	TimingTorpedo1Coil1On
	TimingTorpedo1Coil1To2Delay
	TimingTorpedo1Coil2On
	TimingTorpedo1Coil2To3Delay
	TimingTorpedo1Coil3On
	TimingTorpedo2Coil1On
	TimingTorpedo2Coil1To2Delay
	TimingTorpedo2Coil2On
	TimingTorpedo2Coil2To3Delay
	TimingTorpedo2Coil3On

	NumTimings = iota
)

// TimingMask is a set of timing entries, one bit per TimingID.
type TimingMask uint16

// AllTimings has every timing entry set. A freshly reset board reports it.
const AllTimings TimingMask = 1<<NumTimings - 1

// Mask returns the single-entry mask of t.
func (t TimingID) Mask() TimingMask {
	return 1 << t
}

func (t TimingID) String() string {
	switch {
	case t == TimingClawOpen:
		return "claw-open"
	case t == TimingClawClose:
		return "claw-close"
	case t == TimingDropperActive:
		return "dropper-active"
	case t >= TimingTorpedo1Coil1On && t < NumTimings:
		n, kind := torpedoTiming(t)
		return fmt.Sprintf("torpedo%d-%s", n, kind)
	default:
		return fmt.Sprintf("timing(%d)", uint8(t))
	}
}

// torpedoTiming splits a coil timing entry into torpedo number and kind.
func torpedoTiming(t TimingID) (torpedo uint8, kind TorpedoTiming) {
	i := uint8(t - TimingTorpedo1Coil1On)
	return i/NumTorpedoTimings + 1, TorpedoTiming(i % NumTorpedoTimings)
}

// torpedoTimingID is the inverse of torpedoTiming.
func torpedoTimingID(torpedo uint8, kind TorpedoTiming) TimingID {
	return TimingTorpedo1Coil1On + TimingID((torpedo-1)*NumTorpedoTimings) + TimingID(kind)
}

func (k TorpedoTiming) String() string {
	switch k {
	case TorpedoCoil1On:
		return "coil1-on"
	case TorpedoCoil1To2Delay:
		return "coil1-2-delay"
	case TorpedoCoil2On:
		return "coil2-on"
	case TorpedoCoil2To3Delay:
		return "coil2-3-delay"
	case TorpedoCoil3On:
		return "coil3-on"
	default:
		return fmt.Sprintf("coil-timing(%d)", uint8(k))
	}
}

// String lists the entries of m.
func (m TimingMask) String() string {
	if m == 0 {
		return "none"
	}
	s := ""
	for t := TimingID(0); t < NumTimings; t++ {
		if m&t.Mask() == 0 {
			continue
		}
		if s != "" {
			s += ","
		}
		s += t.String()
	}
	return s
}

type timingEntry struct {
	gen   uint32 // bumped on every configuration change
	value uint16
	set   bool // configured locally
}

// timingCategory is a group of entries written by a single set-timing command.
type timingCategory struct {
	cmd     CommandID
	ids     []TimingID
	mask    TimingMask
	torpedo uint8
	kind    TorpedoTiming
}

// timingCategories in resolution priority order: claw, dropper, torpedo 1
// coils, torpedo 2 coils.
var timingCategories = buildTimingCategories()

func buildTimingCategories() []timingCategory {
	cats := []timingCategory{
		{cmd: CmdSetClawTiming, ids: []TimingID{TimingClawOpen, TimingClawClose}},
		{cmd: CmdSetDropperTiming, ids: []TimingID{TimingDropperActive}},
	}
	for torpedo := uint8(1); torpedo <= 2; torpedo++ {
		for kind := TorpedoTiming(0); kind < NumTorpedoTimings; kind++ {
			cats = append(cats, timingCategory{
				cmd:     CmdSetTorpedoTiming,
				ids:     []TimingID{torpedoTimingID(torpedo, kind)},
				torpedo: torpedo,
				kind:    kind,
			})
		}
	}
	for i := range cats {
		for _, id := range cats[i].ids {
			cats[i].mask |= id.Mask()
		}
	}
	return cats
}

// timingParams maps configuration parameter names to the entries they set.
// claw_timing_ms sets both claw directions at once.
var timingParams = buildTimingParams()

func buildTimingParams() map[string][]TimingID {
	params := map[string][]TimingID{
		"claw_timing_ms":           {TimingClawOpen, TimingClawClose},
		"claw_open_timing_ms":      {TimingClawOpen},
		"claw_close_timing_ms":     {TimingClawClose},
		"dropper_active_timing_ms": {TimingDropperActive},
	}
	suffix := [NumTorpedoTimings]string{
		TorpedoCoil1On:       "coil1_on",
		TorpedoCoil1To2Delay: "coil1_2_delay",
		TorpedoCoil2On:       "coil2_on",
		TorpedoCoil2To3Delay: "coil2_3_delay",
		TorpedoCoil3On:       "coil3_on",
	}
	for torpedo := uint8(1); torpedo <= 2; torpedo++ {
		for kind := TorpedoTiming(0); kind < NumTorpedoTimings; kind++ {
			name := fmt.Sprintf("torpedo%d_%s_timing_us", torpedo, suffix[kind])
			params[name] = []TimingID{torpedoTimingID(torpedo, kind)}
		}
	}
	return params
}

// TimingParameters returns the accepted parameter names in sorted order.
func TimingParameters() []string {
	names := make([]string, 0, len(timingParams))
	for name := range timingParams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultTimings returns the board's stock timing configuration.
func DefaultTimings() map[string]int64 {
	return map[string]int64{
		"claw_timing_ms":                   4500,
		"dropper_active_timing_ms":         250,
		"torpedo1_coil1_on_timing_us":      23000,
		"torpedo1_coil1_2_delay_timing_us": 250,
		"torpedo1_coil2_on_timing_us":      15000,
		"torpedo1_coil2_3_delay_timing_us": 250,
		"torpedo1_coil3_on_timing_us":      13000,
		"torpedo2_coil1_on_timing_us":      23000,
		"torpedo2_coil1_2_delay_timing_us": 250,
		"torpedo2_coil2_on_timing_us":      15000,
		"torpedo2_coil2_3_delay_timing_us": 250,
		"torpedo2_coil3_on_timing_us":      13000,
	}
}

// ValidateTiming checks a named timing value without applying it.
func ValidateTiming(name string, value int64) error {
	if _, ok := timingParams[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTiming, name)
	}
	if value <= 0 || value > math.MaxUint16 {
		return fmt.Errorf("%w: %s=%d must be in 1..%d", ErrInvalidTiming, name, value, math.MaxUint16)
	}
	return nil
}

// SetTiming stores a configuration change, marks the affected entries missing
// on the board and starts resynchronization. Invalid values leave the cache
// and the missing mask untouched.
func (d *Device) SetTiming(name string, value int64) error {
	if err := ValidateTiming(name, value); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceClosed
	}
	for _, id := range timingParams[name] {
		e := &d.timings[id]
		e.value = uint16(value)
		e.set = true
		e.gen++
		d.missing |= id.Mask()
	}
	Debugf("timing %s=%d, missing %s", name, value, d.missing)
	d.updateMissingTimingsLocked()
	return nil
}

// ResyncTimings runs one resolver pass if no timing command is in flight and
// reports whether a command was sent.
func (d *Device) ResyncTimings() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updateMissingTimingsLocked()
}

// MissingTimings returns the entries not yet confirmed by the board.
func (d *Device) MissingTimings() TimingMask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.missing
}

// Timing returns the cached value of id and whether it was configured.
func (d *Device) Timing(id TimingID) (uint16, bool) {
	if id >= NumTimings {
		return 0, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timings[id].value, d.timings[id].set
}

func (d *Device) updateMissingTimingsLocked() bool {
	if d.closed || d.timingCmd.inUse {
		return false
	}
	d.timingCmd.inUse = true
	if !d.resolveTimingsLocked() {
		d.timingCmd.inUse = false
		return false
	}
	return true
}

func (d *Device) categoryConfiguredLocked(c *timingCategory) bool {
	for _, id := range c.ids {
		if !d.timings[id].set {
			return false
		}
	}
	return true
}

// resolveTimingsLocked sends one set-timing command for the highest priority
// category that is both missing and configured. The timing slot must already
// be claimed by the caller.
func (d *Device) resolveTimingsLocked() bool {
	s := &d.timingCmd
	for i := range timingCategories {
		c := &timingCategories[i]
		if d.missing&c.mask == 0 || !d.categoryConfiguredLocked(c) {
			continue
		}

		d.populateLocked(s, c.cmd, handlerTiming, true)
		p := s.payload()
		switch c.cmd {
		case CmdSetClawTiming:
			putClawTiming(p, d.timings[TimingClawOpen].value, d.timings[TimingClawClose].value)
		case CmdSetDropperTiming:
			putDropperTiming(p, d.timings[TimingDropperActive].value)
		default:
			putTorpedoTiming(p, c.torpedo, c.kind, d.timings[c.ids[0]].value)
		}
		s.category = i
		for j, id := range c.ids {
			s.sentGen[j] = d.timings[id].gen
		}

		Debugf("resync %s (missing %s)", c.mask, d.missing)
		if err := d.sendLocked(s); err != nil {
			return false
		}
		return true
	}
	return false
}

// handleTimingLocked clears the bits confirmed by the board and chains into
// the next category. It returns true when the slot was resent.
func (d *Device) handleTimingLocked(s *slot) bool {
	if res := Result(s.response[0]); res != ResultSuccessful {
		logErrorf("timing resync: %v", &CommandError{Command: s.cmd, Result: res})
		d.safety.RaiseFault(FaultActuatorFail)
		return false
	}

	c := &timingCategories[s.category]
	for j, id := range c.ids {
		// Entries reconfigured while in flight stay missing
		if d.timings[id].gen == s.sentGen[j] {
			d.missing &^= id.Mask()
		}
	}
	return d.resolveTimingsLocked()
}
