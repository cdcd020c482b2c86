//----------------------------------------------------------------------
// This file is part of mdnsboot.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// mdnsboot is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// mdnsboot is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package mdnsboot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// status codes (number of LED blinks)
const (
	StatUNK      = iota // unknown status (init)
	StatOK              // processing active
	StatDEV             // device failure
	StatNS              // namespace construction failed
	StatSRV             // can't serve namespace
	StatSECURITY        // unsupported security mode
	StatJOIN            // can't join network (retries exhausted)
	StatNOADDR          // no address after join
	StatBIND            // mDNS socket bind failed
	StatMDNS            // mDNS responder terminated
	StatLISTEN          // failed to create listener
	StatPORT            // invalid port specified
	StatEXCP            // exception (panic) occured
)

// StatusOf maps a bootstrap error to a status code.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return StatOK
	case errors.Is(err, context.Canceled):
		return StatUNK
	case errors.Is(err, ErrUnsupportedSecurity):
		return StatSECURITY
	case errors.Is(err, ErrRetriesExhausted), errors.Is(err, ErrJoinRejected):
		return StatJOIN
	case errors.Is(err, ErrAddressConfigMissing):
		return StatNOADDR
	case errors.Is(err, ErrSocketBindFailed):
		return StatBIND
	case errors.Is(err, ErrInvalidService):
		return StatNS
	}
	return StatMDNS
}

// StatusName returns a short name for a status code.
func StatusName(stat int) string {
	names := []string{
		"unknown", "ok", "device", "namespace", "serve", "security", "join",
		"noaddr", "bind", "mdns", "listen", "port", "exception",
	}
	if stat < 0 || stat >= len(names) {
		return fmt.Sprintf("status(%d)", stat)
	}
	return names[stat]
}

// LED timing: a code is shown as one long flash per five and one
// short flash per remaining unit, followed by a pause.
const (
	blinkPause = 5 * time.Second
	longFlash  = time.Second
	longGap    = 300 * time.Millisecond
	shortFlash = 150 * time.Millisecond
	shortGap   = 150 * time.Millisecond
)

// flash sequence for a status code
func blinkPattern(code int) (flashes []time.Duration) {
	for ; code > 5; code -= 5 {
		flashes = append(flashes, longFlash)
	}
	for ; code > 0; code-- {
		flashes = append(flashes, shortFlash)
	}
	return
}

// Status shows the bootstrap state on the device LED. A nil Status is
// valid and shows nothing.
type Status struct {
	led    func(on bool) // LED control
	curr   atomic.Int32  // current code
	repeat atomic.Int32  // remaining repeats (0: until changed)
}

// NewStatus starts the LED display for a device.
func NewStatus(dev Device) *Status {
	state := &Status{led: dev.LED}
	state.curr.Store(StatOK)
	go state.display()
	return state
}

// show the current code forever
func (state *Status) display() {
	for {
		time.Sleep(blinkPause)
		for _, on := range blinkPattern(int(state.curr.Load())) {
			off := shortGap
			if on == longFlash {
				off = longGap
			}
			state.led(true)
			time.Sleep(on)
			state.led(false)
			time.Sleep(off)
		}
		if state.repeat.Add(-1) == 0 {
			state.curr.Store(StatOK)
		}
	}
}

// Set status and repeat <num> times (0: until changed).
func (state *Status) Set(flag, num int) {
	if state != nil {
		state.curr.Store(int32(flag))
		state.repeat.Store(int32(num))
	}
}

// Get current state and repeat counter
func (state *Status) Get() (int, int) {
	if state == nil {
		return StatUNK, 0
	}
	return int(state.curr.Load()), int(state.repeat.Load())
}

// Trap a panic at the end of main and keep the final status visible
// for a while (deferred).
func (state *Status) Trap(logger *slog.Logger, wait time.Duration) {
	stat, _ := state.Get()
	if r := recover(); r != nil {
		logOrDiscard(logger).Error("exception", slog.String("panic", fmt.Sprint(r)))
		if stat == StatOK {
			state.Set(StatEXCP, 0)
		}
	} else if stat == StatOK {
		state.Set(StatUNK, 0)
	}
	time.Sleep(wait)
}
