/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package simenv is an in-memory env.Environment: a simulated NIC and
// PHC pair wired back-to-back, with no real sockets or syscalls. It
// backs cmd/gptpd's simulated mode (sim: true in its config) and exercises the full env.Environment
// contract in tests without a network namespace.
package simenv

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-gptp/gptpcore/ptptime"
)

// Clock is a simulated hardware clock: a wall-clock origin plus an
// accumulated frequency and phase correction, advanced explicitly by
// Advance rather than by the real wall clock.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	freqPPB int32
	stepLog []int64
}

// NewClock builds a Clock starting at origin.
func NewClock(origin time.Time) *Clock {
	return &Clock{now: origin}
}

// Now returns the simulated current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the simulated clock forward by d, scaled by the
// accumulated frequency correction (1 + freqPPB*1e-9).
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	scaled := float64(d) * (1.0 + float64(c.freqPPB)*1e-9)
	c.now = c.now.Add(time.Duration(scaled))
}

// SetCorrection applies freqPPB going forward and steps the clock once
// by stepNs, matching the gptp.Callbacks.SetCorrection contract.
func (c *Clock) SetCorrection(freqPPB int32, stepNs int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freqPPB = freqPPB
	if stepNs != 0 {
		c.now = c.now.Add(time.Duration(stepNs))
		c.stepLog = append(c.stepLog, stepNs)
	}
	return nil
}

// FreqPPB returns the last applied frequency correction, for assertions.
func (c *Clock) FreqPPB() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freqPPB
}

// txRecord is a transmitted frame awaiting its simulated egress
// timestamp pickup via PopTXTimestamp.
type txRecord struct {
	frame    []byte
	egressAt time.Time
	popped   bool
}

// rxRecord is a frame delivered to this NIC by its peer, awaiting pickup
// via NextFrame.
type rxRecord struct {
	frame    []byte
	ingress  ptptime.Unsigned
	arrivalAt time.Time
}

// NIC is one simulated port: a MAC, link state, and a peer NIC wired
// back-to-back over Connect.
type NIC struct {
	mac    net.HardwareAddr
	linkUp bool
	clock  *Clock

	mu   sync.Mutex
	peer *NIC
	tx   []txRecord
	rx   []rxRecord
}

// NewNIC builds a NIC with the given MAC, link up, sharing clock for
// timestamping.
func NewNIC(mac net.HardwareAddr, clock *Clock) *NIC {
	return &NIC{mac: mac, linkUp: true, clock: clock}
}

// Connect wires a and b as a back-to-back link: frames transmitted on
// one arrive at once, stamped with the current simulated time, as
// received frames on the other.
func Connect(a, b *NIC) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

// SetLinkUp flips the simulated carrier state.
func (n *NIC) SetLinkUp(up bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.linkUp = up
}

// transmit records frame as sent and, if a peer is wired and the link is
// up on both ends, delivers it to the peer's receive queue stamped with
// the current simulated time.
func (n *NIC) transmit(frame []byte) (int, error) {
	n.mu.Lock()
	if !n.linkUp {
		n.mu.Unlock()
		return 0, fmt.Errorf("simenv: port link is down")
	}
	now := n.clock.Now()
	idx := len(n.tx)
	frameCopy := make([]byte, len(frame))
	copy(frameCopy, frame)
	n.tx = append(n.tx, txRecord{frame: frameCopy, egressAt: now})
	peer := n.peer
	n.mu.Unlock()

	if peer != nil {
		peer.mu.Lock()
		deliver := peer.linkUp
		if deliver {
			seconds := uint64(now.Unix())
			nanos := uint32(now.Nanosecond())
			peer.rx = append(peer.rx, rxRecord{
				frame:     frameCopy,
				ingress:   ptptime.Unsigned{Seconds: seconds, Nanoseconds: nanos},
				arrivalAt: now,
			})
		}
		peer.mu.Unlock()
	}
	return idx, nil
}

// PopTXTimestamp returns the simulated egress time for a previously
// transmitted buffer index, consuming it; a demo/test driver feeds this
// straight into Engine.TimeStampHandler.
func (n *NIC) PopTXTimestamp(bufferIndex int) (ptptime.Unsigned, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if bufferIndex < 0 || bufferIndex >= len(n.tx) || n.tx[bufferIndex].popped {
		return ptptime.Unsigned{}, false
	}
	n.tx[bufferIndex].popped = true
	t := n.tx[bufferIndex].egressAt
	return ptptime.Unsigned{Seconds: uint64(t.Unix()), Nanoseconds: uint32(t.Nanosecond())}, true
}

// NextFrame pops the oldest undelivered received frame, if any; a
// demo/test driver feeds this straight into Engine.MsgReceive.
func (n *NIC) NextFrame() (frame []byte, ingress ptptime.Unsigned, now time.Time, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.rx) == 0 {
		return nil, ptptime.Unsigned{}, time.Time{}, false
	}
	r := n.rx[0]
	n.rx = n.rx[1:]
	return r.frame, r.ingress, r.arrivalAt, true
}

// Environment is an env.Environment backed entirely by in-memory NICs and
// a shared simulated Clock, plus a trivial in-memory NVM store.
type Environment struct {
	Clock *Clock
	nics  []*NIC

	mu  sync.Mutex
	nvm map[string]float64
}

// New builds an Environment with one NIC per mac, sharing clock.
func New(clock *Clock, macs []net.HardwareAddr) *Environment {
	e := &Environment{Clock: clock, nvm: make(map[string]float64)}
	for _, mac := range macs {
		e.nics = append(e.nics, NewNIC(mac, clock))
	}
	return e
}

// NIC returns the simulated port at index, for test wiring (Connect,
// SetLinkUp, PopTXTimestamp, NextFrame).
func (e *Environment) NIC(port uint8) *NIC {
	return e.nics[port]
}

// Transmit implements env.Environment.
func (e *Environment) Transmit(port uint8, frame []byte) (int, error) {
	if int(port) >= len(e.nics) {
		return 0, fmt.Errorf("simenv: unknown port %d", port)
	}
	return e.nics[port].transmit(frame)
}

// SetCorrection implements env.Environment.
func (e *Environment) SetCorrection(freqPPB int32, stepNs int64) error {
	return e.Clock.SetCorrection(freqPPB, stepNs)
}

// NvmRead implements env.Environment.
func (e *Environment) NvmRead(port uint8, kind string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.nvm[fmt.Sprintf("%d/%s", port, kind)]
	if !ok {
		return 0, fmt.Errorf("simenv: no stored value for port %d kind %q", port, kind)
	}
	return v, nil
}

// NvmWrite implements env.Environment.
func (e *Environment) NvmWrite(port uint8, kind string, value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nvm[fmt.Sprintf("%d/%s", port, kind)] = value
}

// LinkUp implements env.Environment.
func (e *Environment) LinkUp(port uint8) bool {
	if int(port) >= len(e.nics) {
		return false
	}
	n := e.nics[port]
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.linkUp
}

// PhyAddr implements env.Environment.
func (e *Environment) PhyAddr(port uint8) net.HardwareAddr {
	if int(port) >= len(e.nics) {
		return nil
	}
	return e.nics[port].mac
}

// Now implements env.Environment.
func (e *Environment) Now() time.Time {
	return e.Clock.Now()
}
