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

// Package env bundles the external collaborators an Engine needs
// (framing transmit, clock steering, NVM persistence, link state) into
// one capability interface, so that env/simenv and env/linuxenv can
// each provide a single concrete type rather than a scattering of
// closures. Callbacks adapts any Environment into the gptp.Callbacks
// the core dispatcher actually consumes.
package env

import (
	"net"
	"time"

	"github.com/go-gptp/gptpcore/gptp"
)

// Environment is the capability surface a transport backend provides.
// None of its methods are called concurrently: the owning Engine invokes
// them only from inside TimerPeriodic, MsgReceive or TimeStampHandler.
type Environment interface {
	// Transmit hands a fully framed Ethernet payload to the port's
	// driver, returning the buffer index later reported to
	// Engine.TimeStampHandler.
	Transmit(port uint8, frame []byte) (bufferIndex int, err error)
	// SetCorrection steers the local clock.
	SetCorrection(freqPPB int32, stepNs int64) error
	// NvmRead/NvmWrite persist per-port neighbor propagation delay and
	// rate ratio across restarts.
	NvmRead(port uint8, kind string) (float64, error)
	NvmWrite(port uint8, kind string, value float64)
	// LinkUp reports the current carrier state of port.
	LinkUp(port uint8) bool
	// PhyAddr returns port's configured MAC address.
	PhyAddr(port uint8) net.HardwareAddr
	// Now returns the environment's notion of current time, used for
	// TimerPeriodic's tick argument by callers that don't track it
	// themselves.
	Now() time.Time
}

// Notifier is an optional Environment extension: a backend that wants to
// observe the error log and sync-lock transitions implements it.
type Notifier interface {
	ErrNotify(gptp.ErrorLogEntry)
	SyncNotify(domainNumber uint8, locked bool)
}

// DomainSelector is an optional Environment extension: a backend that
// wants to choose which domain drives the PI controller implements it.
type DomainSelector interface {
	DomainSelect(domains []gptp.DomainConfig) int
}

// Callbacks adapts e into the gptp.Callbacks struct Engine.Init expects,
// wiring the optional Notifier/DomainSelector extensions when e
// implements them.
func Callbacks(e Environment) gptp.Callbacks {
	cb := gptp.Callbacks{
		Transmit:      e.Transmit,
		SetCorrection: e.SetCorrection,
		NvmRead:       e.NvmRead,
		NvmWrite:      e.NvmWrite,
	}
	if n, ok := e.(Notifier); ok {
		cb.ErrNotify = n.ErrNotify
		cb.SyncNotify = n.SyncNotify
	}
	if d, ok := e.(DomainSelector); ok {
		cb.DomainSelect = d.DomainSelect
	}
	return cb
}
