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

package gptp

import "time"

// Domain holds one synchronization domain's runtime state: its configured
// SyncMachines plus the bookkeeping the Timer and dispatcher need (startup
// state, last-signaling-scan time, GM-stall detection).
type Domain struct {
	Cfg     DomainConfig
	Index   uint8
	Machines []*SyncMachine

	// SlaveMachine is the index into Machines of the domain's single
	// slave SyncMachine; -1 for a GM domain.
	SlaveMachine int

	startedAt       time.Time
	inStartup       bool
	lastSignalScan  time.Time
	lastValidSyncAt time.Time

	gmStallLogged bool
}

// NewDomain builds the runtime Domain for cfg, wiring one SyncMachine per
// configured machine.
func NewDomain(cfg DomainConfig, index uint8, now time.Time) *Domain {
	d := &Domain{
		Cfg:          cfg,
		Index:        index,
		SlaveMachine: -1,
		startedAt:    now,
		inStartup:    !cfg.IsGM,
		lastValidSyncAt: now,
	}
	for i, mc := range cfg.Machines {
		sm := NewSyncMachine(mc, index)
		d.Machines = append(d.Machines, sm)
		if !mc.IsMaster {
			d.SlaveMachine = i
		}
	}
	return d
}

// Slave returns the domain's single slave SyncMachine, or nil for a GM
// domain.
func (d *Domain) Slave() *SyncMachine {
	if d.SlaveMachine < 0 {
		return nil
	}
	return d.Machines[d.SlaveMachine]
}

// StartupExpired reports whether the domain's startup-timeout has elapsed
// without a valid Sync ever being received.
func (d *Domain) StartupExpired(now time.Time) bool {
	return d.inStartup && now.Sub(d.startedAt) >= time.Duration(d.Cfg.StartupTimeoutS)*time.Second
}

// MinOperationalInterval returns the minimum configured operational log
// interval across the domain's master machines, for Signaling's
// "configured operational interval" comparison.
func (d *Domain) MinOperationalInterval() int8 {
	min := LogIntervalMax
	found := false
	for _, m := range d.Machines {
		if m.Cfg.IsMaster {
			if !found || m.Cfg.OperationalLogInterval < min {
				min = m.Cfg.OperationalLogInterval
				found = true
			}
		}
	}
	return min
}

// CheckSyncReceiptTimeout implements the 4.6 "sync-receipt timeout per
// non-GM domain" check. onLoss is invoked (once) on expiry.
func (d *Domain) CheckSyncReceiptTimeout(now time.Time, onLoss func()) {
	if d.Cfg.IsGM {
		return
	}
	slave := d.Slave()
	if slave == nil || !slave.lastIngressValid {
		return
	}
	interval := LogIntervalToDurationNS(slave.logInterval)
	timeout := interval * int64(d.Cfg.SyncReceiptTimeoutCnt)
	if now.Sub(d.lastValidSyncAt) >= time.Duration(timeout)*time.Nanosecond {
		onLoss()
		d.lastValidSyncAt = now
	}
}
