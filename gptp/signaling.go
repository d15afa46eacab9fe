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

import (
	"time"

	"github.com/go-gptp/gptpcore/protocol"
)

// clampSignalingInterval enforces the guard range plus special values from
// 4.4: [LogIntervalMin, LogIntervalMax] plus 127=stop, 126=reset, -128=no
// change.
func clampSignalingInterval(requested protocol.LogInterval) protocol.LogInterval {
	switch requested {
	case protocol.LogIntervalStop, protocol.LogIntervalReset, protocol.LogIntervalDontChange:
		return requested
	}
	if int8(requested) < LogIntervalMin {
		return protocol.LogInterval(LogIntervalMin)
	}
	if int8(requested) > LogIntervalMax {
		return protocol.LogInterval(LogIntervalMax)
	}
	return requested
}

// TickSignaling runs one periodic (~1.5s) Signaling scan for domain: if
// the minimum configured operational interval across the domain's master
// ports differs from the slave's current ingress interval, it builds a
// Message-Interval-Request and hands it to send.
func TickSignaling(d *Domain, now time.Time, selfIdentity protocol.PortIdentity, allocSequence func() uint16,
	send func(sig *protocol.Signaling) (uint8, error), errlog *ErrorLog) {
	if d.Cfg.IsGM {
		return
	}
	if now.Sub(d.lastSignalScan) < SignalingIntervalNS*time.Nanosecond {
		return
	}
	d.lastSignalScan = now

	slave := d.Slave()
	if slave == nil {
		return
	}
	wanted := d.MinOperationalInterval()
	if wanted == slave.logInterval {
		return
	}

	sig := &protocol.Signaling{}
	sig.SequenceID = allocSequence()
	sig.SdoIDAndMsgType = protocol.NewSdoIDAndMsgType(protocol.MessageSignaling, protocol.TransportSpecificGPTP)
	sig.Version = protocol.Version
	sig.ControlField = protocol.ControlOther
	sig.LogMessageInterval = protocol.LogIntervalDontChange
	sig.SourcePortIdentity = selfIdentity
	sig.TargetPortIdentity = protocol.PortIdentity{
		ClockIdentity: 0xFFFFFFFFFFFFFFFF,
		PortNumber:    0xFFFF,
	}
	sig.IntervalRequest = *protocol.NewMessageIntervalRequest(protocol.LogInterval(wanted))

	if _, err := send(sig); err != nil {
		errlog.Register(ErrFunction, slave.Cfg.Port, d.Index, 0, now)
	}
}

// OnMessageIntervalRequestReceived is invoked on a master SyncMachine when
// its domain receives a Message-Interval-Request; per 4.4, masters update
// their log_sync_interval to the (clamped) requested value. Slaves never
// accept interval changes from a signaling message, so callers must only
// invoke this for master machines.
func (m *SyncMachine) OnMessageIntervalRequestReceived(req *protocol.MessageIntervalRequestTLV) {
	if !m.Cfg.IsMaster {
		return
	}
	requested := clampSignalingInterval(req.TimeSyncIntervalLog)
	switch requested {
	case protocol.LogIntervalDontChange:
		return
	case protocol.LogIntervalStop:
		m.MasterSt = MasterNotEnabled
		return
	case protocol.LogIntervalReset:
		m.logInterval = m.Cfg.InitialLogInterval
	default:
		m.logInterval = int8(requested)
	}
	if m.MasterSt == MasterNotEnabled {
		m.MasterSt = MasterIniting
	}
}
