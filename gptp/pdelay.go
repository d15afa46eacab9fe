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
	"math"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/go-gptp/gptpcore/protocol"
	"github.com/go-gptp/gptpcore/ptptime"
)

// InitiatorState is the Pdelay initiator's state machine.
type InitiatorState uint8

// Initiator states.
const (
	InitNotEnabled InitiatorState = iota
	InitInitialSendReq
	InitWaitingForResp
	InitWaitingForRespFup
	InitWaitingForInterval
	InitSendReq
	InitReset
)

// ResponderState is the Pdelay responder's state machine.
type ResponderState uint8

// Responder states.
const (
	RespNotEnabled ResponderState = iota
	RespInitWaiting
	RespSentRespWaitingTS
	RespWaitingForReq
)

// NvmWriteState tracks the asynchronous NVM persistence handshake for one
// stored value.
type NvmWriteState uint8

// NVM write states.
const (
	NvmStop NvmWriteState = iota
	NvmInit
	NvmFinish
)

// PdelayMachine measures link propagation delay and neighbor clock-rate
// drift for one port. Pdelay is domain-independent, so there is exactly
// one PdelayMachine per configured port.
type PdelayMachine struct {
	Port PortConfig

	InitState InitiatorState
	RespState ResponderState

	t1, t2, t3, t4 ptptime.Unsigned

	neighborPropDelay   expAverager
	neighborRateRatio   expAverager
	propDelayValid      bool
	rateRatioValid      bool

	lostResponses    uint8
	measurementsDone uint8
	operational      bool
	currentLogInterval int8

	reqSequence  uint16
	respSequence uint16

	peerPortIdentity protocol.PortIdentity
	peerMAC          net.HardwareAddr

	lastReqAt time.Time

	t1PerSeq map[uint16]ptptime.Unsigned
	t2PerSeq map[uint16]ptptime.Unsigned

	initTurnaroundStart time.Time
	respTurnaroundStart time.Time
	initWatchdogFired   bool
	respWatchdogFired   bool

	propDelayWriteState NvmWriteState
	rateRatioWriteState NvmWriteState

	avg AveragerConfig

	tx *TxMap
}

// NewPdelayMachine builds a PdelayMachine for port, loading persisted
// values via nvmRead (NvmRead(port, kind) per the external NVM contract).
func NewPdelayMachine(port PortConfig, avg AveragerConfig, nvmRead func(port uint8, kind string) (float64, error)) *PdelayMachine {
	m := &PdelayMachine{
		Port:               port,
		avg:                avg,
		currentLogInterval: port.InitialLogInterval,
		t1PerSeq:           make(map[uint16]ptptime.Unsigned),
		t2PerSeq:           make(map[uint16]ptptime.Unsigned),
		neighborPropDelay:  *newExpAverager(avg.PdelAvgWeight),
		neighborRateRatio:  *newExpAverager(avg.RratioAvgWeight),
		tx:                 NewTxMap(),
	}
	if port.PdelayInitiatorEnabled {
		m.InitState = InitInitialSendReq
	}
	m.RespState = RespWaitingForReq

	if nvmRead != nil {
		if pd, err := nvmRead(port.Index, "prop_delay"); err == nil {
			if math.IsNaN(pd) || pd < 0 || (port.PropDelayThreshNs > 0 && pd > float64(port.PropDelayThreshNs)) {
				pd = 0.0
			}
			m.neighborPropDelay.Update(pd)
			m.propDelayValid = true
		}
		if rr, err := nvmRead(port.Index, "rate_ratio"); err == nil {
			if math.IsNaN(rr) || rr < 1-avg.RratioMaxDev || rr > 1+avg.RratioMaxDev {
				rr = 1.0
			}
			m.neighborRateRatio.Update(rr)
			m.rateRatioValid = true
		}
	}
	return m
}

// NeighborPropDelay returns the currently filtered propagation delay, in
// nanoseconds.
func (m *PdelayMachine) NeighborPropDelay() float64 { return m.neighborPropDelay.Value() }

// NeighborRateRatio returns the currently filtered neighbor rate ratio
// (1.0 == no skew).
func (m *PdelayMachine) NeighborRateRatio() float64 {
	if !m.rateRatioValid {
		return 1.0
	}
	return m.neighborRateRatio.Value()
}

// resetAveragers clears both filters and the acceptance counters, as
// happens after too many lost responses.
func (m *PdelayMachine) resetAveragers() {
	m.neighborPropDelay.Reset()
	m.neighborRateRatio.Reset()
	m.propDelayValid = false
	m.rateRatioValid = false
	m.measurementsDone = 0
	m.operational = false
	m.currentLogInterval = m.Port.InitialLogInterval
}

// TickInitiator runs one periodic-tick iteration of the initiator
// protocol. send is invoked to actually transmit a built Pdelay_Req; it
// returns the allocated frame-id or an error. The first request goes out
// on the first tick; after that a request is sent only once at least one
// currentLogInterval period has elapsed since the last one, and, while a
// request is still outstanding, only once CheckInitiatorTurnaround has
// flagged it lost.
func (m *PdelayMachine) TickInitiator(now time.Time, selfIdentity protocol.PortIdentity, allocSequence func() uint16,
	send func(req *protocol.PDelayReq) (uint8, error), errlog *ErrorLog) {
	if !m.Port.PdelayInitiatorEnabled || m.InitState == InitNotEnabled {
		return
	}

	interval := time.Duration(ptptime.LogIntervalToNanoseconds(m.currentLogInterval))
	due := m.lastReqAt.IsZero() || now.Sub(m.lastReqAt) >= interval

	switch m.InitState {
	case InitWaitingForResp, InitWaitingForRespFup:
		if !m.initWatchdogFired || !due {
			return
		}
		m.lostResponses++
		errlog.Register(ErrPdelay, m.Port.Index, PortNone, m.reqSequence, now)
		if m.lostResponses > m.Port.AllowedLostResponses+1 {
			m.resetAveragers()
			log.WithField("port", m.Port.Index).Warning("gptp: too many lost pdelay responses")
		}
		m.InitState = InitSendReq
		fallthrough
	case InitInitialSendReq, InitSendReq, InitWaitingForInterval:
		if m.InitState != InitInitialSendReq && !due {
			return
		}
		seq := allocSequence()
		m.reqSequence = seq
		req := &protocol.PDelayReq{}
		req.SequenceID = seq
		req.DomainNumber = 0
		req.SdoIDAndMsgType = protocol.NewSdoIDAndMsgType(protocol.MessagePDelayReq, protocol.TransportSpecificGPTP)
		req.Version = protocol.Version
		req.LogMessageInterval = protocol.LogIntervalDontChange
		req.ControlField = protocol.ControlOther
		req.SourcePortIdentity = selfIdentity

		if _, err := send(req); err != nil {
			errlog.Register(ErrFunction, m.Port.Index, PortNone, seq, now)
			return
		}
		m.lastReqAt = now
		m.initTurnaroundStart = now
		m.initWatchdogFired = false
		m.InitState = InitWaitingForResp
	}
}

// CheckInitiatorTurnaround logs TooLongTurnInit once per outstanding
// measurement if the 10ms ceiling has elapsed.
func (m *PdelayMachine) CheckInitiatorTurnaround(now time.Time, errlog *ErrorLog) {
	if m.InitState != InitWaitingForResp && m.InitState != InitWaitingForRespFup {
		return
	}
	if m.initWatchdogFired {
		return
	}
	if now.Sub(m.initTurnaroundStart) > watchdogCeilingNS*time.Nanosecond {
		m.initWatchdogFired = true
		errlog.Register(ErrLimit, m.Port.Index, PortNone, m.reqSequence, now)
	}
}

// CheckResponderTurnaround logs TooLongTurnResp once per outstanding
// measurement if the 10ms ceiling has elapsed.
func (m *PdelayMachine) CheckResponderTurnaround(now time.Time, errlog *ErrorLog) {
	if m.RespState != RespSentRespWaitingTS {
		return
	}
	if m.respWatchdogFired {
		return
	}
	if now.Sub(m.respTurnaroundStart) > watchdogCeilingNS*time.Nanosecond {
		m.respWatchdogFired = true
		errlog.Register(ErrLimit, m.Port.Index, PortNone, m.respSequence, now)
	}
}

// OnPdelayRespReceived handles an ingress Pdelay_Resp matching this port's
// outstanding request.
func (m *PdelayMachine) OnPdelayRespReceived(resp *protocol.PDelayResp, ingress ptptime.Unsigned, selfIdentity protocol.PortIdentity, errlog *ErrorLog, now time.Time) {
	if m.InitState != InitWaitingForResp {
		return
	}
	if resp.SequenceID != m.reqSequence {
		errlog.Register(ErrMessage, m.Port.Index, PortNone, resp.SequenceID, now)
		return
	}
	if resp.RequestingPortIdentity != selfIdentity {
		errlog.Register(ErrMessage, m.Port.Index, PortNone, resp.SequenceID, now)
		return
	}
	m.t4 = ingress
	m.t2 = ptptime.Unsigned{
		Seconds:     resp.RequestReceiptTimestamp.Seconds.Uint64(),
		Nanoseconds: resp.RequestReceiptTimestamp.Nanoseconds,
	}
	m.InitState = InitWaitingForRespFup
}

// OnPdelayRespFollowUpReceived handles the matching Resp_Follow_Up,
// completing one four-timestamp measurement.
func (m *PdelayMachine) OnPdelayRespFollowUpReceived(fup *protocol.PDelayRespFollowUp, selfIdentity protocol.PortIdentity, errlog *ErrorLog, now time.Time, nvmWrite func(port uint8, kind string, value float64)) {
	if m.InitState != InitWaitingForRespFup {
		return
	}
	if fup.SequenceID != m.reqSequence || fup.RequestingPortIdentity != selfIdentity {
		errlog.Register(ErrMessage, m.Port.Index, PortNone, fup.SequenceID, now)
		return
	}
	m.t3 = ptptime.Unsigned{
		Seconds:     fup.ResponseOriginTimestamp.Seconds.Uint64(),
		Nanoseconds: fup.ResponseOriginTimestamp.Nanoseconds,
	}
	m.completeMeasurement(errlog, now, nvmWrite)
	m.InitState = InitWaitingForInterval
}

// OnInitiatorEgress records T1 once the Pdelay_Req transmission is
// confirmed.
func (m *PdelayMachine) OnInitiatorEgress(sequence uint16, egress ptptime.Unsigned) {
	if sequence != m.reqSequence {
		return
	}
	m.t1 = egress
	m.t1PerSeq[sequence] = egress
}

func (m *PdelayMachine) completeMeasurement(errlog *ErrorLog, now time.Time, nvmWrite func(port uint8, kind string, value float64)) {
	m.lostResponses = 0

	prevT1, haveT1 := m.t1PerSeq[m.reqSequence-1]
	prevT2, haveT2 := m.t2PerSeq[m.reqSequence-1]
	m.t1PerSeq[m.reqSequence] = m.t1
	m.t2PerSeq[m.reqSequence] = m.t2

	if haveT1 && haveT2 {
		t1Delta := ptptime.Sub(m.t1, prevT1).ToNanoseconds()
		t2Delta := ptptime.Sub(m.t2, prevT2).ToNanoseconds()
		if t1Delta != 0 {
			ratio := float64(t2Delta) / float64(t1Delta)
			if ratio >= 1-m.avg.RratioMaxDev && ratio <= 1+m.avg.RratioMaxDev {
				m.neighborRateRatio.Update(ratio)
				m.rateRatioValid = true
			} else {
				errlog.Register(ErrPdelay, m.Port.Index, PortNone, m.reqSequence, now)
			}
		}
	}

	rateRatio := m.NeighborRateRatio()
	t4t1 := ptptime.Sub(m.t4, m.t1).ToNanoseconds()
	t3t2 := ptptime.Sub(m.t3, m.t2).ToNanoseconds()
	delay := rateRatio * (float64(t4t1) - float64(t3t2)) / 2

	if m.Port.PropDelayThreshNs > 0 && math.Abs(delay) >= float64(m.Port.PropDelayThreshNs) {
		errlog.Register(ErrPdelay, m.Port.Index, PortNone, m.reqSequence, now)
	} else {
		m.neighborPropDelay.Update(delay)
		m.propDelayValid = true
	}

	m.measurementsDone++
	if !m.operational && m.measurementsDone >= m.Port.MeasurementsTillSlowdown {
		m.operational = true
		m.currentLogInterval = m.Port.OperationalLogInterval
		if nvmWrite != nil {
			nvmWrite(m.Port.Index, "prop_delay", m.neighborPropDelay.Value())
			nvmWrite(m.Port.Index, "rate_ratio", m.neighborRateRatio.Value())
		}
	}

	if len(m.t1PerSeq) > 4 {
		delete(m.t1PerSeq, m.reqSequence-4)
		delete(m.t2PerSeq, m.reqSequence-4)
	}
}

// OnPdelayReqReceived handles the responder side: an ingress Pdelay_Req.
// srcMAC is recorded so a unicast-configured responder can address its
// Pdelay_Resp directly at the peer instead of the PTP multicast address.
func (m *PdelayMachine) OnPdelayReqReceived(req *protocol.PDelayReq, ingress ptptime.Unsigned, srcMAC net.HardwareAddr, now time.Time) {
	m.peerPortIdentity = req.SourcePortIdentity
	m.peerMAC = srcMAC
	m.respSequence = req.SequenceID
	m.t2 = ingress
	m.RespState = RespSentRespWaitingTS
	m.respTurnaroundStart = now
	m.respWatchdogFired = false
}

// ResponseDestination returns the MAC a Pdelay_Resp/Resp_Follow_Up should be
// addressed to: the learned peer unicast address when the port is
// configured for unicast responses, else the PTP multicast address.
func (m *PdelayMachine) ResponseDestination() net.HardwareAddr {
	if m.Port.PdelayUnicastResponse && len(m.peerMAC) == 6 {
		return m.peerMAC
	}
	return protocol.PTPMulticastMAC
}

// BuildPdelayResp constructs the Pdelay_Resp for the request most recently
// recorded by OnPdelayReqReceived.
func (m *PdelayMachine) BuildPdelayResp(selfIdentity protocol.PortIdentity) *protocol.PDelayResp {
	resp := &protocol.PDelayResp{}
	resp.SequenceID = m.respSequence
	resp.SdoIDAndMsgType = protocol.NewSdoIDAndMsgType(protocol.MessagePDelayResp, protocol.TransportSpecificGPTP)
	resp.Version = protocol.Version
	resp.ControlField = protocol.ControlOther
	resp.LogMessageInterval = protocol.LogIntervalDontChange
	resp.SourcePortIdentity = selfIdentity
	resp.RequestingPortIdentity = m.peerPortIdentity
	resp.RequestReceiptTimestamp = protocol.Timestamp{
		Seconds:     protocol.PTPSecondsFromUint64(m.t2.Seconds),
		Nanoseconds: m.t2.Nanoseconds,
	}
	return resp
}

// BuildPdelayRespFollowUp constructs the Resp_Follow_Up once the
// responder's own egress timestamp (T3) for the Pdelay_Resp is known.
func (m *PdelayMachine) BuildPdelayRespFollowUp(selfIdentity protocol.PortIdentity, t3 ptptime.Unsigned) *protocol.PDelayRespFollowUp {
	m.RespState = RespWaitingForReq
	fup := &protocol.PDelayRespFollowUp{}
	fup.SequenceID = m.respSequence
	fup.SdoIDAndMsgType = protocol.NewSdoIDAndMsgType(protocol.MessagePDelayRespFollowUp, protocol.TransportSpecificGPTP)
	fup.Version = protocol.Version
	fup.ControlField = protocol.ControlOther
	fup.LogMessageInterval = protocol.LogIntervalDontChange
	fup.SourcePortIdentity = selfIdentity
	fup.RequestingPortIdentity = m.peerPortIdentity
	fup.ResponseOriginTimestamp = protocol.Timestamp{
		Seconds:     protocol.PTPSecondsFromUint64(t3.Seconds),
		Nanoseconds: t3.Nanoseconds,
	}
	return fup
}
