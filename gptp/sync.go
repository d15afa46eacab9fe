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
	"time"

	"github.com/go-gptp/gptpcore/protocol"
	"github.com/go-gptp/gptpcore/ptptime"
)

// MasterState is the master side of a SyncMachine.
type MasterState uint8

// Master states.
const (
	MasterNotEnabled MasterState = iota
	MasterIniting
	MasterSendSync
	MasterSendFup
)

// SlaveState is the slave side of a SyncMachine.
type SlaveState uint8

// Slave states.
const (
	SlaveNotEnabled SlaveState = iota
	SlaveDiscard
	SlaveWaitingForSync
	SlaveWaitingForFup
)

// LockState reports the sync-lock hysteresis verdict.
type LockState uint8

// Lock states.
const (
	Unlocked LockState = iota
	Locked
)

func (s LockState) String() string {
	if s == Locked {
		return "LOCKED"
	}
	return "UNLOCKED"
}

// SyncMachine is one master-or-slave endpoint inside a domain, bound to a
// port.
type SyncMachine struct {
	Cfg    SyncMachineConfig
	Domain uint8

	MasterSt MasterState
	SlaveSt  SlaveState

	sequence       uint16
	logInterval    int8
	correction     protocol.Correction
	rateRatio      float64
	upstreamTxTime ptptime.Unsigned

	lastIngressTR    ptptime.Unsigned
	lastIngressValid bool
	lastFollowUpSeq  uint16

	lastValidGMPlusCorrection ptptime.Unsigned
	lastValidTR               ptptime.Unsigned
	haveLastValid             bool

	outlierCount int

	lastPreciseOrigin       protocol.Timestamp
	havePreciseOriginBefore bool
	lastCorrectionFieldNs   int64

	residenceStart time.Time
	residenceArmed bool

	lastMasterTxAt time.Time

	ActingGM bool

	currentOffsetNs  int64
	haveOffset       bool

	syncedConsec   int
	unsyncedConsec int
	lock           LockState
}

// NewSyncMachine builds a SyncMachine for the given configuration.
func NewSyncMachine(cfg SyncMachineConfig, domain uint8) *SyncMachine {
	m := &SyncMachine{
		Cfg:         cfg,
		Domain:      domain,
		logInterval: cfg.InitialLogInterval,
		lock:        Unlocked,
	}
	if cfg.IsMaster {
		m.MasterSt = MasterIniting
	} else {
		m.SlaveSt = SlaveWaitingForSync
	}
	return m
}

// --- Slave behavior ---

// OnSyncReceived snapshots the ingress Sync per spec 4.3. gmFailure should
// be true if the Ethernet driver flagged a timestamp-indicated GM failure
// for this frame.
func (m *SyncMachine) OnSyncReceived(hdr *protocol.Header, ingress ptptime.Unsigned, gmFailure bool, errlog *ErrorLog, now time.Time) {
	if gmFailure {
		m.handleLossOfSync(errlog, now)
		return
	}
	m.lastIngressTR = ingress
	m.lastIngressValid = true
	m.logInterval = int8(hdr.LogMessageInterval)
	m.sequence = hdr.SequenceID
	m.SlaveSt = SlaveWaitingForFup
}

// handleLossOfSync logs the error, marks the domain Unlocked, clears the
// hysteresis counters, the held offset and the last ingress timestamp, and
// returns the machine to SlaveWaitingForSync. It does not reset the PI
// controller and does not issue a zero-offset clock update.
func (m *SyncMachine) handleLossOfSync(errlog *ErrorLog, now time.Time) {
	errlog.Register(ErrSync, m.Cfg.Port, m.Domain, m.sequence, now)
	m.syncedConsec = 0
	m.unsyncedConsec = 0
	m.lock = Unlocked
	m.haveOffset = false
	m.lastIngressValid = false
	m.SlaveSt = SlaveWaitingForSync
}

// syncOutlierVerdict computes the accept/reject decision for 4.3's outlier
// rejection rule.
func (m *SyncMachine) syncOutlierVerdict(gmTimePlusCorrection ptptime.Unsigned, thresholdNs int64, ignoreCnt int) bool {
	if !m.haveLastValid {
		return true
	}
	expected := ptptime.Add(m.lastValidGMPlusCorrection, ptptime.Sub(m.lastIngressTR, m.lastValidTR))
	diff := ptptime.Sub(expected, gmTimePlusCorrection).ToNanoseconds()
	if diff < 0 {
		diff = -diff
	}
	if diff >= thresholdNs && m.outlierCount < ignoreCnt {
		m.outlierCount++
		return false
	}
	m.outlierCount = 0
	return true
}

// OnFollowUpReceived completes the slave's offset computation per 4.3.
// neighborPropDelay/neighborRateRatio come from the paired PdelayMachine on
// this machine's port; asymmetryNs is the port's configured link asymmetry,
// added to neighborPropDelay before dividing by neighborRateRatio to form
// mean_prop_delay. updateClock is the external UpdateLocalClock call; it
// receives (rateRatio, offsetNs, negative, syncIntervalLog).
// OnFollowUpReceived returns true if the sample was accepted and fed to
// updateClock, false if it was rejected by handleLossOfSync or the outlier
// check.
func (m *SyncMachine) OnFollowUpReceived(fup *protocol.FollowUp, neighborPropDelay, neighborRateRatio float64, asymmetryNs int64,
	domainOutlierThreshNs int64, domainOutlierIgnoreCnt int,
	updateClock func(rateRatio float64, offsetNs int64, negative bool, syncIntervalLog int8),
	errlog *ErrorLog, now time.Time) bool {
	if m.SlaveSt != SlaveWaitingForFup || fup.SequenceID != m.sequence {
		m.handleLossOfSync(errlog, now)
		return false
	}

	cumulativeRateRatio := protocol.UnscaleRateRatio(fup.Info.CumulativeScaledRateOffset)
	domainRateRatio := cumulativeRateRatio + (neighborRateRatio - 1.0)

	meanPropDelay := 0.0
	if neighborPropDelay != 0 && neighborRateRatio != 0 {
		meanPropDelay = (neighborPropDelay + float64(asymmetryNs)) / neighborRateRatio
	}
	m.upstreamTxTime = ptptime.Unsigned{
		Seconds:     m.lastIngressTR.Seconds,
		Nanoseconds: m.lastIngressTR.Nanoseconds,
	}
	if meanPropDelay != 0 {
		m.upstreamTxTime = ptptime.Add(m.lastIngressTR, ptptime.Normalize(0, int64(-meanPropDelay)))
	}

	originSeconds := fup.PreciseOriginTimestamp.Seconds.Uint64()
	originNs := fup.PreciseOriginTimestamp.Nanoseconds
	correctionNs := fup.CorrectionField.NanosecondsPart()
	gmTimePlusCorrection := ptptime.Add(
		ptptime.Unsigned{Seconds: originSeconds, Nanoseconds: originNs},
		ptptime.Normalize(0, correctionNs),
	)

	if m.havePreciseOriginBefore && m.lastPreciseOrigin == fup.PreciseOriginTimestamp && correctionNs > 2*int64(LogIntervalToDurationNS(LogIntervalMax)) {
		errlog.Register(ErrOutside, m.Cfg.Port, m.Domain, fup.SequenceID, now)
	}
	m.lastPreciseOrigin = fup.PreciseOriginTimestamp
	m.havePreciseOriginBefore = true
	m.lastCorrectionFieldNs = correctionNs

	if !m.syncOutlierVerdict(gmTimePlusCorrection, domainOutlierThreshNs, domainOutlierIgnoreCnt) {
		return false
	}

	offset := ptptime.Sub(m.upstreamTxTime, gmTimePlusCorrection)
	offsetNs := offset.ToNanoseconds()
	m.currentOffsetNs = offsetNs
	m.haveOffset = true
	m.rateRatio = domainRateRatio

	updateClock(domainRateRatio, offsetNs, offset.Negative(), m.logInterval)

	m.lastValidGMPlusCorrection = gmTimePlusCorrection
	m.lastValidTR = m.lastIngressTR
	m.haveLastValid = true

	m.SlaveSt = SlaveWaitingForSync
	return true
}

// LogIntervalToDurationNS is a small local alias kept for readability at
// call sites comparing correctionField against a multiple of the maximum
// sync interval.
func LogIntervalToDurationNS(logInterval int8) int64 {
	return ptptime.LogIntervalToNanoseconds(logInterval)
}

// UpdateSyncLock advances the hysteresis counters per 4.7 and returns true
// if the lock state changed.
func (m *SyncMachine) UpdateSyncLock(synTrigOffsetNs, unsTrigOffsetNs int64, synTrigCnt, unsTrigCnt int) bool {
	if !m.haveOffset {
		return false
	}
	abs := m.currentOffsetNs
	if abs < 0 {
		abs = -abs
	}
	prev := m.lock
	if abs <= synTrigOffsetNs {
		m.syncedConsec++
		m.unsyncedConsec = 0
		if m.syncedConsec >= synTrigCnt {
			m.lock = Locked
		}
	} else if abs > unsTrigOffsetNs {
		m.unsyncedConsec++
		m.syncedConsec = 0
		if m.unsyncedConsec >= unsTrigCnt {
			m.lock = Unlocked
		}
	}
	return prev != m.lock
}

// CurrentOffset returns the last computed signed offset, or the sentinel
// math.MaxInt64 before any successful update (CurrentOffsetGet).
func (m *SyncMachine) CurrentOffset() int64 {
	if !m.haveOffset {
		return math.MaxInt64
	}
	return m.currentOffsetNs
}

// --- Master behavior ---

// TickMaster builds and transmits a Sync if this master is due, per 4.3/4.6.
// It is a no-op unless at least one interval (2**logInterval seconds) has
// elapsed since the last Sync this machine sent.
func (m *SyncMachine) TickMaster(now time.Time, skipCount int, allocSequence func() uint16,
	send func(sync *protocol.Sync) (uint8, error), selfIdentity protocol.PortIdentity, errlog *ErrorLog) {
	if m.MasterSt == MasterNotEnabled {
		return
	}
	if skipCount > 0 {
		return
	}
	if !m.lastMasterTxAt.IsZero() {
		interval := time.Duration(LogIntervalToDurationNS(m.logInterval))
		if now.Sub(m.lastMasterTxAt) < interval {
			return
		}
	}
	seq := allocSequence()
	m.sequence = seq
	sync := &protocol.Sync{}
	sync.SequenceID = seq
	sync.SdoIDAndMsgType = protocol.NewSdoIDAndMsgType(protocol.MessageSync, protocol.TransportSpecificGPTP)
	sync.Version = protocol.Version
	sync.ControlField = protocol.ControlSync
	sync.LogMessageInterval = protocol.LogInterval(m.logInterval)
	sync.FlagField = protocol.FlagTwoStep
	sync.SourcePortIdentity = selfIdentity

	if _, err := send(sync); err != nil {
		errlog.Register(ErrFunction, m.Cfg.Port, m.Domain, seq, now)
		return
	}
	m.lastMasterTxAt = now
	m.residenceStart = now
	m.residenceArmed = true
	m.MasterSt = MasterSendFup
}

// SyncSkipCount implements interval adaptation: a master whose configured
// interval is slower than the slave's ingress interval skips ingress Syncs
// according to 2^(master_log - slave_log) - 1.
func SyncSkipCount(masterLog, slaveLog int8) int {
	if masterLog <= slaveLog {
		return 0
	}
	return (1 << uint(masterLog-slaveLog)) - 1
}

// BuildFollowUp assembles the Follow_Up corresponding to a just-confirmed
// Sync egress timestamp, per the four correction-field formulas in 4.3.
func (m *SyncMachine) BuildFollowUp(egress ptptime.Unsigned, bridgeRole bool, actingAsGM bool, isGM bool,
	slave *SyncMachine, selfIdentity protocol.PortIdentity, errlog *ErrorLog, now time.Time) *protocol.FollowUp {
	fup := &protocol.FollowUp{}
	fup.SequenceID = m.sequence
	fup.SdoIDAndMsgType = protocol.NewSdoIDAndMsgType(protocol.MessageFollowUp, protocol.TransportSpecificGPTP)
	fup.Version = protocol.Version
	fup.ControlField = protocol.ControlFollowUp
	fup.LogMessageInterval = protocol.LogInterval(m.logInterval)
	fup.SourcePortIdentity = selfIdentity

	switch {
	case bridgeRole && !actingAsGM:
		deltaNs := ptptime.Sub(egress, slave.upstreamTxTime).ToNanoseconds()
		correctionNs := slave.lastCorrectionFieldNs + int64(float64(deltaNs)*slave.rateRatio)
		fup.CorrectionField = protocol.NewCorrectionFromNanoseconds(correctionNs)
		fup.PreciseOriginTimestamp = slave.lastPreciseOrigin
		fup.Info.CumulativeScaledRateOffset = protocol.ScaleRateRatio(slave.rateRatio)
	case bridgeRole && actingAsGM:
		fup.CorrectionField = protocol.NewCorrectionFromNanoseconds(int64(egress.ToUint64()))
		fup.PreciseOriginTimestamp = protocol.Timestamp{}
	case isGM:
		fup.CorrectionField = 0
		fup.PreciseOriginTimestamp = protocol.Timestamp{
			Seconds:     protocol.PTPSecondsFromUint64(egress.Seconds),
			Nanoseconds: egress.Nanoseconds,
		}
	default: // synced-GM
		fup.CorrectionField = 0
		fup.PreciseOriginTimestamp = protocol.Timestamp{
			Seconds:     protocol.PTPSecondsFromUint64(egress.Seconds),
			Nanoseconds: egress.Nanoseconds,
		}
	}

	if m.residenceArmed {
		residence := now.Sub(m.residenceStart)
		if residence > watchdogCeilingNS*time.Nanosecond {
			errlog.Register(ErrLimit, m.Cfg.Port, m.Domain, m.sequence, now)
		}
		m.residenceArmed = false
	}
	m.MasterSt = MasterSendSync
	return fup
}
