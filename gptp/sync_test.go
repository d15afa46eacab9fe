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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-gptp/gptpcore/protocol"
	"github.com/go-gptp/gptpcore/ptptime"
)

func newSlaveMachine() *SyncMachine {
	return NewSyncMachine(SyncMachineConfig{Port: 0, IsMaster: false, InitialLogInterval: -3}, 0)
}

func TestNewSyncMachineSlaveStartsWaitingForSync(t *testing.T) {
	m := newSlaveMachine()
	require.Equal(t, SlaveWaitingForSync, m.SlaveSt)
}

func TestNewSyncMachineMasterStartsIniting(t *testing.T) {
	m := NewSyncMachine(SyncMachineConfig{Port: 0, IsMaster: true}, 0)
	require.Equal(t, MasterIniting, m.MasterSt)
}

func TestOnSyncReceivedAdvancesToWaitingForFup(t *testing.T) {
	m := newSlaveMachine()
	hdr := &protocol.Header{SequenceID: 7, LogMessageInterval: -2}
	ingress := ptptime.Unsigned{Seconds: 5, Nanoseconds: 100}
	m.OnSyncReceived(hdr, ingress, false, NewErrorLog(nil), time.Now())

	require.Equal(t, SlaveWaitingForFup, m.SlaveSt)
	require.Equal(t, uint16(7), m.sequence)
	require.Equal(t, int8(-2), m.logInterval)
	require.True(t, m.lastIngressValid)
}

func TestOnSyncReceivedGMFailureLosesSync(t *testing.T) {
	m := newSlaveMachine()
	m.haveOffset = true
	m.lock = Locked
	m.OnSyncReceived(&protocol.Header{}, ptptime.Unsigned{}, true, NewErrorLog(nil), time.Now())

	require.Equal(t, SlaveWaitingForSync, m.SlaveSt)
	require.False(t, m.haveOffset)
	require.Equal(t, Unlocked, m.lock)
}

func TestOnFollowUpReceivedRejectsSequenceMismatch(t *testing.T) {
	m := newSlaveMachine()
	m.SlaveSt = SlaveWaitingForFup
	m.sequence = 3

	fup := &protocol.FollowUp{}
	fup.SequenceID = 4
	accepted := m.OnFollowUpReceived(fup, 0, 1.0, 0, 1000, 3, func(float64, int64, bool, int8) {}, NewErrorLog(nil), time.Now())

	require.False(t, accepted)
	require.Equal(t, SlaveWaitingForSync, m.SlaveSt)
}

// TestOnFollowUpReceivedAcceptsAndUpdatesClock exercises scenario B: a
// nonzero neighbor prop delay (100ns) and rate_ratio 1.0, so the offset
// must go through upstream_tx_time = ingress - mean_prop_delay rather than
// the raw ingress timestamp.
func TestOnFollowUpReceivedAcceptsAndUpdatesClock(t *testing.T) {
	m := newSlaveMachine()
	m.SlaveSt = SlaveWaitingForFup
	m.sequence = 1
	m.lastIngressTR = ptptime.Unsigned{Seconds: 10, Nanoseconds: 0}

	fup := &protocol.FollowUp{}
	fup.SequenceID = 1
	fup.PreciseOriginTimestamp = protocol.Timestamp{Seconds: protocol.PTPSecondsFromUint64(9), Nanoseconds: 999999000}
	fup.CorrectionField = 0
	fup.Info.CumulativeScaledRateOffset = 0

	var gotOffset int64
	var gotRatio float64
	calls := 0
	updateClock := func(rateRatio float64, offsetNs int64, negative bool, syncIntervalLog int8) {
		calls++
		gotOffset = offsetNs
		gotRatio = rateRatio
	}

	accepted := m.OnFollowUpReceived(fup, 100, 1.0, 0, 1_000_000, 3, updateClock, NewErrorLog(nil), time.Now())

	require.True(t, accepted)
	require.Equal(t, 1, calls)
	require.Equal(t, SlaveWaitingForSync, m.SlaveSt)
	require.True(t, m.haveLastValid)
	require.InDelta(t, 1.0, gotRatio, 0.0001)
	// upstream_tx_time = ingress(10s) - meanPropDelay(100ns); offset against
	// gmTimePlusCorrection (9.999999s) comes out to 900ns, 100ns less than
	// the zero-prop-delay case, proving meanPropDelay was actually applied.
	require.InDelta(t, float64(900), float64(gotOffset), 1)
}

func TestSyncOutlierVerdictAcceptsFirstSample(t *testing.T) {
	m := newSlaveMachine()
	require.True(t, m.syncOutlierVerdict(ptptime.Unsigned{Seconds: 1}, 1000, 3))
}

func TestSyncOutlierVerdictRejectsLargeDeviationUntilIgnoreCntExceeded(t *testing.T) {
	m := newSlaveMachine()
	m.haveLastValid = true
	m.lastValidGMPlusCorrection = ptptime.Unsigned{Seconds: 1, Nanoseconds: 0}
	m.lastValidTR = ptptime.Unsigned{Seconds: 1, Nanoseconds: 0}
	m.lastIngressTR = ptptime.Unsigned{Seconds: 2, Nanoseconds: 0}

	// expected = lastValid + (ingress - lastValidTR) = 2s; an actual of
	// 2s + 1ms deviates by 1ms, over the 100ns threshold.
	actual := ptptime.Unsigned{Seconds: 2, Nanoseconds: 1_000_000}

	require.False(t, m.syncOutlierVerdict(actual, 100, 2))
	require.Equal(t, 1, m.outlierCount)
	require.False(t, m.syncOutlierVerdict(actual, 100, 2))
	require.Equal(t, 2, m.outlierCount)
	// third rejection exceeds ignoreCnt=2, so the sample is now accepted.
	require.True(t, m.syncOutlierVerdict(actual, 100, 2))
	require.Equal(t, 0, m.outlierCount)
}

func TestCurrentOffsetSentinelBeforeFirstUpdate(t *testing.T) {
	m := newSlaveMachine()
	require.Equal(t, int64(math.MaxInt64), m.CurrentOffset())
}

func TestUpdateSyncLockTransitionsOnHysteresis(t *testing.T) {
	m := newSlaveMachine()
	m.haveOffset = true
	m.currentOffsetNs = 10

	changed := m.UpdateSyncLock(100, 200, 2, 2)
	require.False(t, changed)
	require.Equal(t, Unlocked, m.lock)

	changed = m.UpdateSyncLock(100, 200, 2, 2)
	require.True(t, changed)
	require.Equal(t, Locked, m.lock)

	m.currentOffsetNs = 500
	changed = m.UpdateSyncLock(100, 200, 2, 2)
	require.False(t, changed)
	changed = m.UpdateSyncLock(100, 200, 2, 2)
	require.True(t, changed)
	require.Equal(t, Unlocked, m.lock)
}

func TestSyncSkipCount(t *testing.T) {
	require.Equal(t, 0, SyncSkipCount(-3, -3))
	require.Equal(t, 0, SyncSkipCount(-4, -3))
	require.Equal(t, 1, SyncSkipCount(-2, -3))
	require.Equal(t, 3, SyncSkipCount(-1, -3))
}

func TestTickMasterSkipsBeforeIntervalElapses(t *testing.T) {
	m := NewSyncMachine(SyncMachineConfig{Port: 0, IsMaster: true, InitialLogInterval: 0}, 0)
	m.MasterSt = MasterSendSync
	now := time.Now()
	sent := 0
	send := func(*protocol.Sync) (uint8, error) { sent++; return 5, nil }
	m.TickMaster(now, 0, func() uint16 { return 1 }, send, protocol.PortIdentity{}, NewErrorLog(nil))
	require.Equal(t, 1, sent)

	m.TickMaster(now.Add(100*time.Millisecond), 0, func() uint16 { return 2 }, send, protocol.PortIdentity{}, NewErrorLog(nil))
	require.Equal(t, 1, sent, "second tick inside the 1s interval must not resend")

	m.TickMaster(now.Add(2*time.Second), 0, func() uint16 { return 3 }, send, protocol.PortIdentity{}, NewErrorLog(nil))
	require.Equal(t, 2, sent)
}

func TestTickMasterNotEnabledNoOp(t *testing.T) {
	m := NewSyncMachine(SyncMachineConfig{Port: 0, IsMaster: true}, 0)
	m.MasterSt = MasterNotEnabled
	sent := 0
	send := func(*protocol.Sync) (uint8, error) { sent++; return 0, nil }
	m.TickMaster(time.Now(), 0, func() uint16 { return 1 }, send, protocol.PortIdentity{}, NewErrorLog(nil))
	require.Equal(t, 0, sent)
}

func TestBuildFollowUpGMBranchSetsOriginTimestamp(t *testing.T) {
	m := NewSyncMachine(SyncMachineConfig{Port: 0, IsMaster: true}, 0)
	egress := ptptime.Unsigned{Seconds: 100, Nanoseconds: 42}
	fup := m.BuildFollowUp(egress, false, false, true, nil, protocol.PortIdentity{}, NewErrorLog(nil), time.Now())

	require.Equal(t, protocol.Correction(0), fup.CorrectionField)
	require.Equal(t, uint32(42), fup.PreciseOriginTimestamp.Nanoseconds)
	require.Equal(t, MasterSendSync, m.MasterSt)
}

func TestBuildFollowUpBridgeNonGMPropagatesSlaveCorrection(t *testing.T) {
	master := NewSyncMachine(SyncMachineConfig{Port: 1, IsMaster: true}, 0)
	slave := newSlaveMachine()
	slave.rateRatio = 1.0
	slave.lastCorrectionFieldNs = 500
	slave.upstreamTxTime = ptptime.Unsigned{Seconds: 10, Nanoseconds: 0}
	slave.lastPreciseOrigin = protocol.Timestamp{Nanoseconds: 7}

	egress := ptptime.Unsigned{Seconds: 10, Nanoseconds: 1000}
	fup := master.BuildFollowUp(egress, true, false, false, slave, protocol.PortIdentity{}, NewErrorLog(nil), time.Now())

	require.Equal(t, int64(1500), fup.CorrectionField.NanosecondsPart())
	require.Equal(t, uint32(7), fup.PreciseOriginTimestamp.Nanoseconds)
}
