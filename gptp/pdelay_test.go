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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-gptp/gptpcore/protocol"
	"github.com/go-gptp/gptpcore/ptptime"
)

func testPortConfig() PortConfig {
	return PortConfig{
		Index:                    0,
		MAC:                      net.HardwareAddr{0, 1, 2, 3, 4, 5},
		PdelayInitiatorEnabled:   true,
		InitialLogInterval:       -3,
		OperationalLogInterval:   0,
		AllowedLostResponses:     3,
		MeasurementsTillSlowdown: 2,
	}
}

func testAveragerConfig() AveragerConfig {
	return AveragerConfig{
		PdelAvgWeight:   0.5,
		RratioAvgWeight: 0.5,
		RratioMaxDev:    0.5,
	}
}

func TestNewPdelayMachineStartsInitiatorWhenEnabled(t *testing.T) {
	m := NewPdelayMachine(testPortConfig(), testAveragerConfig(), nil)
	require.Equal(t, InitInitialSendReq, m.InitState)
	require.Equal(t, RespWaitingForReq, m.RespState)
}

func TestNewPdelayMachineDisabledInitiator(t *testing.T) {
	cfg := testPortConfig()
	cfg.PdelayInitiatorEnabled = false
	m := NewPdelayMachine(cfg, testAveragerConfig(), nil)
	require.Equal(t, InitNotEnabled, m.InitState)
}

func TestNewPdelayMachineLoadsValidNvmValues(t *testing.T) {
	cfg := testPortConfig()
	nvmRead := func(port uint8, kind string) (float64, error) {
		switch kind {
		case "prop_delay":
			return 500.0, nil
		case "rate_ratio":
			return 1.0001, nil
		}
		return 0, nil
	}
	m := NewPdelayMachine(cfg, testAveragerConfig(), nvmRead)
	require.Equal(t, 500.0, m.NeighborPropDelay())
	require.InDelta(t, 1.0001, m.NeighborRateRatio(), 1e-9)
}

func TestNewPdelayMachineRejectsOutOfRangeNvmValues(t *testing.T) {
	cfg := testPortConfig()
	cfg.PropDelayThreshNs = 100
	nvmRead := func(port uint8, kind string) (float64, error) {
		if kind == "prop_delay" {
			return 99999, nil
		}
		return 0, nil
	}
	m := NewPdelayMachine(cfg, testAveragerConfig(), nvmRead)
	require.Equal(t, 0.0, m.NeighborPropDelay())
}

func TestNeighborRateRatioDefaultsToOneWhenInvalid(t *testing.T) {
	m := NewPdelayMachine(testPortConfig(), testAveragerConfig(), nil)
	require.Equal(t, 1.0, m.NeighborRateRatio())
}

func TestTickInitiatorSendsInitialRequest(t *testing.T) {
	m := NewPdelayMachine(testPortConfig(), testAveragerConfig(), nil)
	sent := 0
	send := func(*protocol.PDelayReq) (uint8, error) { sent++; return 1, nil }
	m.TickInitiator(time.Now(), protocol.PortIdentity{}, func() uint16 { return 1 }, send, NewErrorLog(nil))
	require.Equal(t, 1, sent)
	require.Equal(t, InitWaitingForResp, m.InitState)
}

func TestTickInitiatorDisabledNoOp(t *testing.T) {
	cfg := testPortConfig()
	cfg.PdelayInitiatorEnabled = false
	m := NewPdelayMachine(cfg, testAveragerConfig(), nil)
	sent := 0
	send := func(*protocol.PDelayReq) (uint8, error) { sent++; return 1, nil }
	m.TickInitiator(time.Now(), protocol.PortIdentity{}, func() uint16 { return 1 }, send, NewErrorLog(nil))
	require.Equal(t, 0, sent)
}

func TestTickInitiatorResendsAfterTooManyLostResponses(t *testing.T) {
	cfg := testPortConfig()
	cfg.AllowedLostResponses = 0
	cfg.InitialLogInterval = 0
	m := NewPdelayMachine(cfg, testAveragerConfig(), nil)
	now := time.Now()

	send := func(*protocol.PDelayReq) (uint8, error) { return 1, nil }
	m.TickInitiator(now, protocol.PortIdentity{}, func() uint16 { return 1 }, send, NewErrorLog(nil))
	require.Equal(t, InitWaitingForResp, m.InitState)

	m.neighborPropDelay.Update(123)
	m.propDelayValid = true

	// first lost response: lostResponses becomes 1, not yet over the
	// AllowedLostResponses(0)+1 threshold, so no reset.
	m.initWatchdogFired = true
	t1 := now.Add(time.Second)
	m.TickInitiator(t1, protocol.PortIdentity{}, func() uint16 { return 2 }, send, NewErrorLog(nil))
	require.Equal(t, uint8(1), m.lostResponses)
	require.True(t, m.propDelayValid)

	// second lost response: lostResponses becomes 2, over the threshold,
	// averagers reset.
	m.initWatchdogFired = true
	t2 := t1.Add(time.Second)
	m.TickInitiator(t2, protocol.PortIdentity{}, func() uint16 { return 3 }, send, NewErrorLog(nil))
	require.Equal(t, uint8(2), m.lostResponses)
	require.False(t, m.propDelayValid, "averagers must reset once lostResponses exceeds AllowedLostResponses+1")
	require.Equal(t, InitWaitingForResp, m.InitState)
}

func TestCheckInitiatorTurnaroundFiresOnceAfterCeiling(t *testing.T) {
	m := NewPdelayMachine(testPortConfig(), testAveragerConfig(), nil)
	m.InitState = InitWaitingForResp
	now := time.Now()
	m.initTurnaroundStart = now

	l := NewErrorLog(nil)
	m.CheckInitiatorTurnaround(now.Add(5*time.Millisecond), l)
	require.False(t, m.initWatchdogFired)

	m.CheckInitiatorTurnaround(now.Add(20*time.Millisecond), l)
	require.True(t, m.initWatchdogFired)

	entry, err := l.ReadIndex(0)
	require.NoError(t, err)
	require.Equal(t, ErrLimit, entry.Kind)
}

func TestOnPdelayRespReceivedRejectsSequenceMismatch(t *testing.T) {
	m := NewPdelayMachine(testPortConfig(), testAveragerConfig(), nil)
	m.InitState = InitWaitingForResp
	m.reqSequence = 5

	resp := &protocol.PDelayResp{}
	resp.SequenceID = 6
	m.OnPdelayRespReceived(resp, ptptime.Unsigned{}, protocol.PortIdentity{}, NewErrorLog(nil), time.Now())
	require.Equal(t, InitWaitingForResp, m.InitState)
}

func TestPdelayRoundTripCompletesMeasurement(t *testing.T) {
	self := protocol.PortIdentity{ClockIdentity: 1, PortNumber: 1}
	m := NewPdelayMachine(testPortConfig(), testAveragerConfig(), nil)
	m.InitState = InitWaitingForResp
	m.reqSequence = 10

	m.OnInitiatorEgress(10, ptptime.Unsigned{Seconds: 100, Nanoseconds: 0})

	resp := &protocol.PDelayResp{}
	resp.SequenceID = 10
	resp.RequestingPortIdentity = self
	resp.RequestReceiptTimestamp = protocol.Timestamp{Seconds: protocol.PTPSecondsFromUint64(100), Nanoseconds: 100_000_000}
	m.OnPdelayRespReceived(resp, ptptime.Unsigned{Seconds: 100, Nanoseconds: 300_000_000}, self, NewErrorLog(nil), time.Now())
	require.Equal(t, InitWaitingForRespFup, m.InitState)

	fup := &protocol.PDelayRespFollowUp{}
	fup.SequenceID = 10
	fup.RequestingPortIdentity = self
	fup.ResponseOriginTimestamp = protocol.Timestamp{Seconds: protocol.PTPSecondsFromUint64(100), Nanoseconds: 150_000_000}

	var written []string
	m.OnPdelayRespFollowUpReceived(fup, self, NewErrorLog(nil), time.Now(), func(port uint8, kind string, value float64) {
		written = append(written, kind)
	})

	require.Equal(t, InitWaitingForInterval, m.InitState)
	require.True(t, m.propDelayValid)
	require.Equal(t, uint8(1), m.measurementsDone)
	require.Empty(t, written, "nvm write only happens once MeasurementsTillSlowdown is reached")

	// t4-t1 = 300ms, t3-t2 = 50ms, rateRatio defaults to 1.0:
	// delay = (300ms - 50ms)/2 = 125ms.
	require.InDelta(t, 125_000_000.0, m.NeighborPropDelay(), 1.0)
}

func TestPdelayMeasurementBecomesOperationalAndWritesNvm(t *testing.T) {
	self := protocol.PortIdentity{ClockIdentity: 1, PortNumber: 1}
	cfg := testPortConfig()
	cfg.MeasurementsTillSlowdown = 1
	m := NewPdelayMachine(cfg, testAveragerConfig(), nil)
	m.InitState = InitWaitingForResp
	m.reqSequence = 1
	m.OnInitiatorEgress(1, ptptime.Unsigned{Seconds: 1, Nanoseconds: 0})

	resp := &protocol.PDelayResp{}
	resp.SequenceID = 1
	resp.RequestingPortIdentity = self
	resp.RequestReceiptTimestamp = protocol.Timestamp{Seconds: protocol.PTPSecondsFromUint64(1), Nanoseconds: 50_000_000}
	m.OnPdelayRespReceived(resp, ptptime.Unsigned{Seconds: 1, Nanoseconds: 200_000_000}, self, NewErrorLog(nil), time.Now())

	fup := &protocol.PDelayRespFollowUp{}
	fup.SequenceID = 1
	fup.RequestingPortIdentity = self
	fup.ResponseOriginTimestamp = protocol.Timestamp{Seconds: protocol.PTPSecondsFromUint64(1), Nanoseconds: 70_000_000}

	var written []string
	m.OnPdelayRespFollowUpReceived(fup, self, NewErrorLog(nil), time.Now(), func(port uint8, kind string, value float64) {
		written = append(written, kind)
	})

	require.True(t, m.operational)
	require.Equal(t, cfg.OperationalLogInterval, m.currentLogInterval)
	require.ElementsMatch(t, []string{"prop_delay", "rate_ratio"}, written)
}

func TestOnPdelayReqReceivedSetsResponderState(t *testing.T) {
	m := NewPdelayMachine(testPortConfig(), testAveragerConfig(), nil)
	req := &protocol.PDelayReq{}
	req.SequenceID = 3
	req.SourcePortIdentity = protocol.PortIdentity{ClockIdentity: 9, PortNumber: 1}
	srcMAC := net.HardwareAddr{1, 2, 3, 4, 5, 6}

	m.OnPdelayReqReceived(req, ptptime.Unsigned{Seconds: 1}, srcMAC, time.Now())

	require.Equal(t, RespSentRespWaitingTS, m.RespState)
	require.Equal(t, uint16(3), m.respSequence)
	require.Equal(t, srcMAC, m.peerMAC)
}

func TestResponseDestinationPrefersUnicastWhenConfigured(t *testing.T) {
	cfg := testPortConfig()
	cfg.PdelayUnicastResponse = true
	m := NewPdelayMachine(cfg, testAveragerConfig(), nil)
	m.peerMAC = net.HardwareAddr{1, 2, 3, 4, 5, 6}
	require.Equal(t, m.peerMAC, m.ResponseDestination())
}

func TestResponseDestinationFallsBackToMulticast(t *testing.T) {
	m := NewPdelayMachine(testPortConfig(), testAveragerConfig(), nil)
	require.Equal(t, protocol.PTPMulticastMAC, m.ResponseDestination())
}

func TestBuildPdelayRespAndFollowUpRoundTrip(t *testing.T) {
	self := protocol.PortIdentity{ClockIdentity: 1, PortNumber: 1}
	m := NewPdelayMachine(testPortConfig(), testAveragerConfig(), nil)
	m.respSequence = 7
	m.peerPortIdentity = protocol.PortIdentity{ClockIdentity: 2, PortNumber: 1}
	m.t2 = ptptime.Unsigned{Seconds: 5, Nanoseconds: 10}

	resp := m.BuildPdelayResp(self)
	require.Equal(t, uint16(7), resp.SequenceID)
	require.Equal(t, self, resp.SourcePortIdentity)
	require.Equal(t, m.peerPortIdentity, resp.RequestingPortIdentity)

	fup := m.BuildPdelayRespFollowUp(self, ptptime.Unsigned{Seconds: 5, Nanoseconds: 20})
	require.Equal(t, RespWaitingForReq, m.RespState)
	require.Equal(t, uint32(20), fup.ResponseOriginTimestamp.Nanoseconds)
}
