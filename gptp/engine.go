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
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-gptp/gptpcore/protocol"
	"github.com/go-gptp/gptpcore/ptptime"
	"github.com/go-gptp/gptpcore/servo"
)

// Callbacks is the set of external collaborators an Engine is wired to at
// Init time. None of them are invoked concurrently: every call happens
// from inside TimerPeriodic, MsgReceive or TimeStampHandler, on whatever
// goroutine the caller drives those three entry points from.
type Callbacks struct {
	// Transmit hands a fully framed Ethernet payload to the driver for
	// the given port, returning a driver-assigned buffer index that will
	// later come back via TimeStampHandler.
	Transmit func(port uint8, frame []byte) (bufferIndex int, err error)
	// SetCorrection steers the local clock: freqPPB is an absolute
	// frequency correction in parts-per-billion, stepNs a one-shot phase
	// step (nonzero only when the PI controller took the absolute-step
	// path).
	SetCorrection func(freqPPB int32, stepNs int64) error
	// NvmRead/NvmWrite persist per-port neighbor propagation delay and
	// rate ratio ("prop_delay" / "rate_ratio") across restarts.
	NvmRead  func(port uint8, kind string) (float64, error)
	NvmWrite func(port uint8, kind string, value float64)
	// ErrNotify is invoked synchronously whenever an entry is appended to
	// the error log.
	ErrNotify func(ErrorLogEntry)
	// SyncNotify is invoked whenever a domain's sync-lock state changes.
	SyncNotify func(domainNumber uint8, locked bool)
	// DomainSelect picks the index into EngineConfig.Domains whose slave
	// SyncMachine drives the local clock's PI controller. A nil
	// DomainSelect picks the first non-GM domain.
	DomainSelect func(domains []DomainConfig) int
	// Registerer receives the prometheus counter vector backing
	// GetStatsValue; nil leaves the counters unregistered, though they
	// still count.
	Registerer prometheus.Registerer
}

// Port is the runtime state for one physical gPTP port: its Pdelay
// machine (Pdelay is domain-independent) and link state.
type Port struct {
	Cfg    PortConfig
	Pdelay *PdelayMachine
	LinkUp bool
}

func (p *Port) selfIdentity(clockIdentity protocol.ClockIdentity) protocol.PortIdentity {
	return protocol.PortIdentity{ClockIdentity: clockIdentity, PortNumber: uint16(p.Cfg.Index) + 1}
}

// Engine is the top-level dispatcher: it owns every port and domain and is
// driven exclusively through TimerPeriodic, MsgReceive and
// TimeStampHandler from a single cooperative execution context. It holds
// no internal locks and must never be reentered.
type Engine struct {
	cfg EngineConfig
	cb  Callbacks

	ports   []*Port
	domains []*Domain

	frameIDs *FrameIDTable
	errlog   *ErrorLog
	pi       *servo.PiController
	stats    *Stats

	clockIdentity protocol.ClockIdentity
	piDomain      int

	syncTx map[uint8]*TxMap

	syncSeq   map[uint16]uint16
	pdelaySeq map[uint8]uint16
	signalSeq map[uint8]uint16
}

// NewEngine builds an uninitialized Engine; Init must be called before any
// other method.
func NewEngine() *Engine {
	return &Engine{}
}

// Init validates cfg, wires cb, and builds the port/domain runtime state.
// now is the current time as the caller's clock sees it.
func (e *Engine) Init(cfg EngineConfig, cb Callbacks, now time.Time) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for i, p := range cfg.Ports {
		if int(p.Index) != i {
			return newErrf(ErrInit, "port %d: Index field must equal its slice position", i)
		}
	}

	e.cfg = cfg
	e.cb = cb
	e.frameIDs = NewFrameIDTable()
	e.errlog = NewErrorLog(cb.ErrNotify)
	e.pi = servo.NewPiController(cfg.PI)
	e.stats = NewStats(cb.Registerer)
	e.syncTx = make(map[uint8]*TxMap)
	e.syncSeq = make(map[uint16]uint16)
	e.pdelaySeq = make(map[uint8]uint16)
	e.signalSeq = make(map[uint8]uint16)

	e.clockIdentity = protocol.ClockIdentity(binary.BigEndian.Uint64(cfg.Ports[0].ClockIdentity[:]))

	e.ports = nil
	for _, pc := range cfg.Ports {
		port := &Port{
			Cfg:    pc,
			Pdelay: NewPdelayMachine(pc, cfg.Averager, cb.NvmRead),
			LinkUp: true,
		}
		e.ports = append(e.ports, port)
		e.syncTx[pc.Index] = NewTxMap()
	}

	e.domains = nil
	for i, dc := range cfg.Domains {
		e.domains = append(e.domains, NewDomain(dc, uint8(i), now))
	}

	e.piDomain = 0
	if cb.DomainSelect != nil {
		e.piDomain = cb.DomainSelect(cfg.Domains)
	} else {
		for i, dc := range cfg.Domains {
			if !dc.IsGM {
				e.piDomain = i
				break
			}
		}
	}
	return nil
}

// ProductDescription returns a short human-readable identification string
// for this build, suitable for a management/diagnostic query.
func (e *Engine) ProductDescription() string {
	return fmt.Sprintf("gptpcore manufacturer=%q revision=%q clock=%s",
		e.cfg.ManufacturerID, e.cfg.ProductRevision, e.clockIdentity)
}

func (e *Engine) port(idx uint8) (*Port, error) {
	if int(idx) >= len(e.ports) {
		return nil, newErrf(ErrAPI, "unconfigured port %d", idx)
	}
	return e.ports[idx], nil
}

func (e *Engine) domainByNumber(domainNumber uint8) *Domain {
	for _, d := range e.domains {
		if d.Cfg.DomainNumber == domainNumber {
			return d
		}
	}
	return nil
}

func (e *Engine) domainAt(index uint8) *Domain {
	if int(index) >= len(e.domains) {
		return nil
	}
	return e.domains[index]
}

func (e *Engine) slaveOnPort(d *Domain, port uint8) *SyncMachine {
	for _, m := range d.Machines {
		if !m.Cfg.IsMaster && m.Cfg.Port == port {
			return m
		}
	}
	return nil
}

// --- framing/transmit helpers ---

func (e *Engine) vlanTag() *protocol.VLANTag {
	if !e.cfg.VLANEnabled {
		return nil
	}
	tci := e.cfg.VLANTci
	return &protocol.VLANTag{
		PCP: uint8(tci>>13) & 0x7,
		DEI: tci&(1<<12) != 0,
		VID: tci & 0x0fff,
	}
}

func (e *Engine) sendMessage(port *Port, dst []byte, msg protocol.Message) (int, error) {
	frame := &protocol.Frame{
		Destination: dst,
		Source:      port.Cfg.MAC,
		VLANTag:     e.vlanTag(),
		Message:     msg,
	}
	buf := make([]byte, 128)
	n, err := protocol.EncodeFrame(frame, buf)
	if err != nil {
		return 0, err
	}
	return e.cb.Transmit(port.Cfg.Index, buf[:n])
}

func (e *Engine) nextSyncSeq(domainIdx uint8, machineIdx int) uint16 {
	key := uint16(domainIdx)<<8 | uint16(machineIdx)
	e.syncSeq[key]++
	return e.syncSeq[key]
}

func (e *Engine) nextPdelaySeq(port uint8) uint16 {
	e.pdelaySeq[port]++
	return e.pdelaySeq[port]
}

func (e *Engine) nextSignalSeq(domainIdx uint8) uint16 {
	e.signalSeq[domainIdx]++
	return e.signalSeq[domainIdx]
}

// --- MsgReceive ---

// MsgReceive decodes one received Ethernet frame on port and routes it to
// the matching state machine. ingress is the RX-timestamp captured by the
// driver for this frame.
func (e *Engine) MsgReceive(portIdx uint8, rxData []byte, ingress ptptime.Unsigned, now time.Time) error {
	port, err := e.port(portIdx)
	if err != nil {
		return err
	}
	frame, err := protocol.DecodeFrame(rxData)
	if err != nil {
		e.errlog.Register(ErrMessage, portIdx, PortNone, 0, now)
		return err
	}
	if frame == nil {
		return nil
	}

	switch msg := frame.Message.(type) {
	case *protocol.Sync:
		hdr := msg.GetHeader()
		d := e.domainByNumber(hdr.DomainNumber)
		if d == nil {
			return nil
		}
		slave := e.slaveOnPort(d, portIdx)
		if slave == nil {
			return nil
		}
		slave.OnSyncReceived(hdr, ingress, false, e.errlog, now)
		e.stats.Incr(d.Cfg.DomainNumber, portIdx, CounterSyncReceived)

	case *protocol.FollowUp:
		hdr := msg.GetHeader()
		d := e.domainByNumber(hdr.DomainNumber)
		if d == nil {
			return nil
		}
		slave := e.slaveOnPort(d, portIdx)
		if slave == nil {
			return nil
		}
		npd := port.Pdelay.NeighborPropDelay()
		nrr := port.Pdelay.NeighborRateRatio()
		domain := d
		updateClock := func(rateRatio float64, offsetNs int64, negative bool, syncIntervalLog int8) {
			e.applyClockUpdate(domain, offsetNs, syncIntervalLog, now)
		}
		accepted := slave.OnFollowUpReceived(msg, npd, nrr, port.Cfg.AsymmetryNs, d.Cfg.OutlierThresholdNs, d.Cfg.OutlierIgnoreCnt, updateClock, e.errlog, now)
		e.stats.Incr(d.Cfg.DomainNumber, portIdx, CounterFollowUpReceived)
		if !accepted {
			e.stats.Incr(d.Cfg.DomainNumber, portIdx, CounterSyncOutliersRejected)
		}

	case *protocol.PDelayReq:
		port.Pdelay.OnPdelayReqReceived(msg, ingress, frame.Source, now)
		resp := port.Pdelay.BuildPdelayResp(port.selfIdentity(e.clockIdentity))
		e.transmitPdelayResp(port, resp)

	case *protocol.PDelayResp:
		port.Pdelay.OnPdelayRespReceived(msg, ingress, port.selfIdentity(e.clockIdentity), e.errlog, now)
		e.stats.Incr(0, portIdx, CounterPdelayRespReceived)

	case *protocol.PDelayRespFollowUp:
		port.Pdelay.OnPdelayRespFollowUpReceived(msg, port.selfIdentity(e.clockIdentity), e.errlog, now, e.cb.NvmWrite)

	case *protocol.Signaling:
		hdr := msg.GetHeader()
		d := e.domainByNumber(hdr.DomainNumber)
		if d == nil {
			return nil
		}
		for _, m := range d.Machines {
			if m.Cfg.IsMaster && m.Cfg.Port == portIdx {
				m.OnMessageIntervalRequestReceived(&msg.IntervalRequest)
			}
		}
	}
	return nil
}

// applyClockUpdate feeds one slave offset sample into the PI controller,
// but only for the domain selected to drive the local clock; other
// domains' offsets are tracked (sync-lock, CurrentOffsetGet) but never
// steer hardware.
func (e *Engine) applyClockUpdate(d *Domain, offsetNs int64, syncIntervalLog int8, now time.Time) {
	if int(d.Index) != e.piDomain {
		return
	}
	if e.cb.SetCorrection == nil {
		return
	}
	stepNs, freqPPB, state := e.pi.Step(offsetNs, syncIntervalLog)
	if err := e.cb.SetCorrection(freqPPB, stepNs); err != nil {
		e.errlog.Register(ErrPI, PortNone, d.Cfg.DomainNumber, 0, now)
	}
	if state == servo.StateJump {
		e.errlog.Register(ErrLimit, PortNone, d.Cfg.DomainNumber, 0, now)
	}
}

// --- Pdelay/Sync/Signaling transmit wrappers ---

func (e *Engine) transmitPdelayReq(port *Port, req *protocol.PDelayReq) {
	frameID, err := e.frameIDs.Allocate(port.Cfg.Index, protocol.MessagePDelayReq, req.SequenceID, 0, PortNone, false)
	if err != nil {
		return
	}
	bufIdx, err := e.sendMessage(port, protocol.PTPMulticastMAC, req)
	if err != nil {
		e.frameIDs.Release(frameID)
		return
	}
	port.Pdelay.tx.Enqueue(frameID, bufIdx, port.Cfg.Index)
}

func (e *Engine) transmitPdelayResp(port *Port, resp *protocol.PDelayResp) {
	frameID, err := e.frameIDs.Allocate(port.Cfg.Index, protocol.MessagePDelayResp, resp.SequenceID, 0, PortNone, false)
	if err != nil {
		return
	}
	bufIdx, err := e.sendMessage(port, port.Pdelay.ResponseDestination(), resp)
	if err != nil {
		e.frameIDs.Release(frameID)
		return
	}
	port.Pdelay.tx.Enqueue(frameID, bufIdx, port.Cfg.Index)
}

func (e *Engine) transmitPdelayRespFollowUp(port *Port, fup *protocol.PDelayRespFollowUp) {
	frameID, err := e.frameIDs.Allocate(port.Cfg.Index, protocol.MessagePDelayRespFollowUp, fup.SequenceID, 0, PortNone, false)
	if err != nil {
		return
	}
	bufIdx, err := e.sendMessage(port, port.Pdelay.ResponseDestination(), fup)
	if err != nil {
		e.frameIDs.Release(frameID)
		return
	}
	port.Pdelay.tx.Enqueue(frameID, bufIdx, port.Cfg.Index)
}

func (e *Engine) transmitFollowUp(port *Port, d *Domain, machineIdx int, fup *protocol.FollowUp) {
	frameID, err := e.frameIDs.Allocate(port.Cfg.Index, protocol.MessageFollowUp, fup.SequenceID, uint8(machineIdx), d.Index, false)
	if err != nil {
		return
	}
	bufIdx, err := e.sendMessage(port, protocol.PTPMulticastMAC, fup)
	if err != nil {
		e.frameIDs.Release(frameID)
		return
	}
	e.syncTx[port.Cfg.Index].Enqueue(frameID, bufIdx, port.Cfg.Index)
	e.stats.Incr(d.Cfg.DomainNumber, port.Cfg.Index, CounterFollowUpSent)
}

func (e *Engine) transmitSignaling(port *Port, sig *protocol.Signaling) (uint8, error) {
	frameID, err := e.frameIDs.Allocate(port.Cfg.Index, protocol.MessageSignaling, sig.SequenceID, 0, PortNone, false)
	if err != nil {
		return 0, err
	}
	if _, err := e.sendMessage(port, protocol.PTPMulticastMAC, sig); err != nil {
		e.frameIDs.Release(frameID)
		return 0, err
	}
	e.stats.Incr(0, port.Cfg.Index, CounterSignalingSent)
	return frameID, nil
}

// --- TimeStampHandler ---

// TimeStampHandler reports the hardware egress timestamp for a
// previously transmitted frame, identified by the frame-id allocated when
// it was sent.
func (e *Engine) TimeStampHandler(portIdx uint8, frameID uint8, egressS uint64, egressNs uint32, now time.Time) error {
	port, err := e.port(portIdx)
	if err != nil {
		return err
	}
	slot, ok := e.frameIDs.Lookup(frameID)
	if !ok {
		return newErrf(ErrTimestamp, "TimeStampHandler: unknown frame id %d", frameID)
	}
	egress, err := ptptime.NewUnsigned(egressS, egressNs)
	if err != nil {
		e.errlog.Register(ErrConversion, portIdx, PortNone, slot.Sequence, now)
		return err
	}

	switch slot.Kind {
	case protocol.MessageSync:
		d := e.domainAt(slot.Domain)
		if d != nil && int(slot.Machine) < len(d.Machines) {
			m := d.Machines[slot.Machine]
			bridgeRole := !d.Cfg.IsGM && !d.Cfg.SyncedGM
			isGM := d.Cfg.IsGM
			fup := m.BuildFollowUp(egress, bridgeRole, m.ActingGM, isGM, d.Slave(), port.selfIdentity(e.clockIdentity), e.errlog, now)
			e.transmitFollowUp(port, d, int(slot.Machine), fup)
		}
		if tx := e.syncTx[portIdx]; tx != nil {
			tx.Confirm(frameID, egress)
			tx.Release(frameID)
		}

	case protocol.MessagePDelayReq:
		port.Pdelay.OnInitiatorEgress(slot.Sequence, egress)
		port.Pdelay.tx.Confirm(frameID, egress)
		port.Pdelay.tx.Release(frameID)

	case protocol.MessagePDelayResp:
		fup := port.Pdelay.BuildPdelayRespFollowUp(port.selfIdentity(e.clockIdentity), egress)
		e.transmitPdelayRespFollowUp(port, fup)
		port.Pdelay.tx.Confirm(frameID, egress)
		port.Pdelay.tx.Release(frameID)

	case protocol.MessagePDelayRespFollowUp, protocol.MessageFollowUp, protocol.MessageSignaling:
		port.Pdelay.tx.Confirm(frameID, egress)
		port.Pdelay.tx.Release(frameID)
	}
	e.frameIDs.Release(frameID)
	return nil
}

// --- TimerPeriodic ---

// TimerPeriodic runs one tick (nominally every 1ms) of every port's and
// domain's periodic behavior: Pdelay initiation and turnaround watchdogs,
// Sync origination, Signaling scans, sync-receipt timeouts and sync-lock
// hysteresis.
func (e *Engine) TimerPeriodic(now time.Time) {
	for _, port := range e.ports {
		if !port.LinkUp {
			continue
		}
		port.Pdelay.CheckInitiatorTurnaround(now, e.errlog)
		port.Pdelay.CheckResponderTurnaround(now, e.errlog)

		selfIdentity := port.selfIdentity(e.clockIdentity)
		port.Pdelay.TickInitiator(now, selfIdentity, func() uint16 { return e.nextPdelaySeq(port.Cfg.Index) },
			func(req *protocol.PDelayReq) (uint8, error) {
				e.transmitPdelayReq(port, req)
				e.stats.Incr(0, port.Cfg.Index, CounterPdelayReqSent)
				return 0, nil
			}, e.errlog)
	}

	for _, d := range e.domains {
		if d.StartupExpired(now) {
			for _, m := range d.Machines {
				if m.Cfg.IsMaster {
					m.ActingGM = true
					if m.MasterSt == MasterNotEnabled {
						m.MasterSt = MasterIniting
					}
				}
			}
			e.errlog.Register(ErrSync, PortNone, d.Cfg.DomainNumber, 0, now)
		}

		d.CheckSyncReceiptTimeout(now, func() {
			if slave := d.Slave(); slave != nil {
				slave.handleLossOfSync(e.errlog, now)
			}
		})

		slave := d.Slave()
		slaveLog := LogIntervalMax
		if slave != nil {
			slaveLog = slave.logInterval
		}

		for mi, m := range d.Machines {
			if !m.Cfg.IsMaster {
				continue
			}
			port, err := e.port(m.Cfg.Port)
			if err != nil || !port.LinkUp {
				continue
			}
			skip := 0
			if slave != nil {
				skip = SyncSkipCount(m.logInterval, slaveLog)
			}
			domain, machineIdx := d, mi
			m.TickMaster(now, skip, func() uint16 { return e.nextSyncSeq(domain.Index, machineIdx) },
				func(sync *protocol.Sync) (uint8, error) {
					frameID, err := e.frameIDs.Allocate(port.Cfg.Index, protocol.MessageSync, sync.SequenceID, uint8(machineIdx), domain.Index, m.ActingGM)
					if err != nil {
						return 0, err
					}
					bufIdx, err := e.sendMessage(port, protocol.PTPMulticastMAC, sync)
					if err != nil {
						e.frameIDs.Release(frameID)
						return 0, err
					}
					e.syncTx[port.Cfg.Index].Enqueue(frameID, bufIdx, port.Cfg.Index)
					e.stats.Incr(domain.Cfg.DomainNumber, port.Cfg.Index, CounterSyncSent)
					return frameID, nil
				}, port.selfIdentity(e.clockIdentity), e.errlog)
		}

		if slave != nil {
			if slave.UpdateSyncLock(d.Cfg.SynTrigOffsetNs, d.Cfg.UnsTrigOffsetNs, d.Cfg.SynTrigCnt, d.Cfg.UnsTrigCnt) {
				if e.cb.SyncNotify != nil {
					e.cb.SyncNotify(d.Cfg.DomainNumber, slave.lock == Locked)
				}
			}
			if port, err := e.port(slave.Cfg.Port); err == nil {
				domainIdx := d.Index
				TickSignaling(d, now, port.selfIdentity(e.clockIdentity),
					func() uint16 { return e.nextSignalSeq(domainIdx) },
					func(sig *protocol.Signaling) (uint8, error) {
						return e.transmitSignaling(port, sig)
					}, e.errlog)
			}
		}
	}
}

// --- link state ---

// LinkUpNotify marks port as up, resetting its Pdelay machine to the
// initial-request state so measurement restarts from scratch.
func (e *Engine) LinkUpNotify(portIdx uint8) error {
	port, err := e.port(portIdx)
	if err != nil {
		return err
	}
	port.LinkUp = true
	port.Pdelay.resetAveragers()
	if port.Pdelay.Port.PdelayInitiatorEnabled {
		port.Pdelay.InitState = InitInitialSendReq
	}
	return nil
}

// LinkDownNotify marks port as down and stops the Pdelay initiator until
// the next LinkUpNotify.
func (e *Engine) LinkDownNotify(portIdx uint8) error {
	port, err := e.port(portIdx)
	if err != nil {
		return err
	}
	port.LinkUp = false
	port.Pdelay.InitState = InitNotEnabled
	return nil
}

// --- management surface ---

// ErrReadIndex returns the error-log entry at i (0 = newest).
func (e *Engine) ErrReadIndex(i int) (ErrorLogEntry, error) {
	return e.errlog.ReadIndex(i)
}

// SyncIntervalGet writes the current log-sync-interval for (domainNumber,
// machineIndex) into out.
func (e *Engine) SyncIntervalGet(domainNumber, machineIndex uint8, out *int8) error {
	d := e.domainByNumber(domainNumber)
	if d == nil || int(machineIndex) >= len(d.Machines) {
		return newErrf(ErrAPI, "SyncIntervalGet: no domain %d machine %d", domainNumber, machineIndex)
	}
	*out = d.Machines[machineIndex].logInterval
	return nil
}

// SyncIntervalSet overrides the log-sync-interval for (domainNumber,
// machineIndex), subject to the configured guard range.
func (e *Engine) SyncIntervalSet(domainNumber, machineIndex uint8, log int8) error {
	d := e.domainByNumber(domainNumber)
	if d == nil || int(machineIndex) >= len(d.Machines) {
		return newErrf(ErrAPI, "SyncIntervalSet: no domain %d machine %d", domainNumber, machineIndex)
	}
	if log < LogIntervalMin || log > LogIntervalMax {
		return newErrf(ErrAPI, "SyncIntervalSet: %d out of range [%d,%d]", log, LogIntervalMin, LogIntervalMax)
	}
	d.Machines[machineIndex].logInterval = log
	return nil
}

// CurrentOffsetGet writes the selected domain's slave's most recent signed
// offset into out. It returns an API-kind error if no offset has been
// computed yet.
func (e *Engine) CurrentOffsetGet(domainNumber uint8, out *ptptime.Signed) error {
	d := e.domainByNumber(domainNumber)
	if d == nil {
		return newErrf(ErrAPI, "CurrentOffsetGet: no domain %d", domainNumber)
	}
	slave := d.Slave()
	if slave == nil {
		return newErrf(ErrAPI, "CurrentOffsetGet: domain %d has no slave machine", domainNumber)
	}
	offsetNs := slave.CurrentOffset()
	if offsetNs == math.MaxInt64 {
		return newErrf(ErrAPI, "CurrentOffsetGet: domain %d has no offset yet", domainNumber)
	}
	*out = ptptime.Normalize(0, offsetNs)
	return nil
}

// GetStatsValue returns the current value of counter for (domainOr0xFFFF,
// port); see Stats.GetStatsValue.
func (e *Engine) GetStatsValue(domainOr0xFFFF uint16, port uint8, counter CounterID) uint32 {
	return e.stats.GetStatsValue(domainOr0xFFFF, port, counter)
}

// ClearStats resets every counter to zero.
func (e *Engine) ClearStats() {
	e.stats.ClearStats()
}
