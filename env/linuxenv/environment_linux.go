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

// Package linuxenv is the real env.Environment: one AF_PACKET raw
// Ethernet socket per port, SO_TIMESTAMPING for TX/RX timestamps,
// CLOCK_ADJTIME against a PHC for clock steering, and a file-backed NVM
// store. It is the production backend cmd/gptpd wires into gptp.Engine.
package linuxenv

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/go-gptp/gptpcore/clock"
	"github.com/go-gptp/gptpcore/gptp"
	"github.com/go-gptp/gptpcore/nvm"
	"github.com/go-gptp/gptpcore/protocol"
	"github.com/go-gptp/gptpcore/ptptime"
	"github.com/go-gptp/gptpcore/timestamp"
)

// rawFrameBytes is large enough for any untagged or single-tagged gPTP
// Ethernet frame.
const rawFrameBytes = 1522

// PortSpec names the interface and its configured engine port index.
type PortSpec struct {
	Index     uint8
	Interface string
}

// port is the open-socket state for one configured port.
type port struct {
	iface *net.Interface
	fd    int
	mac   net.HardwareAddr

	mu      sync.Mutex
	nextBuf uint8
	pending []uint8
}

// Environment wires gPTP to real NICs and a PHC. Transmit's returned
// buffer index is the driver's own TX descriptor ring slot (0-255,
// wrapping); ReapEgress matches kernel TX-completion notifications back
// to it in FIFO order, which is exact as long as a port never has more
// than one cooperative send outstanding between TimerPeriodic ticks —
// true for every machine in this engine's design.
type Environment struct {
	ports   []*port
	clockID int32
	nvm     *nvm.Store
	ts      timestamp.Timestamp
}

// New opens a raw Ethernet socket per spec, enables ts-kind timestamps on
// it, and loads/creates the NVM store at nvmPath. clockID identifies the
// PHC (or CLOCK_REALTIME) SetCorrection steers.
func New(specs []PortSpec, ts timestamp.Timestamp, clockID int32, nvmPath string) (*Environment, error) {
	store, err := nvm.Open(nvmPath)
	if err != nil {
		return nil, fmt.Errorf("linuxenv: %w", err)
	}
	e := &Environment{clockID: clockID, nvm: store, ts: ts}
	for _, spec := range specs {
		iface, err := net.InterfaceByName(spec.Interface)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("linuxenv: interface %s: %w", spec.Interface, err)
		}
		fd, err := timestamp.OpenRawEtherSocket(iface, protocol.EtherTypePTP)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("linuxenv: %s: %w", spec.Interface, err)
		}
		if err := timestamp.EnableTimestamps(ts, fd, iface); err != nil {
			e.Close()
			return nil, fmt.Errorf("linuxenv: %s: %w", spec.Interface, err)
		}
		for len(e.ports) <= int(spec.Index) {
			e.ports = append(e.ports, nil)
		}
		e.ports[spec.Index] = &port{iface: iface, fd: fd, mac: iface.HardwareAddr}
	}
	return e, nil
}

// Close releases every open socket.
func (e *Environment) Close() {
	for _, p := range e.ports {
		if p != nil {
			_ = unix.Close(p.fd)
		}
	}
}

func (e *Environment) port(idx uint8) (*port, error) {
	if int(idx) >= len(e.ports) || e.ports[idx] == nil {
		return nil, fmt.Errorf("linuxenv: unconfigured port %d", idx)
	}
	return e.ports[idx], nil
}

// Transmit implements env.Environment.
func (e *Environment) Transmit(portIdx uint8, frame []byte) (int, error) {
	p, err := e.port(portIdx)
	if err != nil {
		return 0, err
	}
	if len(frame) < 6 {
		return 0, fmt.Errorf("linuxenv: frame too short to carry a destination MAC")
	}
	dst := net.HardwareAddr(frame[0:6])
	sa, err := timestamp.LinklayerSockaddr(p.iface, dst, protocol.EtherTypePTP)
	if err != nil {
		return 0, fmt.Errorf("linuxenv: port %d: %w", portIdx, err)
	}
	if err := timestamp.SendRawFrame(p.fd, sa, frame); err != nil {
		return 0, fmt.Errorf("linuxenv: port %d: send failed: %w", portIdx, err)
	}

	p.mu.Lock()
	bufIdx := p.nextBuf
	p.nextBuf++
	p.pending = append(p.pending, bufIdx)
	p.mu.Unlock()
	return int(bufIdx), nil
}

// ReapEgress polls port for one outstanding TX-completion timestamp,
// returning the frame-id (== the buffer index Transmit returned for it)
// a driving loop should pass straight to Engine.TimeStampHandler.
func (e *Environment) ReapEgress(portIdx uint8) (frameID uint8, egress ptptime.Unsigned, ok bool) {
	p, err := e.port(portIdx)
	if err != nil {
		return 0, ptptime.Unsigned{}, false
	}
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return 0, ptptime.Unsigned{}, false
	}
	p.mu.Unlock()

	t, _, err := timestamp.ReadTXtimestamp(p.fd)
	if err != nil {
		log.WithError(err).WithField("port", portIdx).Debug("linuxenv: no TX timestamp ready")
		return 0, ptptime.Unsigned{}, false
	}

	p.mu.Lock()
	frameID = p.pending[0]
	p.pending = p.pending[1:]
	p.mu.Unlock()

	return frameID, ptptime.Unsigned{Seconds: uint64(t.Unix()), Nanoseconds: uint32(t.Nanosecond())}, true
}

// ReceiveFrame blocks for one incoming frame on port and its RX
// timestamp. It decodes the Ethernet (and, if present, 802.1Q) headers
// with gopacket purely to filter and log; the payload handed back is the
// raw frame, still destined for protocol.DecodeFrame inside
// Engine.MsgReceive.
func (e *Environment) ReceiveFrame(portIdx uint8) ([]byte, ptptime.Unsigned, error) {
	p, err := e.port(portIdx)
	if err != nil {
		return nil, ptptime.Unsigned{}, err
	}
	buf := make([]byte, rawFrameBytes)
	oob := make([]byte, timestamp.ControlSizeBytes)
	n, rxTime, err := timestamp.ReadRawFrameWithRXTimestamp(p.fd, buf, oob)
	if err != nil {
		return nil, ptptime.Unsigned{}, fmt.Errorf("linuxenv: port %d: recv failed: %w", portIdx, err)
	}
	frame := buf[:n]

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return nil, ptptime.Unsigned{}, fmt.Errorf("linuxenv: port %d: not a decodable Ethernet frame", portIdx)
	}
	eth := ethLayer.(*layers.Ethernet)
	wantType := layers.EthernetType(protocol.EtherTypePTP)
	if eth.EthernetType != wantType && eth.EthernetType != layers.EthernetTypeDot1Q {
		log.WithFields(log.Fields{"port": portIdx, "ethertype": eth.EthernetType}).Trace("linuxenv: dropping non-PTP frame")
		return nil, ptptime.Unsigned{}, fmt.Errorf("linuxenv: port %d: unexpected ethertype %s", portIdx, eth.EthernetType)
	}

	return frame, ptptime.Unsigned{Seconds: uint64(rxTime.Unix()), Nanoseconds: uint32(rxTime.Nanosecond())}, nil
}

// SetCorrection implements env.Environment against the configured PHC.
// freqPPB is clamped to the clock's own reported tolerance so a runaway
// servo can't ask the PHC for an adjustment it will refuse outright.
func (e *Environment) SetCorrection(freqPPB int32, stepNs int64) error {
	if maxPPB, _, err := clock.MaxFreqPPB(e.clockID); err == nil {
		if float64(freqPPB) > maxPPB {
			freqPPB = int32(maxPPB)
		} else if float64(freqPPB) < -maxPPB {
			freqPPB = int32(-maxPPB)
		}
	}
	if _, err := clock.AdjFreqPPB(e.clockID, float64(freqPPB)); err != nil {
		return fmt.Errorf("linuxenv: adjust frequency: %w", err)
	}
	if stepNs != 0 {
		if _, err := clock.Step(e.clockID, time.Duration(stepNs)); err != nil {
			return fmt.Errorf("linuxenv: step clock: %w", err)
		}
	}
	return nil
}

// CurrentFrequencyPPB reports the PHC's last-applied frequency offset, for
// status reporting.
func (e *Environment) CurrentFrequencyPPB() (float64, error) {
	freqPPB, _, err := clock.FrequencyPPB(e.clockID)
	return freqPPB, err
}

// ErrNotify implements env.Notifier by logging the rejected/erroring event.
func (e *Environment) ErrNotify(entry gptp.ErrorLogEntry) {
	log.WithFields(log.Fields{
		"kind":   entry.Kind,
		"port":   entry.Port,
		"domain": entry.Domain,
	}).Warn("linuxenv: error log entry")
}

// SyncNotify implements env.Notifier: once a domain's slave state machine
// locks onto its grandmaster, mark CLOCK_REALTIME status TIME_OK so
// downstream consumers of clock_gettime(2) see the clock as synchronized.
func (e *Environment) SyncNotify(domainNumber uint8, locked bool) {
	log.WithFields(log.Fields{"domain": domainNumber, "locked": locked}).Info("linuxenv: sync lock changed")
	if !locked {
		return
	}
	if err := clock.SetSync(); err != nil {
		log.WithError(err).Warn("linuxenv: failed to mark clock synced")
	}
}

// NvmRead implements env.Environment.
func (e *Environment) NvmRead(port uint8, kind string) (float64, error) {
	return e.nvm.Read(port, kind)
}

// NvmWrite implements env.Environment.
func (e *Environment) NvmWrite(port uint8, kind string, value float64) {
	e.nvm.Write(port, kind, value)
}

// LinkUp implements env.Environment by re-reading the interface's
// carrier flag.
func (e *Environment) LinkUp(portIdx uint8) bool {
	p, err := e.port(portIdx)
	if err != nil {
		return false
	}
	iface, err := net.InterfaceByIndex(p.iface.Index)
	if err != nil {
		return false
	}
	return iface.Flags&net.FlagRunning != 0
}

// PhyAddr implements env.Environment.
func (e *Environment) PhyAddr(portIdx uint8) net.HardwareAddr {
	p, err := e.port(portIdx)
	if err != nil {
		return nil
	}
	return p.mac
}

// Now implements env.Environment.
func (e *Environment) Now() time.Time {
	return time.Now()
}
