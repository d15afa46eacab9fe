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

	"github.com/go-gptp/gptpcore/servo"
)

// LogIntervalMin and LogIntervalMax bound every configured or
// signaling-requested sync-interval log, per the AUTOSAR-derived
// LOG_SYNC_INT_MIN/MAX constants.
const (
	LogIntervalMin int8 = -5
	LogIntervalMax int8 = 0
)

// SignalingIntervalNS is the Signaling re-scan cadence.
const SignalingIntervalNS = 1_500_000_000

// watchdogCeilingNS is the 10ms ceiling shared by Pdelay turnaround and
// Sync residence watchdogs.
const watchdogCeilingNS = 10_000_000

// PortConfig describes one physical gPTP port.
type PortConfig struct {
	Index                   uint8
	ClockIdentity           [8]byte
	MAC                     net.HardwareAddr
	PdelayInitiatorEnabled  bool
	PdelayUnicastResponse   bool
	InitialLogInterval      int8
	OperationalLogInterval  int8
	AllowedLostResponses    uint8
	MeasurementsTillSlowdown uint8
	PropDelayThreshNs       int64
	AsymmetryNs             int64
	NvmPropDelayAddr        string
	NvmRateRatioAddr        string
}

// SyncMachineConfig describes one configured master or slave machine
// inside a Domain.
type SyncMachineConfig struct {
	Port            uint8
	IsMaster        bool
	InitialLogInterval int8
	OperationalLogInterval int8
}

// DomainConfig describes one synchronization domain.
type DomainConfig struct {
	DomainNumber       uint8
	IsGM               bool
	SyncedGM           bool
	ReferenceDomain    int
	StartupTimeoutS    int
	SyncReceiptTimeoutCnt int
	OutlierThresholdNs int64
	OutlierIgnoreCnt   int
	VLANEnabled        bool
	VLANTci            uint16
	Machines           []SyncMachineConfig
	SynTrigOffsetNs    int64
	UnsTrigOffsetNs    int64
	SynTrigCnt         int
	UnsTrigCnt         int
}

// AveragerConfig configures the exponential filters shared by every
// PdelayMachine.
type AveragerConfig struct {
	PdelAvgWeight     float64
	RratioAvgWeight   float64
	RratioMaxDev      float64
	PdelayNvmWriteThr float64
	RratioNvmWriteThr float64
}

// EngineConfig is the top-level configuration accepted by Init.
type EngineConfig struct {
	EthFramePrio           uint8
	VLANEnabled            bool
	VLANTci                uint16
	SdoIDCompatibilityMode bool
	Ports                  []PortConfig
	Domains                []DomainConfig
	PI                     servo.PiControllerCfg
	Averager               AveragerConfig
	ManufacturerID         string
	ProductRevision        string
}

// Validate checks the configuration for the violations spec'd for Init,
// returning the first one found as an Init-kind GPTPError (an invalid PI
// controller configuration comes back as a PI-kind one).
func (c *EngineConfig) Validate() error {
	if len(c.Ports) == 0 {
		return newErr(ErrInit, "zero port count")
	}
	if len(c.Domains) == 0 {
		return newErr(ErrInit, "zero domain count")
	}
	seenDomainNumbers := make(map[uint8]bool)
	for di, d := range c.Domains {
		if seenDomainNumbers[d.DomainNumber] {
			return newErrf(ErrInit, "duplicate domain number %d", d.DomainNumber)
		}
		seenDomainNumbers[d.DomainNumber] = true

		if d.SyncedGM {
			if d.ReferenceDomain < 0 || d.ReferenceDomain >= len(c.Domains) {
				return newErrf(ErrInit, "domain %d: synced_gm reference_domain %d not configured", di, d.ReferenceDomain)
			}
		}
		if d.StartupTimeoutS > 20 {
			return newErrf(ErrInit, "domain %d: startup_timeout_s %d exceeds 20s limit", di, d.StartupTimeoutS)
		}

		slaveCount := 0
		for _, m := range d.Machines {
			if int(m.Port) >= len(c.Ports) {
				return newErrf(ErrInit, "domain %d: machine references unconfigured port %d", di, m.Port)
			}
			if !m.IsMaster {
				slaveCount++
				if d.IsGM {
					return newErrf(ErrInit, "domain %d: GM domain must not have a slave machine", di)
				}
				if !c.Ports[m.Port].PdelayInitiatorEnabled {
					return newErrf(ErrInit, "domain %d: slave port %d must have pdelay initiator enabled", di, m.Port)
				}
			}
			if il := m.InitialLogInterval; il < LogIntervalMin || il > LogIntervalMax {
				return newErrf(ErrInit, "domain %d: initial log interval %d out of range [%d,%d]", di, il, LogIntervalMin, LogIntervalMax)
			}
			if ol := m.OperationalLogInterval; ol < LogIntervalMin || ol > LogIntervalMax {
				return newErrf(ErrInit, "domain %d: operational log interval %d out of range [%d,%d]", di, ol, LogIntervalMin, LogIntervalMax)
			}
		}
		if !d.IsGM && !d.SyncedGM && slaveCount == 0 {
			return newErrf(ErrInit, "domain %d: non-GM domain has no slave machine", di)
		}
		if d.IsGM && slaveCount > 0 {
			return newErrf(ErrInit, "domain %d: GM domain must not have a slave machine", di)
		}
	}
	if err := c.PI.Validate(); err != nil {
		return newErrf(ErrPI, "%v", err)
	}
	return nil
}
