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

package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/go-gptp/gptpcore/gptp"
	"github.com/go-gptp/gptpcore/servo"
	"github.com/go-gptp/gptpcore/timestamp"
)

// PortConfig is the on-disk form of gptp.PortConfig: a clock identity as a
// 16-hex-digit string and an interface name in place of a pre-resolved MAC.
type PortConfig struct {
	Interface                string `yaml:"interface"`
	ClockIdentity            string `yaml:"clock_identity"`
	PdelayInitiatorEnabled   bool   `yaml:"pdelay_initiator_enabled"`
	PdelayUnicastResponse    bool   `yaml:"pdelay_unicast_response"`
	InitialLogInterval       int8   `yaml:"initial_log_interval"`
	OperationalLogInterval   int8   `yaml:"operational_log_interval"`
	AllowedLostResponses     uint8  `yaml:"allowed_lost_responses"`
	MeasurementsTillSlowdown uint8  `yaml:"measurements_till_slowdown"`
	PropDelayThreshNs        int64  `yaml:"prop_delay_thresh_ns"`
	AsymmetryNs              int64  `yaml:"asymmetry_ns"`
	NvmPropDelayAddr         string `yaml:"nvm_prop_delay_addr"`
	NvmRateRatioAddr         string `yaml:"nvm_rate_ratio_addr"`
}

// SyncMachineConfig is the on-disk form of gptp.SyncMachineConfig.
type SyncMachineConfig struct {
	Port                   uint8 `yaml:"port"`
	IsMaster               bool  `yaml:"is_master"`
	InitialLogInterval     int8  `yaml:"initial_log_interval"`
	OperationalLogInterval int8  `yaml:"operational_log_interval"`
}

// DomainConfig is the on-disk form of gptp.DomainConfig.
type DomainConfig struct {
	DomainNumber          uint8               `yaml:"domain_number"`
	IsGM                  bool                `yaml:"is_gm"`
	SyncedGM              bool                `yaml:"synced_gm"`
	ReferenceDomain       int                 `yaml:"reference_domain"`
	StartupTimeoutS       int                 `yaml:"startup_timeout_s"`
	SyncReceiptTimeoutCnt int                 `yaml:"sync_receipt_timeout_cnt"`
	OutlierThresholdNs    int64               `yaml:"outlier_threshold_ns"`
	OutlierIgnoreCnt      int                 `yaml:"outlier_ignore_cnt"`
	VLANEnabled           bool                `yaml:"vlan_enabled"`
	VLANTci               uint16              `yaml:"vlan_tci"`
	Machines              []SyncMachineConfig `yaml:"machines"`
	SynTrigOffsetNs       int64               `yaml:"syn_trig_offset_ns"`
	UnsTrigOffsetNs       int64               `yaml:"uns_trig_offset_ns"`
	SynTrigCnt            int                 `yaml:"syn_trig_cnt"`
	UnsTrigCnt            int                 `yaml:"uns_trig_cnt"`
}

// PIConfig is the on-disk form of servo.PiControllerCfg.
type PIConfig struct {
	DampingRatio        float64 `yaml:"damping_ratio"`
	NatFreqRatio        float64 `yaml:"nat_freq_ratio"`
	IntegralWindupLimit float64 `yaml:"integral_windup_limit"`
	MaxThreshold        int64   `yaml:"max_threshold_ns"`
}

// AveragerConfig is the on-disk form of gptp.AveragerConfig.
type AveragerConfig struct {
	PdelAvgWeight     float64 `yaml:"pdel_avg_weight"`
	RratioAvgWeight   float64 `yaml:"rratio_avg_weight"`
	RratioMaxDev      float64 `yaml:"rratio_max_dev"`
	PdelayNvmWriteThr float64 `yaml:"pdelay_nvm_write_thr"`
	RratioNvmWriteThr float64 `yaml:"rratio_nvm_write_thr"`
}

// Config is the top-level daemon configuration file, translated into
// gptp.EngineConfig by toEngineConfig.
type Config struct {
	Sim                    bool           `yaml:"sim"`
	Timestamping           string         `yaml:"timestamping"` // "hw" or "sw"
	ClockID                int32          `yaml:"clock_id"`
	NvmPath                string         `yaml:"nvm_path"`
	LogLevel               string         `yaml:"log_level"`
	MetricsAddr            string         `yaml:"metrics_addr"`
	EthFramePrio           uint8          `yaml:"eth_frame_prio"`
	VLANEnabled            bool           `yaml:"vlan_enabled"`
	VLANTci                uint16         `yaml:"vlan_tci"`
	SdoIDCompatibilityMode bool           `yaml:"sdo_id_compatibility_mode"`
	ManufacturerID         string         `yaml:"manufacturer_id"`
	ProductRevision        string         `yaml:"product_revision"`
	Ports                  []PortConfig   `yaml:"ports"`
	Domains                []DomainConfig `yaml:"domains"`
	PI                     PIConfig       `yaml:"pi"`
	Averager               AveragerConfig `yaml:"averager"`
}

// DefaultConfig returns a single-port, single-slave-domain starting point
// meant to be edited, not run as-is.
func DefaultConfig() Config {
	pi := servo.DefaultPiControllerCfg()
	return Config{
		Timestamping: "sw",
		LogLevel:     "info",
		NvmPath:      "/var/lib/gptpd/nvm.json",
		Ports: []PortConfig{
			{
				Interface:              "eth0",
				ClockIdentity:          "0000000000000000",
				PdelayInitiatorEnabled: true,
				OperationalLogInterval: 0,
				InitialLogInterval:     -3,
				AllowedLostResponses:   3,
			},
		},
		Domains: []DomainConfig{
			{
				DomainNumber: 0,
				Machines: []SyncMachineConfig{
					{Port: 0, IsMaster: false, InitialLogInterval: -3, OperationalLogInterval: 0},
				},
			},
		},
		PI: PIConfig{
			DampingRatio:        pi.DampingRatio,
			NatFreqRatio:        pi.NatFreqRatio,
			IntegralWindupLimit: pi.IntegralWindupLimit,
			MaxThreshold:        pi.MaxThreshold,
		},
		Averager: AveragerConfig{
			PdelAvgWeight:     0.9,
			RratioAvgWeight:   0.9,
			RratioMaxDev:      0.01,
			PdelayNvmWriteThr: 1000,
			RratioNvmWriteThr: 0.00001,
		},
	}
}

// ReadConfig reads and parses a daemon config file from path.
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &c, nil
}

// timestampKind maps the config's "hw"/"sw" string onto timestamp.Timestamp.
func (c *Config) timestampKind() (timestamp.Timestamp, error) {
	switch c.Timestamping {
	case "", "sw":
		return timestamp.SW, nil
	case "hw":
		return timestamp.HW, nil
	default:
		return 0, fmt.Errorf("unknown timestamping kind %q", c.Timestamping)
	}
}

// toEngineConfig translates the on-disk Config into gptp.EngineConfig,
// resolving each port's interface to a MAC address via resolveMAC.
func (c *Config) toEngineConfig(resolveMAC func(iface string) (net.HardwareAddr, error)) (gptp.EngineConfig, error) {
	ports := make([]gptp.PortConfig, len(c.Ports))
	for i, p := range c.Ports {
		id, err := parseClockIdentity(p.ClockIdentity)
		if err != nil {
			return gptp.EngineConfig{}, fmt.Errorf("port %d: %w", i, err)
		}
		mac, err := resolveMAC(p.Interface)
		if err != nil {
			return gptp.EngineConfig{}, fmt.Errorf("port %d: %w", i, err)
		}
		ports[i] = gptp.PortConfig{
			Index:                    uint8(i),
			ClockIdentity:            id,
			MAC:                      mac,
			PdelayInitiatorEnabled:   p.PdelayInitiatorEnabled,
			PdelayUnicastResponse:    p.PdelayUnicastResponse,
			InitialLogInterval:       p.InitialLogInterval,
			OperationalLogInterval:   p.OperationalLogInterval,
			AllowedLostResponses:     p.AllowedLostResponses,
			MeasurementsTillSlowdown: p.MeasurementsTillSlowdown,
			PropDelayThreshNs:        p.PropDelayThreshNs,
			AsymmetryNs:              p.AsymmetryNs,
			NvmPropDelayAddr:         p.NvmPropDelayAddr,
			NvmRateRatioAddr:         p.NvmRateRatioAddr,
		}
	}

	domains := make([]gptp.DomainConfig, len(c.Domains))
	for i, d := range c.Domains {
		machines := make([]gptp.SyncMachineConfig, len(d.Machines))
		for j, m := range d.Machines {
			machines[j] = gptp.SyncMachineConfig{
				Port:                   m.Port,
				IsMaster:               m.IsMaster,
				InitialLogInterval:     m.InitialLogInterval,
				OperationalLogInterval: m.OperationalLogInterval,
			}
		}
		domains[i] = gptp.DomainConfig{
			DomainNumber:          d.DomainNumber,
			IsGM:                  d.IsGM,
			SyncedGM:              d.SyncedGM,
			ReferenceDomain:       d.ReferenceDomain,
			StartupTimeoutS:       d.StartupTimeoutS,
			SyncReceiptTimeoutCnt: d.SyncReceiptTimeoutCnt,
			OutlierThresholdNs:    d.OutlierThresholdNs,
			OutlierIgnoreCnt:      d.OutlierIgnoreCnt,
			VLANEnabled:           d.VLANEnabled,
			VLANTci:               d.VLANTci,
			Machines:              machines,
			SynTrigOffsetNs:       d.SynTrigOffsetNs,
			UnsTrigOffsetNs:       d.UnsTrigOffsetNs,
			SynTrigCnt:            d.SynTrigCnt,
			UnsTrigCnt:            d.UnsTrigCnt,
		}
	}

	return gptp.EngineConfig{
		EthFramePrio:           c.EthFramePrio,
		VLANEnabled:            c.VLANEnabled,
		VLANTci:                c.VLANTci,
		SdoIDCompatibilityMode: c.SdoIDCompatibilityMode,
		Ports:                  ports,
		Domains:                domains,
		PI: servo.PiControllerCfg{
			DampingRatio:        c.PI.DampingRatio,
			NatFreqRatio:        c.PI.NatFreqRatio,
			IntegralWindupLimit: c.PI.IntegralWindupLimit,
			MaxThreshold:        c.PI.MaxThreshold,
		},
		Averager: gptp.AveragerConfig{
			PdelAvgWeight:     c.Averager.PdelAvgWeight,
			RratioAvgWeight:   c.Averager.RratioAvgWeight,
			RratioMaxDev:      c.Averager.RratioMaxDev,
			PdelayNvmWriteThr: c.Averager.PdelayNvmWriteThr,
			RratioNvmWriteThr: c.Averager.RratioNvmWriteThr,
		},
		ManufacturerID:  c.ManufacturerID,
		ProductRevision: c.ProductRevision,
	}, nil
}

func parseClockIdentity(s string) ([8]byte, error) {
	var id [8]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("clock_identity %q: %w", s, err)
	}
	if len(raw) != 8 {
		return id, fmt.Errorf("clock_identity %q: want 16 hex digits, got %d bytes", s, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func resolveInterfaceMAC(iface string) (net.HardwareAddr, error) {
	nic, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("resolving interface %s: %w", iface, err)
	}
	return nic.HardwareAddr, nil
}
