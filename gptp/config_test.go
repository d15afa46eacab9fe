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

	"github.com/stretchr/testify/require"

	"github.com/go-gptp/gptpcore/protocol"
	"github.com/go-gptp/gptpcore/servo"
)

func onePort() PortConfig {
	return PortConfig{
		Index:                  0,
		MAC:                    net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		PdelayInitiatorEnabled: true,
	}
}

func baseEngineConfig() EngineConfig {
	return EngineConfig{
		Ports: []PortConfig{onePort()},
		Domains: []DomainConfig{
			{
				DomainNumber: 0,
				Machines: []SyncMachineConfig{
					{Port: 0, IsMaster: false},
				},
			},
		},
		PI: servo.DefaultPiControllerCfg(),
	}
}

func TestEngineConfigValidateAccepts(t *testing.T) {
	cfg := baseEngineConfig()
	require.NoError(t, cfg.Validate())
}

func TestEngineConfigValidateRejectsZeroPorts(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.Ports = nil
	require.Error(t, cfg.Validate())
}

func TestEngineConfigValidateRejectsZeroDomains(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.Domains = nil
	require.Error(t, cfg.Validate())
}

func TestEngineConfigValidateRejectsDuplicateDomainNumber(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.Domains = append(cfg.Domains, cfg.Domains[0])
	err := cfg.Validate()
	require.Error(t, err)
	require.Equal(t, ErrInit, err.(*GPTPError).Kind)
}

func TestEngineConfigValidateRejectsStartupTimeoutOver20s(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.Domains[0].StartupTimeoutS = 21
	require.Error(t, cfg.Validate())
}

func TestEngineConfigValidateRejectsUnconfiguredPortReference(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.Domains[0].Machines[0].Port = 5
	require.Error(t, cfg.Validate())
}

func TestEngineConfigValidateRejectsGMDomainWithSlave(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.Domains[0].IsGM = true
	require.Error(t, cfg.Validate())
}

func TestEngineConfigValidateRejectsNonGMDomainWithNoSlave(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.Domains[0].Machines = nil
	require.Error(t, cfg.Validate())
}

func TestEngineConfigValidateAllowsSyncedGMWithNoSlave(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.Domains[0].Machines = nil
	cfg.Domains[0].SyncedGM = true
	cfg.Domains[0].ReferenceDomain = 0
	cfg.Domains = append(cfg.Domains, DomainConfig{
		DomainNumber: 1,
		Machines: []SyncMachineConfig{
			{Port: 0, IsMaster: false},
		},
	})
	// reference_domain must point at a configured domain index; use the
	// second (real slave) domain.
	cfg.Domains[0].ReferenceDomain = 1
	require.NoError(t, cfg.Validate())
}

func TestEngineConfigValidateRejectsSyncedGMBadReference(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.Domains[0].Machines = nil
	cfg.Domains[0].SyncedGM = true
	cfg.Domains[0].ReferenceDomain = 7
	require.Error(t, cfg.Validate())
}

func TestEngineConfigValidateRejectsSlavePortWithoutPdelayInitiator(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.Ports[0].PdelayInitiatorEnabled = false
	require.Error(t, cfg.Validate())
}

func TestEngineConfigValidateRejectsLogIntervalOutOfRange(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.Domains[0].Machines[0].InitialLogInterval = LogIntervalMax + 1
	require.Error(t, cfg.Validate())
}

func TestEngineConfigValidateDelegatesPIValidation(t *testing.T) {
	cfg := baseEngineConfig()
	cfg.PI.NatFreqRatio = 0
	err := cfg.Validate()
	require.Error(t, err)
	require.Equal(t, ErrPI, err.(*GPTPError).Kind)
}

func TestClampSignalingInterval(t *testing.T) {
	require.Equal(t, protocol.LogIntervalStop, clampSignalingInterval(protocol.LogIntervalStop))
	require.Equal(t, protocol.LogIntervalReset, clampSignalingInterval(protocol.LogIntervalReset))
	require.Equal(t, protocol.LogIntervalDontChange, clampSignalingInterval(protocol.LogIntervalDontChange))
	require.Equal(t, protocol.LogInterval(LogIntervalMax), clampSignalingInterval(protocol.LogInterval(LogIntervalMax+10)))
	require.Equal(t, protocol.LogInterval(LogIntervalMin), clampSignalingInterval(protocol.LogInterval(LogIntervalMin-10)))
}
