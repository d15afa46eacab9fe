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
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v2"
)

func TestParseClockIdentity(t *testing.T) {
	id, err := parseClockIdentity("0011223344556677")
	require.NoError(t, err)
	require.Equal(t, [8]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77}, id)

	_, err = parseClockIdentity("not-hex")
	require.Error(t, err)

	_, err = parseClockIdentity("001122")
	require.Error(t, err)
}

func TestReadConfigRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gptpd.yaml")

	out, err := yaml.Marshal(DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, out, 0o644))

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Ports, 1)
	require.Equal(t, "eth0", cfg.Ports[0].Interface)
}

func TestToEngineConfigResolvesMAC(t *testing.T) {
	cfg := DefaultConfig()
	mac := net.HardwareAddr{1, 2, 3, 4, 5, 6}
	engineCfg, err := cfg.toEngineConfig(func(string) (net.HardwareAddr, error) { return mac, nil })
	require.NoError(t, err)
	require.Equal(t, mac, engineCfg.Ports[0].MAC)
	require.Len(t, engineCfg.Domains, 1)
	require.Equal(t, engineCfg.PI.DampingRatio, cfg.PI.DampingRatio)
}

func TestTimestampKind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timestamping = "hw"
	kind, err := cfg.timestampKind()
	require.NoError(t, err)
	require.Equal(t, 2, int(kind))

	cfg.Timestamping = "bogus"
	_, err = cfg.timestampKind()
	require.Error(t, err)
}
