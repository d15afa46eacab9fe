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

package simenv

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockAdvanceAppliesFrequencyCorrection(t *testing.T) {
	origin := time.Unix(1_000, 0)
	c := NewClock(origin)
	require.NoError(t, c.SetCorrection(1_000_000, 0)) // 1000 ppm, exaggerated for a visible effect
	c.Advance(time.Second)
	require.True(t, c.Now().After(origin.Add(time.Second)))
}

func TestClockSetCorrectionSteps(t *testing.T) {
	origin := time.Unix(1_000, 0)
	c := NewClock(origin)
	require.NoError(t, c.SetCorrection(0, 500))
	require.Equal(t, origin.Add(500*time.Nanosecond), c.Now())
	require.Equal(t, int32(0), c.FreqPPB())
}

func TestTransmitDeliversToConnectedPeer(t *testing.T) {
	clock := NewClock(time.Unix(1_000, 0))
	a := NewNIC(net.HardwareAddr{1, 2, 3, 4, 5, 6}, clock)
	b := NewNIC(net.HardwareAddr{6, 5, 4, 3, 2, 1}, clock)
	Connect(a, b)

	idx, err := a.transmit([]byte{0xAA, 0xBB})
	require.NoError(t, err)
	require.Equal(t, 0, idx)

	frame, _, _, ok := b.NextFrame()
	require.True(t, ok)
	require.Equal(t, []byte{0xAA, 0xBB}, frame)

	ts, ok := a.PopTXTimestamp(idx)
	require.True(t, ok)
	require.Equal(t, uint64(1000), ts.Seconds)
	_, ok = a.PopTXTimestamp(idx)
	require.False(t, ok, "popping twice must fail")
}

func TestTransmitDropsWhenLinkDown(t *testing.T) {
	clock := NewClock(time.Unix(1_000, 0))
	a := NewNIC(net.HardwareAddr{1, 2, 3, 4, 5, 6}, clock)
	a.SetLinkUp(false)
	_, err := a.transmit([]byte{1})
	require.Error(t, err)
}

func TestTransmitNotDeliveredWhenPeerLinkDown(t *testing.T) {
	clock := NewClock(time.Unix(1_000, 0))
	a := NewNIC(net.HardwareAddr{1, 2, 3, 4, 5, 6}, clock)
	b := NewNIC(net.HardwareAddr{6, 5, 4, 3, 2, 1}, clock)
	Connect(a, b)
	b.SetLinkUp(false)

	_, err := a.transmit([]byte{1})
	require.NoError(t, err)
	_, _, _, ok := b.NextFrame()
	require.False(t, ok)
}

func TestEnvironmentNvmRoundTrips(t *testing.T) {
	clock := NewClock(time.Unix(1_000, 0))
	e := New(clock, []net.HardwareAddr{{1, 2, 3, 4, 5, 6}})

	_, err := e.NvmRead(0, "prop_delay")
	require.Error(t, err)

	e.NvmWrite(0, "prop_delay", 42.5)
	v, err := e.NvmRead(0, "prop_delay")
	require.NoError(t, err)
	require.Equal(t, 42.5, v)
}

func TestEnvironmentLinkUpAndPhyAddr(t *testing.T) {
	mac := net.HardwareAddr{1, 2, 3, 4, 5, 6}
	clock := NewClock(time.Unix(1_000, 0))
	e := New(clock, []net.HardwareAddr{mac})

	require.True(t, e.LinkUp(0))
	require.Equal(t, mac, e.PhyAddr(0))
	require.False(t, e.LinkUp(9))
	require.Nil(t, e.PhyAddr(9))
}

func TestEnvironmentTransmitUnknownPortErrors(t *testing.T) {
	clock := NewClock(time.Unix(1_000, 0))
	e := New(clock, []net.HardwareAddr{{1, 2, 3, 4, 5, 6}})
	_, err := e.Transmit(9, []byte{1})
	require.Error(t, err)
}
