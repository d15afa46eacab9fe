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

package timestamp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinklayerSockaddrRejectsNonEUI48(t *testing.T) {
	iface := &net.Interface{Index: 1, Name: "lo"}
	_, err := LinklayerSockaddr(iface, net.HardwareAddr{0x01, 0x02}, 0x88F7)
	require.Error(t, err)
}

func TestLinklayerSockaddrFillsFields(t *testing.T) {
	iface := &net.Interface{Index: 3, Name: "eth0"}
	mac := net.HardwareAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x0E}
	sll, err := LinklayerSockaddr(iface, mac, 0x88F7)
	require.NoError(t, err)
	require.Equal(t, 3, sll.Ifindex)
	require.Equal(t, uint8(6), sll.Halen)
	require.Equal(t, []byte(mac), sll.Addr[:6])
}

func TestHtonsMatchesNetworkByteOrder(t *testing.T) {
	// On a little-endian host, 0x88F7 in network byte order reads back as 0xF788.
	require.Equal(t, uint16(0xF788), htons(0x88F7))
}
