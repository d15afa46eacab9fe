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

// Raw AF_PACKET socket helpers: a gPTP endpoint talks directly to
// Ethernet, not IP, so TX/RX timestamping is wired to a SOCK_RAW socket
// bound to a single interface and addressed with SockaddrLinklayer rather
// than a UDP conn. ReadRawFrameWithRXTimestamp reuses the family-agnostic
// control-message parsing in ReadPacketWithRXTimestampBuf.

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// htons converts a host-order uint16 into the network-order value the
// kernel expects for the protocol argument of a PF_PACKET socket.
func htons(v uint16) uint16 {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return binary.NativeEndian.Uint16(b)
}

// OpenRawEtherSocket opens an AF_PACKET/SOCK_RAW socket bound to iface,
// receiving only frames of etherType (host byte order, e.g.
// protocol.EtherTypePTP).
func OpenRawEtherSocket(iface *net.Interface, etherType uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(etherType)))
	if err != nil {
		return -1, fmt.Errorf("failed to open AF_PACKET socket: %w", err)
	}
	sll := &unix.SockaddrLinklayer{
		Protocol: htons(etherType),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, sll); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("failed to bind AF_PACKET socket to %s: %w", iface.Name, err)
	}
	return fd, nil
}

// LinklayerSockaddr builds the destination address for a raw send to mac
// on iface.
func LinklayerSockaddr(iface *net.Interface, mac net.HardwareAddr, etherType uint16) (*unix.SockaddrLinklayer, error) {
	if len(mac) != 6 {
		return nil, fmt.Errorf("timestamp: MAC %v is not EUI-48", mac)
	}
	sll := &unix.SockaddrLinklayer{
		Protocol: htons(etherType),
		Ifindex:  iface.Index,
		Halen:    6,
	}
	copy(sll.Addr[:6], mac)
	return sll, nil
}

// SendRawFrame writes buf to the raw socket fd, addressed to dst.
func SendRawFrame(fd int, dst *unix.SockaddrLinklayer, buf []byte) error {
	return unix.Sendto(fd, buf, 0, dst)
}

// ReadRawFrameWithRXTimestamp reads one frame off the raw socket fd along
// with its RX timestamp (hardware if available, software otherwise),
// reusing ReadPacketWithRXTimestampBuf's control-message parsing.
func ReadRawFrameWithRXTimestamp(fd int, buf, oob []byte) (int, time.Time, error) {
	n, _, t, err := ReadPacketWithRXTimestampBuf(fd, buf, oob)
	return n, t, err
}
