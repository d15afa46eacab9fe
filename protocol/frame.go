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

package protocol

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	ethHeaderSize  = 14
	vlanHeaderSize = 4
)

// Frame is a decoded Ethernet frame carrying a PTP message, with an
// optional 802.1Q tag.
type Frame struct {
	Destination net.HardwareAddr
	Source      net.HardwareAddr
	VLANTag     *VLANTag
	Message     Message
}

// VLANTag is an 802.1Q tag: priority (3 bits), DEI (1 bit) and VLAN ID (12
// bits), packed as on the wire.
type VLANTag struct {
	PCP uint8
	DEI bool
	VID uint16
}

func (v VLANTag) encode() uint16 {
	tci := v.VID & 0x0fff
	tci |= uint16(v.PCP&0x7) << 13
	if v.DEI {
		tci |= 1 << 12
	}
	return tci
}

func decodeVLANTag(tci uint16) VLANTag {
	return VLANTag{
		PCP: uint8(tci >> 13),
		DEI: tci&(1<<12) != 0,
		VID: tci & 0x0fff,
	}
}

// EncodeFrame marshals a Frame (Ethernet header, optional VLAN tag, PTP
// message) into b, returning the number of bytes written.
func EncodeFrame(f *Frame, b []byte) (int, error) {
	hdrLen := ethHeaderSize
	if f.VLANTag != nil {
		hdrLen += vlanHeaderSize
	}
	if len(b) < hdrLen {
		return 0, fmt.Errorf("protocol: buffer too small for frame header")
	}
	if len(f.Destination) != 6 || len(f.Source) != 6 {
		return 0, fmt.Errorf("protocol: frame addresses must be EUI-48")
	}
	copy(b[0:6], f.Destination)
	copy(b[6:12], f.Source)
	off := 12
	if f.VLANTag != nil {
		binary.BigEndian.PutUint16(b[off:], EtherTypeVLAN)
		binary.BigEndian.PutUint16(b[off+2:], f.VLANTag.encode())
		off += vlanHeaderSize
	}
	binary.BigEndian.PutUint16(b[off:], EtherTypePTP)
	off += 2

	type marshalerTo interface {
		MarshalBinaryTo([]byte) (int, error)
	}
	mt, ok := f.Message.(marshalerTo)
	if !ok {
		return 0, fmt.Errorf("protocol: message type %T does not support marshaling", f.Message)
	}
	n, err := mt.MarshalBinaryTo(b[off:])
	if err != nil {
		return 0, err
	}
	return off + n, nil
}

// DecodeFrame parses an Ethernet frame and, if it carries a PTP payload,
// decodes the message. It returns a nil Frame with no error if the
// EtherType does not match a PTP frame (the caller is expected to ignore
// such frames, not treat them as malformed).
func DecodeFrame(b []byte) (*Frame, error) {
	if len(b) < ethHeaderSize {
		return nil, fmt.Errorf("protocol: short buffer for Ethernet header, got %d", len(b))
	}
	f := &Frame{
		Destination: net.HardwareAddr(append([]byte(nil), b[0:6]...)),
		Source:      net.HardwareAddr(append([]byte(nil), b[6:12]...)),
	}
	off := 12
	etherType := binary.BigEndian.Uint16(b[off:])
	if etherType == EtherTypeVLAN {
		if len(b) < ethHeaderSize+vlanHeaderSize {
			return nil, fmt.Errorf("protocol: short buffer for VLAN header")
		}
		tag := decodeVLANTag(binary.BigEndian.Uint16(b[off+2:]))
		f.VLANTag = &tag
		off += vlanHeaderSize
		etherType = binary.BigEndian.Uint16(b[off:])
	}
	if etherType != EtherTypePTP {
		return nil, nil
	}
	off += 2
	msg, err := DecodeMessage(b[off:])
	if err != nil {
		return nil, err
	}
	f.Message = msg
	return f, nil
}
