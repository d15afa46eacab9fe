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
)

// headerSize is the fixed 34-byte common PTP message header, Table 35.
const headerSize = 34

// Header is the common PTP message header, present at the start of every
// message body (the Ethernet/802.1Q prefix lives outside it, see Frame).
type Header struct {
	SdoIDAndMsgType     SdoIDAndMsgType
	Version             uint8
	MessageLength       uint16
	DomainNumber        uint8
	MinorSdoID          uint8
	FlagField           uint16
	CorrectionField     Correction
	MessageTypeSpecific uint32
	SourcePortIdentity  PortIdentity
	SequenceID          uint16
	ControlField        uint8
	LogMessageInterval  LogInterval
}

// MessageType returns the message kind encoded in the header.
func (h *Header) MessageType() MessageType {
	return h.SdoIDAndMsgType.MsgType()
}

func marshalHeader(h *Header, b []byte) {
	b[0] = byte(h.SdoIDAndMsgType)
	b[1] = h.Version
	binary.BigEndian.PutUint16(b[2:], h.MessageLength)
	b[4] = h.DomainNumber
	b[5] = h.MinorSdoID
	binary.BigEndian.PutUint16(b[6:], h.FlagField)
	binary.BigEndian.PutUint64(b[8:], uint64(h.CorrectionField))
	binary.BigEndian.PutUint32(b[16:], h.MessageTypeSpecific)
	binary.BigEndian.PutUint64(b[20:], uint64(h.SourcePortIdentity.ClockIdentity))
	binary.BigEndian.PutUint16(b[28:], h.SourcePortIdentity.PortNumber)
	binary.BigEndian.PutUint16(b[30:], h.SequenceID)
	b[32] = h.ControlField
	b[33] = byte(h.LogMessageInterval)
}

func unmarshalHeader(h *Header, b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("protocol: short buffer for header, got %d want %d", len(b), headerSize)
	}
	h.SdoIDAndMsgType = SdoIDAndMsgType(b[0])
	h.Version = b[1]
	h.MessageLength = binary.BigEndian.Uint16(b[2:])
	h.DomainNumber = b[4]
	h.MinorSdoID = b[5]
	h.FlagField = binary.BigEndian.Uint16(b[6:])
	h.CorrectionField = Correction(binary.BigEndian.Uint64(b[8:]))
	h.MessageTypeSpecific = binary.BigEndian.Uint32(b[16:])
	h.SourcePortIdentity.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(b[20:]))
	h.SourcePortIdentity.PortNumber = binary.BigEndian.Uint16(b[28:])
	h.SequenceID = binary.BigEndian.Uint16(b[30:])
	h.ControlField = b[32]
	h.LogMessageInterval = LogInterval(b[33])
	return nil
}

// control field values, the use of which is obsolete per IEEE but which
// 802.1AS profiles still populate for compatibility.
const (
	ControlSync     uint8 = 0
	ControlFollowUp uint8 = 2
	ControlOther    uint8 = 5
)
