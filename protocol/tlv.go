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

// TLVType identifies the kind of a suffix TLV, Table 52.
type TLVType uint16

// TLVOrganizationExtension is the only TLV type this core emits or
// consumes: both the Follow-Up-Information and Message-Interval-Request
// TLVs are organization-extension TLVs distinguished by organizationSubType.
const TLVOrganizationExtension TLVType = 0x0003

const tlvHeadSize = 4

// TLVHead is the common 4-byte TLV prefix: type + length.
type TLVHead struct {
	TLVType     TLVType
	LengthField uint16
}

func marshalTLVHead(h TLVHead, b []byte) {
	binary.BigEndian.PutUint16(b, uint16(h.TLVType))
	binary.BigEndian.PutUint16(b[2:], h.LengthField)
}

func unmarshalTLVHead(b []byte) (TLVHead, error) {
	if len(b) < tlvHeadSize {
		return TLVHead{}, fmt.Errorf("protocol: short buffer for TLV head")
	}
	return TLVHead{
		TLVType:     TLVType(binary.BigEndian.Uint16(b)),
		LengthField: binary.BigEndian.Uint16(b[2:]),
	}, nil
}

// organizationID is the 802.1AS organization identifier, 00-80-C2.
var organizationID = [3]byte{0x00, 0x80, 0xC2}

// organization sub-types distinguishing the two TLVs we implement under
// TLVOrganizationExtension.
const (
	orgSubTypeFollowUpInformation  = 1
	orgSubTypeMessageIntervalReq   = 2
	followUpInformationTLVLength   = 28
	messageIntervalRequestTLVLen   = 12
	followUpInformationTLVWireSize = tlvHeadSize + followUpInformationTLVLength
	messageIntervalReqTLVWireSize  = tlvHeadSize + messageIntervalRequestTLVLen
)

// ScaledNS is the 802.1AS scaledNs type: a 64-bit nanosecond count split
// across a 16-bit MSB and 64-bit LSB (only the low 48 bits of the pair are
// meaningful), plus a 16-bit fractional-nanosecond part.
type ScaledNS struct {
	NanosecondsMSB        uint16
	NanosecondsLSB        uint64
	FractionalNanoseconds uint16
}

// FollowUpInformationTLV carries the cumulative rate ratio and GM
// phase/frequency change bookkeeping alongside a Follow_Up message.
type FollowUpInformationTLV struct {
	CumulativeScaledRateOffset int32
	GMTimeBaseIndicator        uint16
	LastGmPhaseChange          ScaledNS
	ScaledLastGmFreqChange     int32
}

func (t *FollowUpInformationTLV) marshalTo(b []byte) int {
	marshalTLVHead(TLVHead{TLVType: TLVOrganizationExtension, LengthField: followUpInformationTLVLength}, b)
	copy(b[4:7], organizationID[:])
	b[7], b[8], b[9] = 0, 0, orgSubTypeFollowUpInformation
	binary.BigEndian.PutUint32(b[10:], uint32(t.CumulativeScaledRateOffset))
	binary.BigEndian.PutUint16(b[14:], t.GMTimeBaseIndicator)
	binary.BigEndian.PutUint16(b[16:], t.LastGmPhaseChange.NanosecondsMSB)
	binary.BigEndian.PutUint64(b[18:], t.LastGmPhaseChange.NanosecondsLSB)
	binary.BigEndian.PutUint16(b[26:], t.LastGmPhaseChange.FractionalNanoseconds)
	binary.BigEndian.PutUint32(b[28:], uint32(t.ScaledLastGmFreqChange))
	return followUpInformationTLVWireSize
}

func unmarshalFollowUpInformationTLV(b []byte) (*FollowUpInformationTLV, error) {
	if len(b) < followUpInformationTLVWireSize {
		return nil, fmt.Errorf("protocol: short buffer for Follow-Up-Information TLV")
	}
	t := &FollowUpInformationTLV{
		CumulativeScaledRateOffset: int32(binary.BigEndian.Uint32(b[10:])),
		GMTimeBaseIndicator:        binary.BigEndian.Uint16(b[14:]),
		LastGmPhaseChange: ScaledNS{
			NanosecondsMSB:        binary.BigEndian.Uint16(b[16:]),
			NanosecondsLSB:        binary.BigEndian.Uint64(b[18:]),
			FractionalNanoseconds: binary.BigEndian.Uint16(b[26:]),
		},
		ScaledLastGmFreqChange: int32(binary.BigEndian.Uint32(b[28:])),
	}
	return t, nil
}

// MessageIntervalRequestTLV is the only Signaling TLV this core honors: a
// request from a slave port to its upstream master to change its Sync
// transmission interval.
type MessageIntervalRequestTLV struct {
	LinkDelayIntervalLog LogInterval
	TimeSyncIntervalLog  LogInterval
	AnnounceIntervalLog  LogInterval
	Flags                uint8
}

func (t *MessageIntervalRequestTLV) marshalTo(b []byte) int {
	marshalTLVHead(TLVHead{TLVType: TLVOrganizationExtension, LengthField: messageIntervalRequestTLVLen}, b)
	copy(b[4:7], organizationID[:])
	b[7], b[8], b[9] = 0, 0, orgSubTypeMessageIntervalReq
	b[10] = byte(t.LinkDelayIntervalLog)
	b[11] = byte(t.TimeSyncIntervalLog)
	b[12] = byte(t.AnnounceIntervalLog)
	b[13] = t.Flags
	b[14], b[15] = 0, 0
	return messageIntervalReqTLVWireSize
}

func unmarshalMessageIntervalRequestTLV(b []byte) (*MessageIntervalRequestTLV, error) {
	if len(b) < messageIntervalReqTLVWireSize {
		return nil, fmt.Errorf("protocol: short buffer for Message-Interval-Request TLV")
	}
	return &MessageIntervalRequestTLV{
		LinkDelayIntervalLog: LogInterval(b[10]),
		TimeSyncIntervalLog:  LogInterval(b[11]),
		AnnounceIntervalLog:  LogInterval(b[12]),
		Flags:                b[13],
	}, nil
}

// NewMessageIntervalRequest builds a request that only carries a new Sync
// interval, leaving link-delay and announce intervals unchanged, per
// spec: "only the time-sync-interval octet populated".
func NewMessageIntervalRequest(syncIntervalLog LogInterval) *MessageIntervalRequestTLV {
	return &MessageIntervalRequestTLV{
		LinkDelayIntervalLog: LogIntervalDontChange,
		TimeSyncIntervalLog:  syncIntervalLog,
		AnnounceIntervalLog:  LogIntervalDontChange,
	}
}
