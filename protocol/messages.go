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

// Message is implemented by every decoded PTP message body (Header plus
// kind-specific payload).
type Message interface {
	MessageType() MessageType
	GetHeader() *Header
}

func marshalTimestamp(ts Timestamp, b []byte) {
	copy(b[0:6], ts.Seconds[:])
	binary.BigEndian.PutUint32(b[6:], ts.Nanoseconds)
}

func unmarshalTimestamp(b []byte) Timestamp {
	var ts Timestamp
	copy(ts.Seconds[:], b[0:6])
	ts.Nanoseconds = binary.BigEndian.Uint32(b[6:])
	return ts
}

func marshalPortIdentity(p PortIdentity, b []byte) {
	binary.BigEndian.PutUint64(b[0:], uint64(p.ClockIdentity))
	binary.BigEndian.PutUint16(b[8:], p.PortNumber)
}

func unmarshalPortIdentity(b []byte) PortIdentity {
	return PortIdentity{
		ClockIdentity: ClockIdentity(binary.BigEndian.Uint64(b[0:])),
		PortNumber:    binary.BigEndian.Uint16(b[8:]),
	}
}

// Sync is a Sync message: header plus the origin timestamp (meaningless
// in two-step mode, where the precise timestamp travels in Follow_Up).
type Sync struct {
	Header
	OriginTimestamp Timestamp
}

// MessageType implements Message.
func (p *Sync) MessageType() MessageType { return MessageSync }

// GetHeader implements Message.
func (p *Sync) GetHeader() *Header { return &p.Header }

// SyncWireSize is the full on-wire size of a Sync message body (after the
// Ethernet/VLAN prefix).
const SyncWireSize = headerSize + 10

// MarshalBinaryTo encodes p into b, returning the number of bytes written.
func (p *Sync) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < SyncWireSize {
		return 0, fmt.Errorf("protocol: buffer too small for Sync")
	}
	marshalHeader(&p.Header, b)
	marshalTimestamp(p.OriginTimestamp, b[headerSize:])
	return SyncWireSize, nil
}

// UnmarshalBinary decodes b into p.
func (p *Sync) UnmarshalBinary(b []byte) error {
	if len(b) < SyncWireSize {
		return fmt.Errorf("protocol: short buffer for Sync, got %d want %d", len(b), SyncWireSize)
	}
	if err := unmarshalHeader(&p.Header, b); err != nil {
		return err
	}
	p.OriginTimestamp = unmarshalTimestamp(b[headerSize:])
	return nil
}

// FollowUp carries the precise origin timestamp of a preceding Sync, plus
// the Follow-Up-Information TLV.
type FollowUp struct {
	Header
	PreciseOriginTimestamp Timestamp
	Info                   FollowUpInformationTLV
}

// MessageType implements Message.
func (p *FollowUp) MessageType() MessageType { return MessageFollowUp }

// GetHeader implements Message.
func (p *FollowUp) GetHeader() *Header { return &p.Header }

// FollowUpWireSize is the full on-wire size of a Follow_Up message body.
const FollowUpWireSize = headerSize + 10 + followUpInformationTLVWireSize

// MarshalBinaryTo encodes p into b.
func (p *FollowUp) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < FollowUpWireSize {
		return 0, fmt.Errorf("protocol: buffer too small for Follow_Up")
	}
	marshalHeader(&p.Header, b)
	marshalTimestamp(p.PreciseOriginTimestamp, b[headerSize:])
	n := p.Info.marshalTo(b[headerSize+10:])
	return headerSize + 10 + n, nil
}

// UnmarshalBinary decodes b into p.
func (p *FollowUp) UnmarshalBinary(b []byte) error {
	if len(b) < FollowUpWireSize {
		return fmt.Errorf("protocol: short buffer for Follow_Up, got %d want %d", len(b), FollowUpWireSize)
	}
	if err := unmarshalHeader(&p.Header, b); err != nil {
		return err
	}
	p.PreciseOriginTimestamp = unmarshalTimestamp(b[headerSize:])
	info, err := unmarshalFollowUpInformationTLV(b[headerSize+10:])
	if err != nil {
		return err
	}
	p.Info = *info
	return nil
}

// PDelayReq is a Pdelay_Req message.
type PDelayReq struct {
	Header
	OriginTimestamp Timestamp
}

// MessageType implements Message.
func (p *PDelayReq) MessageType() MessageType { return MessagePDelayReq }

// GetHeader implements Message.
func (p *PDelayReq) GetHeader() *Header { return &p.Header }

// PDelayReqWireSize is the on-wire size of a Pdelay_Req message body.
const PDelayReqWireSize = headerSize + 20

// MarshalBinaryTo encodes p into b.
func (p *PDelayReq) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < PDelayReqWireSize {
		return 0, fmt.Errorf("protocol: buffer too small for Pdelay_Req")
	}
	marshalHeader(&p.Header, b)
	marshalTimestamp(p.OriginTimestamp, b[headerSize:])
	for i := headerSize + 10; i < PDelayReqWireSize; i++ {
		b[i] = 0
	}
	return PDelayReqWireSize, nil
}

// UnmarshalBinary decodes b into p.
func (p *PDelayReq) UnmarshalBinary(b []byte) error {
	if len(b) < PDelayReqWireSize {
		return fmt.Errorf("protocol: short buffer for Pdelay_Req, got %d want %d", len(b), PDelayReqWireSize)
	}
	if err := unmarshalHeader(&p.Header, b); err != nil {
		return err
	}
	p.OriginTimestamp = unmarshalTimestamp(b[headerSize:])
	return nil
}

// PDelayResp is a Pdelay_Resp message.
type PDelayResp struct {
	Header
	RequestReceiptTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

// MessageType implements Message.
func (p *PDelayResp) MessageType() MessageType { return MessagePDelayResp }

// GetHeader implements Message.
func (p *PDelayResp) GetHeader() *Header { return &p.Header }

// PDelayRespWireSize is the on-wire size of a Pdelay_Resp message body.
const PDelayRespWireSize = headerSize + 20

// MarshalBinaryTo encodes p into b.
func (p *PDelayResp) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < PDelayRespWireSize {
		return 0, fmt.Errorf("protocol: buffer too small for Pdelay_Resp")
	}
	marshalHeader(&p.Header, b)
	marshalTimestamp(p.RequestReceiptTimestamp, b[headerSize:])
	marshalPortIdentity(p.RequestingPortIdentity, b[headerSize+10:])
	return PDelayRespWireSize, nil
}

// UnmarshalBinary decodes b into p.
func (p *PDelayResp) UnmarshalBinary(b []byte) error {
	if len(b) < PDelayRespWireSize {
		return fmt.Errorf("protocol: short buffer for Pdelay_Resp, got %d want %d", len(b), PDelayRespWireSize)
	}
	if err := unmarshalHeader(&p.Header, b); err != nil {
		return err
	}
	p.RequestReceiptTimestamp = unmarshalTimestamp(b[headerSize:])
	p.RequestingPortIdentity = unmarshalPortIdentity(b[headerSize+10:])
	return nil
}

// PDelayRespFollowUp is a Pdelay_Resp_Follow_Up message.
type PDelayRespFollowUp struct {
	Header
	ResponseOriginTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

// MessageType implements Message.
func (p *PDelayRespFollowUp) MessageType() MessageType { return MessagePDelayRespFollowUp }

// GetHeader implements Message.
func (p *PDelayRespFollowUp) GetHeader() *Header { return &p.Header }

// PDelayRespFollowUpWireSize is the on-wire size of a
// Pdelay_Resp_Follow_Up message body.
const PDelayRespFollowUpWireSize = headerSize + 20

// MarshalBinaryTo encodes p into b.
func (p *PDelayRespFollowUp) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < PDelayRespFollowUpWireSize {
		return 0, fmt.Errorf("protocol: buffer too small for Pdelay_Resp_Follow_Up")
	}
	marshalHeader(&p.Header, b)
	marshalTimestamp(p.ResponseOriginTimestamp, b[headerSize:])
	marshalPortIdentity(p.RequestingPortIdentity, b[headerSize+10:])
	return PDelayRespFollowUpWireSize, nil
}

// UnmarshalBinary decodes b into p.
func (p *PDelayRespFollowUp) UnmarshalBinary(b []byte) error {
	if len(b) < PDelayRespFollowUpWireSize {
		return fmt.Errorf("protocol: short buffer for Pdelay_Resp_Follow_Up, got %d want %d", len(b), PDelayRespFollowUpWireSize)
	}
	if err := unmarshalHeader(&p.Header, b); err != nil {
		return err
	}
	p.ResponseOriginTimestamp = unmarshalTimestamp(b[headerSize:])
	p.RequestingPortIdentity = unmarshalPortIdentity(b[headerSize+10:])
	return nil
}

// Signaling carries the Message-Interval-Request TLV, the only Signaling
// use this core implements.
type Signaling struct {
	Header
	TargetPortIdentity PortIdentity
	IntervalRequest    MessageIntervalRequestTLV
}

// MessageType implements Message.
func (p *Signaling) MessageType() MessageType { return MessageSignaling }

// GetHeader implements Message.
func (p *Signaling) GetHeader() *Header { return &p.Header }

// SignalingWireSize is the full on-wire size of a Signaling message body.
const SignalingWireSize = headerSize + 10 + messageIntervalReqTLVWireSize

// MarshalBinaryTo encodes p into b.
func (p *Signaling) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < SignalingWireSize {
		return 0, fmt.Errorf("protocol: buffer too small for Signaling")
	}
	marshalHeader(&p.Header, b)
	marshalPortIdentity(p.TargetPortIdentity, b[headerSize:])
	n := p.IntervalRequest.marshalTo(b[headerSize+10:])
	return headerSize + 10 + n, nil
}

// UnmarshalBinary decodes b into p.
func (p *Signaling) UnmarshalBinary(b []byte) error {
	if len(b) < SignalingWireSize {
		return fmt.Errorf("protocol: short buffer for Signaling, got %d want %d", len(b), SignalingWireSize)
	}
	if err := unmarshalHeader(&p.Header, b); err != nil {
		return err
	}
	p.TargetPortIdentity = unmarshalPortIdentity(b[headerSize:])
	tlvHead, err := unmarshalTLVHead(b[headerSize+10:])
	if err != nil {
		return err
	}
	if tlvHead.TLVType != TLVOrganizationExtension {
		return fmt.Errorf("protocol: unsupported Signaling TLV type %d", tlvHead.TLVType)
	}
	req, err := unmarshalMessageIntervalRequestTLV(b[headerSize+10:])
	if err != nil {
		return err
	}
	p.IntervalRequest = *req
	return nil
}

// DecodeMessage inspects the first byte of b to determine message kind and
// returns a freshly decoded Message of the matching concrete type. It does
// not look at or require an Ethernet prefix: callers strip that first
// (see DecodeFrame).
func DecodeMessage(b []byte) (Message, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("protocol: empty message")
	}
	msgType := SdoIDAndMsgType(b[0]).MsgType()
	var m Message
	switch msgType {
	case MessageSync:
		m = &Sync{}
	case MessageFollowUp:
		m = &FollowUp{}
	case MessagePDelayReq:
		m = &PDelayReq{}
	case MessagePDelayResp:
		m = &PDelayResp{}
	case MessagePDelayRespFollowUp:
		m = &PDelayRespFollowUp{}
	case MessageSignaling:
		m = &Signaling{}
	default:
		return nil, fmt.Errorf("protocol: unsupported message type 0x%x", uint8(msgType))
	}
	type unmarshaler interface {
		UnmarshalBinary([]byte) error
	}
	if err := m.(unmarshaler).UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return m, nil
}

// MarshalMessage encodes any Message into freshly allocated bytes.
func MarshalMessage(m Message) ([]byte, error) {
	type marshalerTo interface {
		MarshalBinaryTo([]byte) (int, error)
	}
	mt, ok := m.(marshalerTo)
	if !ok {
		return nil, fmt.Errorf("protocol: message type %T does not support marshaling", m)
	}
	buf := make([]byte, 128)
	n, err := mt.MarshalBinaryTo(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
