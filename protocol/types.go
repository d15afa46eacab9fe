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

// Package protocol implements the gPTP wire format: encoding and decoding
// of the six PTP message kinds carried directly over Ethernet (EtherType
// 0x88F7), with optional 802.1Q tagging. All multi-byte integers are
// big-endian, per IEEE 1588-2008 / 802.1AS-2011.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
)

// Version is the PTP protocol version this package implements.
const Version uint8 = 2

// EtherTypePTP is the EtherType carried by all PTP frames.
const EtherTypePTP uint16 = 0x88F7

// EtherTypeVLAN is the EtherType of an 802.1Q tag.
const EtherTypeVLAN uint16 = 0x8100

// PTPMulticastMAC is the reserved link-local multicast destination used
// for Pdelay and (absent a learned peer unicast address) Sync/Follow_Up.
var PTPMulticastMAC = net.HardwareAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x0E}

// MessageType identifies the kind of a PTP message, Table 36.
type MessageType uint8

// Message kinds this core exchanges.
const (
	MessageSync               MessageType = 0x0
	MessagePDelayReq          MessageType = 0x2
	MessagePDelayResp         MessageType = 0x3
	MessageFollowUp           MessageType = 0x8
	MessagePDelayRespFollowUp MessageType = 0xA
	MessageSignaling          MessageType = 0xC
)

var messageTypeNames = map[MessageType]string{
	MessageSync:               "SYNC",
	MessagePDelayReq:          "PDELAY_REQ",
	MessagePDelayResp:         "PDELAY_RESP",
	MessageFollowUp:           "FOLLOW_UP",
	MessagePDelayRespFollowUp: "PDELAY_RESP_FOLLOW_UP",
	MessageSignaling:          "SIGNALING",
}

func (m MessageType) String() string {
	if s, ok := messageTypeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("MessageType(0x%x)", uint8(m))
}

// SdoIDAndMsgType packs transportSpecific (high nibble) and messageType
// (low nibble) into the first header octet.
type SdoIDAndMsgType uint8

// MsgType extracts the MessageType.
func (m SdoIDAndMsgType) MsgType() MessageType {
	return MessageType(m & 0x0f)
}

// TransportSpecific extracts the high nibble (majorSdoId / transportSpecific).
func (m SdoIDAndMsgType) TransportSpecific() uint8 {
	return uint8(m) >> 4
}

// NewSdoIDAndMsgType builds a SdoIDAndMsgType from its two parts.
func NewSdoIDAndMsgType(msgType MessageType, transportSpecific uint8) SdoIDAndMsgType {
	return SdoIDAndMsgType(transportSpecific<<4 | uint8(msgType)&0x0f)
}

// TransportSpecificGPTP is the required transportSpecific nibble ("1") for
// 802.1AS frames, unless SdoId compatibility mode is enabled.
const TransportSpecificGPTP uint8 = 0x1

// flags used in the header FlagField, Table 37.
const (
	FlagAlternateMaster uint16 = 1 << (8 + 0)
	FlagTwoStep         uint16 = 1 << (8 + 1)
	FlagUnicast         uint16 = 1 << (8 + 2)
)

// ClockIdentity uniquely identifies a PTP instance or port owner.
type ClockIdentity uint64

func (c ClockIdentity) String() string {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(c))
	return fmt.Sprintf("%02x%02x%02x.%02x%02x.%02x%02x%02x", b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7])
}

// NewClockIdentityFromMAC derives a ClockIdentity from a 48-bit MAC per
// the standard EUI-48-to-EUI-64 expansion (...FF FE...).
func NewClockIdentityFromMAC(mac net.HardwareAddr) (ClockIdentity, error) {
	if len(mac) != 6 {
		return 0, fmt.Errorf("protocol: MAC %v is not EUI-48", mac)
	}
	b := [8]byte{mac[0], mac[1], mac[2], 0xFF, 0xFE, mac[3], mac[4], mac[5]}
	return ClockIdentity(binary.BigEndian.Uint64(b[:])), nil
}

// PortIdentity identifies a PTP port: its owning clock plus a 1-based port
// number on the wire (callers of this package use 0-based indices
// internally and convert at the codec boundary).
type PortIdentity struct {
	ClockIdentity ClockIdentity
	PortNumber    uint16
}

func (p PortIdentity) String() string {
	return fmt.Sprintf("%s-%d", p.ClockIdentity, p.PortNumber)
}

// PTPSeconds is the 48-bit big-endian seconds field used in on-wire
// timestamps.
type PTPSeconds [6]byte

// Uint64 returns the 48-bit value as a uint64.
func (s PTPSeconds) Uint64() uint64 {
	return uint64(s[5]) | uint64(s[4])<<8 | uint64(s[3])<<16 |
		uint64(s[2])<<24 | uint64(s[1])<<32 | uint64(s[0])<<40
}

// PTPSecondsFromUint64 packs a seconds count into the 48-bit wire field.
func PTPSecondsFromUint64(v uint64) PTPSeconds {
	var s PTPSeconds
	s[0] = byte(v >> 40)
	s[1] = byte(v >> 32)
	s[2] = byte(v >> 24)
	s[3] = byte(v >> 16)
	s[4] = byte(v >> 8)
	s[5] = byte(v)
	return s
}

// Timestamp is the wire representation of a positive time: 48-bit seconds
// plus 32-bit nanoseconds (always < 1e9), Table 44/45/47/48/49.
type Timestamp struct {
	Seconds     PTPSeconds
	Nanoseconds uint32
}

// Correction is correctionField: nanoseconds scaled by 2^16, 48.16
// fixed-point, carried as a 64-bit signed integer on the wire.
type Correction int64

// NanosecondsPart returns the whole-nanosecond part (>>16).
func (c Correction) NanosecondsPart() int64 {
	return int64(c) >> 16
}

// NewCorrectionFromNanoseconds builds a Correction from a whole-nanosecond
// value (sub-nanosecond fraction zero).
func NewCorrectionFromNanoseconds(ns int64) Correction {
	return Correction(ns << 16)
}

// LogInterval is log2 of a period in seconds.
type LogInterval int8

// Special LogInterval values used by Signaling's Message-Interval-Request,
// Table 42 plus the 802.1AS signaling extensions.
const (
	LogIntervalStop       LogInterval = 127
	LogIntervalReset      LogInterval = 126
	LogIntervalDontChange LogInterval = -128
)

// RateRatioScale is 2**41, the scale factor for cumulativeScaledRateOffset.
const RateRatioScale = float64(int64(1) << 41)

// ScaleRateRatio converts a rateRatio (1.0 == no skew) to the wire's
// signed 32-bit scaled representation: (rateRatio-1) * 2**41.
func ScaleRateRatio(rateRatio float64) int32 {
	scaled := (rateRatio - 1.0) * RateRatioScale
	if scaled > math.MaxInt32 {
		return math.MaxInt32
	}
	if scaled < math.MinInt32 {
		return math.MinInt32
	}
	return int32(scaled)
}

// UnscaleRateRatio is the inverse of ScaleRateRatio.
func UnscaleRateRatio(wire int32) float64 {
	return float64(wire)/RateRatioScale + 1.0
}
