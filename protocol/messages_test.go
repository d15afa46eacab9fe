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
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleHeader(msgType MessageType, length uint16) Header {
	return Header{
		SdoIDAndMsgType: NewSdoIDAndMsgType(msgType, TransportSpecificGPTP),
		Version:         Version,
		MessageLength:   length,
		DomainNumber:    0,
		FlagField:       FlagTwoStep,
		CorrectionField: NewCorrectionFromNanoseconds(123),
		SourcePortIdentity: PortIdentity{
			ClockIdentity: 0x0011223344556677,
			PortNumber:    1,
		},
		SequenceID:         42,
		ControlField:       ControlOther,
		LogMessageInterval: 0,
	}
}

func TestSyncRoundTrip(t *testing.T) {
	orig := &Sync{
		Header:          sampleHeader(MessageSync, SyncWireSize),
		OriginTimestamp: Timestamp{Seconds: PTPSecondsFromUint64(1000), Nanoseconds: 500},
	}
	buf := make([]byte, SyncWireSize)
	n, err := orig.MarshalBinaryTo(buf)
	require.NoError(t, err)
	require.Equal(t, SyncWireSize, n)

	var got Sync
	require.NoError(t, got.UnmarshalBinary(buf))
	require.Equal(t, *orig, got)
}

func TestFollowUpRoundTrip(t *testing.T) {
	orig := &FollowUp{
		Header:                 sampleHeader(MessageFollowUp, FollowUpWireSize),
		PreciseOriginTimestamp: Timestamp{Seconds: PTPSecondsFromUint64(2000), Nanoseconds: 1},
		Info: FollowUpInformationTLV{
			CumulativeScaledRateOffset: ScaleRateRatio(1.0001),
			GMTimeBaseIndicator:        7,
			LastGmPhaseChange:          ScaledNS{NanosecondsMSB: 0, NanosecondsLSB: 12345, FractionalNanoseconds: 0},
			ScaledLastGmFreqChange:     -42,
		},
	}
	buf := make([]byte, FollowUpWireSize)
	n, err := orig.MarshalBinaryTo(buf)
	require.NoError(t, err)
	require.Equal(t, FollowUpWireSize, n)

	var got FollowUp
	require.NoError(t, got.UnmarshalBinary(buf))
	require.Equal(t, *orig, got)
}

func TestPDelayReqRoundTrip(t *testing.T) {
	orig := &PDelayReq{
		Header:          sampleHeader(MessagePDelayReq, PDelayReqWireSize),
		OriginTimestamp: Timestamp{Seconds: PTPSecondsFromUint64(3000), Nanoseconds: 999},
	}
	buf := make([]byte, PDelayReqWireSize)
	_, err := orig.MarshalBinaryTo(buf)
	require.NoError(t, err)

	var got PDelayReq
	require.NoError(t, got.UnmarshalBinary(buf))
	require.Equal(t, *orig, got)
}

func TestPDelayRespRoundTrip(t *testing.T) {
	orig := &PDelayResp{
		Header:                  sampleHeader(MessagePDelayResp, PDelayRespWireSize),
		RequestReceiptTimestamp: Timestamp{Seconds: PTPSecondsFromUint64(3001), Nanoseconds: 1},
		RequestingPortIdentity:  PortIdentity{ClockIdentity: 0xaabbccddeeff0011, PortNumber: 2},
	}
	buf := make([]byte, PDelayRespWireSize)
	_, err := orig.MarshalBinaryTo(buf)
	require.NoError(t, err)

	var got PDelayResp
	require.NoError(t, got.UnmarshalBinary(buf))
	require.Equal(t, *orig, got)
}

func TestPDelayRespFollowUpRoundTrip(t *testing.T) {
	orig := &PDelayRespFollowUp{
		Header:                  sampleHeader(MessagePDelayRespFollowUp, PDelayRespFollowUpWireSize),
		ResponseOriginTimestamp: Timestamp{Seconds: PTPSecondsFromUint64(3002), Nanoseconds: 2},
		RequestingPortIdentity:  PortIdentity{ClockIdentity: 0xaabbccddeeff0011, PortNumber: 2},
	}
	buf := make([]byte, PDelayRespFollowUpWireSize)
	_, err := orig.MarshalBinaryTo(buf)
	require.NoError(t, err)

	var got PDelayRespFollowUp
	require.NoError(t, got.UnmarshalBinary(buf))
	require.Equal(t, *orig, got)
}

func TestSignalingRoundTrip(t *testing.T) {
	orig := &Signaling{
		Header:             sampleHeader(MessageSignaling, SignalingWireSize),
		TargetPortIdentity: PortIdentity{ClockIdentity: 0xffffffffffffffff, PortNumber: 0xffff},
		IntervalRequest:    *NewMessageIntervalRequest(-3),
	}
	buf := make([]byte, SignalingWireSize)
	_, err := orig.MarshalBinaryTo(buf)
	require.NoError(t, err)

	var got Signaling
	require.NoError(t, got.UnmarshalBinary(buf))
	require.Equal(t, *orig, got)
}

func TestDecodeMessageDispatchesOnType(t *testing.T) {
	orig := &Sync{
		Header:          sampleHeader(MessageSync, SyncWireSize),
		OriginTimestamp: Timestamp{Seconds: PTPSecondsFromUint64(1), Nanoseconds: 2},
	}
	buf, err := MarshalMessage(orig)
	require.NoError(t, err)

	decoded, err := DecodeMessage(buf)
	require.NoError(t, err)
	require.Equal(t, MessageSync, decoded.MessageType())
	require.Equal(t, orig, decoded)
}

func TestFrameRoundTripWithVLAN(t *testing.T) {
	src := net.HardwareAddr{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}
	f := &Frame{
		Destination: PTPMulticastMAC,
		Source:      src,
		VLANTag:     &VLANTag{PCP: 5, DEI: false, VID: 100},
		Message: &PDelayReq{
			Header:          sampleHeader(MessagePDelayReq, PDelayReqWireSize),
			OriginTimestamp: Timestamp{Seconds: PTPSecondsFromUint64(10), Nanoseconds: 20},
		},
	}
	buf := make([]byte, 128)
	n, err := EncodeFrame(f, buf)
	require.NoError(t, err)

	decoded, err := DecodeFrame(buf[:n])
	require.NoError(t, err)
	require.NotNil(t, decoded)
	require.Equal(t, f.Destination, decoded.Destination)
	require.Equal(t, f.Source, decoded.Source)
	require.NotNil(t, decoded.VLANTag)
	require.Equal(t, *f.VLANTag, *decoded.VLANTag)
	require.Equal(t, f.Message, decoded.Message)
}

func TestFrameRoundTripWithoutVLAN(t *testing.T) {
	src := net.HardwareAddr{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}
	f := &Frame{
		Destination: PTPMulticastMAC,
		Source:      src,
		Message: &Sync{
			Header:          sampleHeader(MessageSync, SyncWireSize),
			OriginTimestamp: Timestamp{},
		},
	}
	buf := make([]byte, 128)
	n, err := EncodeFrame(f, buf)
	require.NoError(t, err)

	decoded, err := DecodeFrame(buf[:n])
	require.NoError(t, err)
	require.Nil(t, decoded.VLANTag)
	require.Equal(t, f.Message, decoded.Message)
}

func TestDecodeFrameIgnoresNonPTPEtherType(t *testing.T) {
	buf := make([]byte, 20)
	copy(buf[0:6], []byte{1, 2, 3, 4, 5, 6})
	copy(buf[6:12], []byte{7, 8, 9, 10, 11, 12})
	buf[12], buf[13] = 0x08, 0x00 // IPv4

	decoded, err := DecodeFrame(buf)
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestNewClockIdentityFromMAC(t *testing.T) {
	mac := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	ci, err := NewClockIdentityFromMAC(mac)
	require.NoError(t, err)
	require.Equal(t, "001122.fffe.334455", ci.String())
}
