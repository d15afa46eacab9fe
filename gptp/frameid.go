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

package gptp

import "github.com/go-gptp/gptpcore/protocol"

// frame-id ranges, partitioned by message kind. Rolling allocation stays
// within a kind's range so concurrent outstanding frames of different
// kinds never collide.
const (
	frameIDSyncStart  = 0
	frameIDSyncEnd    = 149
	frameIDPReqStart  = 150
	frameIDPReqEnd    = 199
	frameIDPRespStart = 200
	frameIDPRespEnd   = 249
	frameIDSigStart   = 250
	frameIDSigEnd     = 254

	frameIDTableSize = 256
	// frameIDSentinel marks an unused or already-consumed slot.
	frameIDSentinel = 0xFF
)

// FrameIDSlot records what an allocated frame-id is waiting on.
type FrameIDSlot struct {
	Used     bool
	Port     uint8
	Kind     protocol.MessageType
	Sequence uint16
	Machine  uint8
	Domain   uint8
	ActingGM bool
}

// FrameIDTable is the 256-slot map from outgoing-frame identifier to the
// context needed to route its eventual TX-timestamp callback.
type FrameIDTable struct {
	slots    [frameIDTableSize]FrameIDSlot
	nextSync uint16
	nextReq  uint16
	nextResp uint16
	nextSig  uint16
}

// NewFrameIDTable builds a table with every slot cleared to the sentinel
// state.
func NewFrameIDTable() *FrameIDTable {
	t := &FrameIDTable{nextSync: frameIDSyncStart, nextReq: frameIDPReqStart, nextResp: frameIDPRespStart, nextSig: frameIDSigStart}
	t.Clear()
	return t
}

// Clear resets every slot to the unused sentinel state, as happens on
// Init.
func (t *FrameIDTable) Clear() {
	for i := range t.slots {
		t.slots[i] = FrameIDSlot{}
	}
	t.nextSync = frameIDSyncStart
	t.nextReq = frameIDPReqStart
	t.nextResp = frameIDPRespStart
	t.nextSig = frameIDSigStart
}

func rangeFor(kind protocol.MessageType) (start, end uint16, ok bool) {
	switch kind {
	case protocol.MessageSync, protocol.MessageFollowUp:
		return frameIDSyncStart, frameIDSyncEnd, true
	case protocol.MessagePDelayReq:
		return frameIDPReqStart, frameIDPReqEnd, true
	case protocol.MessagePDelayResp, protocol.MessagePDelayRespFollowUp:
		return frameIDPRespStart, frameIDPRespEnd, true
	case protocol.MessageSignaling:
		return frameIDSigStart, frameIDSigEnd, true
	default:
		return 0, 0, false
	}
}

// Allocate reserves the next slot within kind's range, stamping it with
// the given routing context, and returns the allocated frame-id.
func (t *FrameIDTable) Allocate(port uint8, kind protocol.MessageType, sequence uint16, machine, domain uint8, actingGM bool) (uint8, error) {
	start, end, ok := rangeFor(kind)
	if !ok {
		return 0, newErrf(ErrTimestamp, "no frame-id range for message kind %s", kind)
	}
	var cursor *uint16
	switch {
	case kind == protocol.MessageSync || kind == protocol.MessageFollowUp:
		cursor = &t.nextSync
	case kind == protocol.MessagePDelayReq:
		cursor = &t.nextReq
	case kind == protocol.MessageSignaling:
		cursor = &t.nextSig
	default:
		cursor = &t.nextResp
	}

	span := end - start + 1
	for i := uint16(0); i < span; i++ {
		id := start + (*cursor-start+i)%span
		if !t.slots[id].Used {
			t.slots[id] = FrameIDSlot{
				Used:     true,
				Port:     port,
				Kind:     kind,
				Sequence: sequence,
				Machine:  machine,
				Domain:   domain,
				ActingGM: actingGM,
			}
			*cursor = id + 1
			if *cursor > end {
				*cursor = start
			}
			return uint8(id), nil
		}
	}
	return 0, newErrf(ErrTimestamp, "frame-id range for %s exhausted", kind)
}

// Lookup returns the slot for frameID, if populated.
func (t *FrameIDTable) Lookup(frameID uint8) (FrameIDSlot, bool) {
	slot := t.slots[frameID]
	return slot, slot.Used
}

// Release clears frameID back to the sentinel state, called once its
// TX-timestamp callback has been consumed.
func (t *FrameIDTable) Release(frameID uint8) {
	t.slots[frameID] = FrameIDSlot{}
}
