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

import "github.com/go-gptp/gptpcore/ptptime"

// TxEntryStatus is the lifecycle state of a TxMapEntry.
type TxEntryStatus uint8

// TxMapEntry states.
const (
	TxUnused TxEntryStatus = iota
	TxEnqueued
	TxConfirmed
)

// TxMapEntry couples an Ethernet TX buffer index to the frame-id that will
// eventually be confirmed via TimeStampHandler, and the captured egress
// timestamp once it is.
type TxMapEntry struct {
	Status    TxEntryStatus
	FrameID   uint8
	BufferIdx int
	Port      uint8
	Egress    ptptime.Unsigned
}

// TxMap is a table of outstanding TX descriptors. The Engine keeps one per
// port for Sync and Follow_Up, and each PdelayMachine owns its own; only
// one frame of a given kind is ever outstanding at a time, but the table
// supports more than one slot for generality.
type TxMap struct {
	entries map[uint8]*TxMapEntry
}

// NewTxMap builds an empty TxMap.
func NewTxMap() *TxMap {
	return &TxMap{entries: make(map[uint8]*TxMapEntry)}
}

// Enqueue records that frameID has been handed to the driver for
// transmission via bufferIdx on port.
func (m *TxMap) Enqueue(frameID uint8, bufferIdx int, port uint8) {
	m.entries[frameID] = &TxMapEntry{
		Status:    TxEnqueued,
		FrameID:   frameID,
		BufferIdx: bufferIdx,
		Port:      port,
	}
}

// Confirm records the egress timestamp for frameID, transitioning its
// entry to Confirmed. It returns false if frameID was not Enqueued (a
// stale or duplicate callback).
func (m *TxMap) Confirm(frameID uint8, egress ptptime.Unsigned) (*TxMapEntry, bool) {
	entry, ok := m.entries[frameID]
	if !ok || entry.Status != TxEnqueued {
		return nil, false
	}
	entry.Status = TxConfirmed
	entry.Egress = egress
	return entry, true
}

// Release marks frameID Unused again, once its confirmed timestamp has
// been consumed by the owning state machine.
func (m *TxMap) Release(frameID uint8) {
	delete(m.entries, frameID)
}
