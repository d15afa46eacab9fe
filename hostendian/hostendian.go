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

// Package hostendian reports the host machine's native byte order, needed
// because socket control messages mix host-endian and wire-endian fields
// in the same struct regardless of which endianness the host actually is.
package hostendian

import (
	"encoding/binary"
	"unsafe"
)

// Order is the host's native byte order.
var Order binary.ByteOrder = binary.LittleEndian

// IsBigEndian reports whether the host is big-endian.
var IsBigEndian bool

func init() {
	var i uint16 = 0x0100
	ptr := unsafe.Pointer(&i)
	if *(*byte)(ptr) == 0x01 {
		IsBigEndian = true
		Order = binary.BigEndian
	}
}
