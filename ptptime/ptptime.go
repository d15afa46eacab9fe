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

// Package ptptime implements the split seconds+nanoseconds timestamp
// arithmetic used throughout the gPTP core: unsigned wall-clock style
// timestamps captured off the wire or off hardware, and a signed,
// normalized variant used for offsets and deltas between them.
package ptptime

import "fmt"

// NanosecondsPerSecond is 10**9.
const NanosecondsPerSecond = 1_000_000_000

// Unsigned is a (seconds, nanoseconds) pair representing a positive time
// with respect to the epoch, with Nanoseconds always in [0, 1e9).
type Unsigned struct {
	Seconds     uint64
	Nanoseconds uint32
}

// NewUnsigned builds an Unsigned from raw wire fields, validating the
// nanoseconds range per spec (Conversion error category on violation).
func NewUnsigned(seconds uint64, nanoseconds uint32) (Unsigned, error) {
	if nanoseconds >= NanosecondsPerSecond {
		return Unsigned{}, fmt.Errorf("ptptime: nanoseconds %d out of range [0, %d)", nanoseconds, NanosecondsPerSecond)
	}
	return Unsigned{Seconds: seconds, Nanoseconds: nanoseconds}, nil
}

// ToUint64 collapses the pair into a single nanosecond counter, i.e.
// s*1e9 + n. Valid for seconds values that keep the result within uint64,
// which covers every wall-clock timestamp we will ever see.
func (u Unsigned) ToUint64() uint64 {
	return u.Seconds*NanosecondsPerSecond + uint64(u.Nanoseconds)
}

// IsZero reports whether u is the zero timestamp.
func (u Unsigned) IsZero() bool {
	return u.Seconds == 0 && u.Nanoseconds == 0
}

func (u Unsigned) String() string {
	return fmt.Sprintf("%d.%09ds", u.Seconds, u.Nanoseconds)
}

// Signed is a normalized (seconds, nanoseconds) pair used for offsets and
// deltas. Normalized means: Nanoseconds is in (-1e9, 1e9), and Seconds and
// Nanoseconds carry the same sign (or one of them is zero).
type Signed struct {
	Seconds     int64
	Nanoseconds int32
}

// Normalize rebalances a raw (seconds, nanoseconds) pair into the
// canonical signed representation, carrying overflow from Nanoseconds
// into Seconds and making the signs agree.
func Normalize(seconds int64, nanoseconds int64) Signed {
	seconds += nanoseconds / NanosecondsPerSecond
	nanoseconds %= NanosecondsPerSecond

	if seconds > 0 && nanoseconds < 0 {
		seconds--
		nanoseconds += NanosecondsPerSecond
	} else if seconds < 0 && nanoseconds > 0 {
		seconds++
		nanoseconds -= NanosecondsPerSecond
	}
	return Signed{Seconds: seconds, Nanoseconds: int32(nanoseconds)}
}

// ToNanoseconds collapses the signed pair into a single nanosecond count.
func (s Signed) ToNanoseconds() int64 {
	return s.Seconds*NanosecondsPerSecond + int64(s.Nanoseconds)
}

// Negative reports whether the represented duration is negative.
func (s Signed) Negative() bool {
	return s.Seconds < 0 || (s.Seconds == 0 && s.Nanoseconds < 0)
}

func (s Signed) String() string {
	return fmt.Sprintf("%+d.%09ds", s.Seconds, abs32(s.Nanoseconds))
}

func abs32(n int32) int32 {
	if n < 0 {
		return -n
	}
	return n
}

// Sub computes a-b as a normalized Signed offset.
func Sub(a, b Unsigned) Signed {
	return Normalize(int64(a.Seconds)-int64(b.Seconds), int64(a.Nanoseconds)-int64(b.Nanoseconds))
}

// Add applies a signed offset to an unsigned base, producing a new
// Unsigned. Panics semantics are avoided: a result that would go negative
// clamps at the zero timestamp, since wall-clock time before the epoch
// has no representation here.
func Add(base Unsigned, delta Signed) Unsigned {
	total := int64(base.Seconds)*NanosecondsPerSecond + int64(base.Nanoseconds) + delta.ToNanoseconds()
	if total < 0 {
		return Unsigned{}
	}
	return Unsigned{
		Seconds:     uint64(total / NanosecondsPerSecond),
		Nanoseconds: uint32(total % NanosecondsPerSecond),
	}
}

// AddToSigned returns a+delta for two signed values.
func AddToSigned(a Signed, delta Signed) Signed {
	return Normalize(a.Seconds+delta.Seconds, int64(a.Nanoseconds)+int64(delta.Nanoseconds))
}

// LogIntervalToNanoseconds converts a base-2 logarithmic interval (as used
// for Sync/Pdelay message periods on the wire) into nanoseconds.
// logInterval is the exponent: the period is 2**logInterval seconds.
func LogIntervalToNanoseconds(logInterval int8) int64 {
	if logInterval >= 0 {
		return int64(NanosecondsPerSecond) << uint(logInterval)
	}
	shift := uint(-logInterval)
	if shift >= 63 {
		return 0
	}
	return int64(NanosecondsPerSecond) >> shift
}
