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

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-gptp/gptpcore/ptptime"
)

func TestTxMapEnqueueConfirmRelease(t *testing.T) {
	m := NewTxMap()
	m.Enqueue(10, 4, 1)

	egress := ptptime.Unsigned{Seconds: 100, Nanoseconds: 500}
	entry, ok := m.Confirm(10, egress)
	require.True(t, ok)
	require.Equal(t, TxConfirmed, entry.Status)
	require.Equal(t, egress, entry.Egress)
	require.Equal(t, 4, entry.BufferIdx)

	m.Release(10)
	_, ok = m.Confirm(10, egress)
	require.False(t, ok)
}

func TestTxMapConfirmUnknownFrameID(t *testing.T) {
	m := NewTxMap()
	_, ok := m.Confirm(99, ptptime.Unsigned{})
	require.False(t, ok)
}

func TestTxMapConfirmTwiceFails(t *testing.T) {
	m := NewTxMap()
	m.Enqueue(5, 0, 0)
	_, ok := m.Confirm(5, ptptime.Unsigned{Seconds: 1})
	require.True(t, ok)
	_, ok = m.Confirm(5, ptptime.Unsigned{Seconds: 2})
	require.False(t, ok)
}
