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
	"time"

	"github.com/stretchr/testify/require"
)

func TestErrorLogRegisterNewestFirst(t *testing.T) {
	l := NewErrorLog(nil)
	now := time.Unix(1000, 0)

	l.Register(ErrSync, 0, 1, 5, now)
	l.Register(ErrPdelay, 1, 1, 6, now.Add(time.Millisecond))

	e0, err := l.ReadIndex(0)
	require.NoError(t, err)
	require.Equal(t, ErrPdelay, e0.Kind)
	require.Equal(t, uint16(6), e0.Sequence)

	e1, err := l.ReadIndex(1)
	require.NoError(t, err)
	require.Equal(t, ErrSync, e1.Kind)
	require.Equal(t, uint16(5), e1.Sequence)
}

func TestErrorLogReadIndexOutOfRange(t *testing.T) {
	l := NewErrorLog(nil)
	_, err := l.ReadIndex(-1)
	require.Error(t, err)
	_, err = l.ReadIndex(errorLogDepth)
	require.Error(t, err)
}

func TestErrorLogReadClearsFresh(t *testing.T) {
	l := NewErrorLog(nil)
	l.Register(ErrSync, 0, 0, 1, time.Now())

	e, err := l.ReadIndex(0)
	require.NoError(t, err)
	require.True(t, e.Fresh)

	e, err = l.ReadIndex(0)
	require.NoError(t, err)
	require.False(t, e.Fresh)
}

func TestErrorLogNotifyInvokedSynchronously(t *testing.T) {
	var got ErrorLogEntry
	calls := 0
	l := NewErrorLog(func(e ErrorLogEntry) {
		calls++
		got = e
	})
	l.Register(ErrMessage, 2, 0, 9, time.Now())
	require.Equal(t, 1, calls)
	require.Equal(t, ErrMessage, got.Kind)
	require.Equal(t, uint8(2), got.Port)
}

func TestErrorLogRingDropsOldest(t *testing.T) {
	l := NewErrorLog(nil)
	base := time.Now()
	for i := 0; i < errorLogDepth+5; i++ {
		l.Register(ErrSync, 0, 0, uint16(i), base.Add(time.Duration(i)*time.Millisecond))
	}
	newest, err := l.ReadIndex(0)
	require.NoError(t, err)
	require.Equal(t, uint16(errorLogDepth+4), newest.Sequence)

	oldest, err := l.ReadIndex(errorLogDepth - 1)
	require.NoError(t, err)
	require.Equal(t, uint16(5), oldest.Sequence)
}
