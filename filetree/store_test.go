// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filetree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeStoreChargeReleaseRoundTrip(t *testing.T) {
	s := NewNodeStore(1000)
	require.True(t, s.ChargeBytes(400))
	require.Equal(t, uint64(600), s.FreeSize())
	s.ReleaseBytes(400)
	require.Equal(t, uint64(1000), s.FreeSize())
}

func TestNodeStoreChargeBytesFailsCleanly(t *testing.T) {
	s := NewNodeStore(100)
	require.True(t, s.ChargeBytes(100))
	require.False(t, s.ChargeBytes(1))
	require.Equal(t, uint64(0), s.FreeSize())
}

func TestNodeStoreAllocateFreeRoundTrip(t *testing.T) {
	s := NewNodeStore(10 * NodeOverhead)
	s.RLock()
	// Slot 0 belongs to the root and FreeLocked refuses it, so take it
	// first and run the round trip on the next slot.
	_, err := s.AllocateLocked()
	require.NoError(t, err)
	idx, err := s.AllocateLocked()
	require.NoError(t, err)
	before := s.FreeSize()
	s.RUnlock()

	s.RLock()
	n := s.RefLocked(idx)
	n.attributes = CanonicalAttr(0)
	n.setLinkCount(0)
	s.FreeLocked(idx)
	s.RUnlock()

	require.Equal(t, before+NodeOverhead, s.FreeSize())
}

func TestNodeStoreAllocateFullReturnsErrFull(t *testing.T) {
	s := NewNodeStore(NodeOverhead) // only room for the one slot below
	s.RLock()
	_, err := s.AllocateLocked()
	require.NoError(t, err)
	_, err = s.AllocateLocked()
	s.RUnlock()
	require.ErrorIs(t, err, ErrFull)
}

func TestNodeStoreAllocateGrowsArraysOnDemand(t *testing.T) {
	s := NewNodeStore(100 * NodeOverhead)
	s.RLock()
	var idxs []uint64
	for i := 0; i < 20; i++ {
		idx, err := s.AllocateLocked()
		require.NoError(t, err)
		idxs = append(idxs, idx)
	}
	s.RUnlock()

	seen := make(map[uint64]bool)
	for _, idx := range idxs {
		require.False(t, seen[idx], "duplicate node_index %d handed out", idx)
		seen[idx] = true
	}
	require.Equal(t, uint64(20), s.Count())
}
