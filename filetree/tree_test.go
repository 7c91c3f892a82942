// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filetree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T, totalSize uint64, ignoreCase bool) *FileTree {
	t.Helper()
	tree, err := NewFileTree(totalSize, ignoreCase, Times{CreationTime: 1}, nil)
	require.NoError(t, err)
	return tree
}

// TestCreateReadDeleteRoundTrip is scenario 1: create a small file, write
// and read it back, delete it, and confirm free_size returns exactly to
// where it started.
func TestCreateReadDeleteRoundTrip(t *testing.T) {
	tree := newTestTree(t, 1<<20, true)
	before := tree.Stat().FreeSize

	idx, created, err := tree.Add(RootIndex, "hello.txt", 0, 0, Times{})
	require.NoError(t, err)
	require.True(t, created)

	n, err := tree.WriteData(idx, 0, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got := make([]byte, 2)
	n, err = tree.ReadData(idx, 0, got)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "hi", string(got))

	require.True(t, tree.Remove(RootIndex, "hello.txt"))
	require.NoError(t, Validate(tree))
	require.Equal(t, before, tree.Stat().FreeSize)
}

// TestAllocationFailureLeavesStateUntouched is scenario 2: an Add that
// cannot be charged must not allocate a node, must not touch the free
// list, and must leave the parent's children unchanged.
func TestAllocationFailureLeavesStateUntouched(t *testing.T) {
	tree := newTestTree(t, NodeOverhead+childCost("x"), true)
	before := tree.Stat()

	// This Add needs NodeOverhead (for the node) plus childCost("toolongname")
	// on top of what's left after the root's own accounting, which should
	// overrun the tiny budget.
	_, created, err := tree.Add(RootIndex, "toolongname", 0, 0, Times{})
	require.ErrorIs(t, err, ErrFull)
	require.False(t, created)

	after := tree.Stat()
	require.Equal(t, before, after)
	require.NoError(t, Validate(tree))
}

// TestRenameOverOpenFileKeepsOldNodeAliveUntilClose is scenario 3.
func TestRenameOverOpenFileKeepsOldNodeAliveUntilClose(t *testing.T) {
	tree := newTestTree(t, 1<<20, true)

	srcIdx, _, err := tree.Add(RootIndex, "src.txt", 0, 0, Times{})
	require.NoError(t, err)
	dstIdx, _, err := tree.Add(RootIndex, "dst.txt", 0, 0, Times{})
	require.NoError(t, err)

	tree.Open(dstIdx)

	require.NoError(t, tree.Move(RootIndex, "src.txt", "dst.txt"))

	// dst.txt now resolves to the old src node; the old dst node is
	// unreachable but still alive because it is open.
	gotIdx, _, ok := tree.Find(RootIndex, "dst.txt")
	require.True(t, ok)
	require.Equal(t, srcIdx, gotIdx)

	snap := tree.Get(dstIdx)
	require.Equal(t, uint32(1), snap.OpenCount)

	tree.Close(dstIdx)
	require.NoError(t, Validate(tree))
}

// TestCaseInsensitiveDuplicateAndCanonicalLookup is scenario 4.
func TestCaseInsensitiveDuplicateAndCanonicalLookup(t *testing.T) {
	tree := newTestTree(t, 1<<20, true)

	_, created, err := tree.Add(RootIndex, "Report.DOCX", 0, 0, Times{})
	require.NoError(t, err)
	require.True(t, created)

	_, created, err = tree.Add(RootIndex, "report.docx", 0, 0, Times{})
	require.NoError(t, err)
	require.False(t, created, "a case-insensitive duplicate must not create a second node")

	idx, canonical, ok := tree.Find(RootIndex, "REPORT.docx")
	require.True(t, ok)
	require.Equal(t, "Report.DOCX", canonical)
	_ = idx
}

// TestMarkerBasedEnumeration is scenario 5.
func TestMarkerBasedEnumeration(t *testing.T) {
	tree := newTestTree(t, 1<<20, false)
	names := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	for _, n := range names {
		_, _, err := tree.Add(RootIndex, n, 0, 0, Times{})
		require.NoError(t, err)
	}

	enum := tree.GetChildren(RootIndex)
	var firstHalf []string
	marker := ""
	enum.Each(nil, func(c Child) bool {
		firstHalf = append(firstHalf, c.Name)
		marker = c.Name
		return len(firstHalf) < 2
	})
	enum.Close()
	require.Equal(t, []string{"alpha", "bravo"}, firstHalf)

	enum = tree.GetChildren(RootIndex)
	var secondHalf []string
	enum.Each(&marker, func(c Child) bool {
		secondHalf = append(secondHalf, c.Name)
		return true
	})
	enum.Close()
	require.Equal(t, []string{"charlie", "delta", "echo"}, secondHalf)
}

// TestPartialOOMWriteReturnsWhatSucceeded is scenario 6: a write that
// needs two teeth but whose allocator fails on the second must still
// report the bytes actually written, the file_size that actually
// resulted, and release exactly the unused half of its rounded charge.
func TestPartialOOMWriteReturnsWhatSucceeded(t *testing.T) {
	tree := newTestTree(t, 64<<20, true)
	idx, _, err := tree.Add(RootIndex, "big.bin", 0, 0, Times{})
	require.NoError(t, err)

	before := tree.Stat().FreeSize

	aux := tree.store.RefAuxLocked(idx)
	aux.data.setAllocator(&failingAfterN{n: 1})

	payload := make([]byte, ToothMax+ToothMax/2)
	n, err := tree.WriteData(idx, 0, payload)
	require.ErrorIs(t, err, ErrOutOfMemory)
	require.Equal(t, ToothMax, n)

	snap := tree.Get(idx)
	require.Equal(t, uint64(ToothMax), snap.FileSize)

	// Exactly one tooth's worth of budget should remain charged: the
	// other tooth's charge, taken up front against RoundedLength, must
	// have been released back when the allocator failed.
	require.Equal(t, before-uint64(ToothMax), tree.Stat().FreeSize)
}

func TestMoveCrossDirectory(t *testing.T) {
	tree := newTestTree(t, 1<<20, true)
	dirIdx, _, err := tree.Add(RootIndex, "sub", CanonicalAttr(AttrDirectory), 0, Times{})
	require.NoError(t, err)
	fileIdx, _, err := tree.Add(RootIndex, "a.txt", 0, 0, Times{})
	require.NoError(t, err)

	require.NoError(t, tree.MoveCross(RootIndex, "a.txt", dirIdx, "b.txt"))

	_, _, ok := tree.Find(RootIndex, "a.txt")
	require.False(t, ok)
	gotIdx, _, ok := tree.Find(dirIdx, "b.txt")
	require.True(t, ok)
	require.Equal(t, fileIdx, gotIdx)
	require.NoError(t, Validate(tree))
}

// TestMoveCaseOnlyRenameUpdatesStoredSpelling covers the case-insensitive
// same-parent rename where dst resolves to src's own entry (e.g. "Foo" ->
// "foo"): this must update the stored casing in place, not silently no-op.
func TestMoveCaseOnlyRenameUpdatesStoredSpelling(t *testing.T) {
	tree := newTestTree(t, 1<<20, true)
	idx, _, err := tree.Add(RootIndex, "Foo", 0, 0, Times{})
	require.NoError(t, err)

	require.NoError(t, tree.Move(RootIndex, "Foo", "foo"))

	gotIdx, storedName, ok := tree.Find(RootIndex, "FOO")
	require.True(t, ok)
	require.Equal(t, idx, gotIdx)
	require.Equal(t, "foo", storedName)
	require.NoError(t, Validate(tree))
}

func TestMoveDirectoryFixesParentPointer(t *testing.T) {
	tree := newTestTree(t, 1<<20, true)
	srcDir, _, err := tree.Add(RootIndex, "src", CanonicalAttr(AttrDirectory), 0, Times{})
	require.NoError(t, err)
	dstParent, _, err := tree.Add(RootIndex, "dst", CanonicalAttr(AttrDirectory), 0, Times{})
	require.NoError(t, err)
	moved, _, err := tree.Add(srcDir, "moveme", CanonicalAttr(AttrDirectory), 0, Times{})
	require.NoError(t, err)

	require.NoError(t, tree.MoveCross(srcDir, "moveme", dstParent, "moveme"))

	snap := tree.Get(moved)
	require.Equal(t, dstParent, snap.ParentIndex)
	require.NoError(t, Validate(tree))
}

func TestDeleteTreeRemovesEverySubtreeMember(t *testing.T) {
	tree := newTestTree(t, 1<<20, true)
	dir, _, err := tree.Add(RootIndex, "top", CanonicalAttr(AttrDirectory), 0, Times{})
	require.NoError(t, err)
	sub, _, err := tree.Add(dir, "sub", CanonicalAttr(AttrDirectory), 0, Times{})
	require.NoError(t, err)
	_, _, err = tree.Add(sub, "leaf.txt", 0, 0, Times{})
	require.NoError(t, err)
	_, _, err = tree.Add(dir, "sibling.txt", 0, 0, Times{})
	require.NoError(t, err)

	require.NoError(t, tree.DeleteTree(context.Background(), dir))
	require.False(t, tree.HasChildren(dir))
	require.NoError(t, Validate(tree))
}

func TestSetAllocationSizeShrinkClampsFileSize(t *testing.T) {
	tree := newTestTree(t, 2<<20, true)
	idx, _, err := tree.Add(RootIndex, "f", 0, 0, Times{})
	require.NoError(t, err)
	require.NoError(t, tree.SetAllocationSize(idx, ToothMax))
	require.NoError(t, tree.SetFileSize(idx, ToothMax))

	require.NoError(t, tree.SetAllocationSize(idx, 10))
	snap := tree.Get(idx)
	require.Equal(t, uint64(10), snap.FileSize)
}

func TestSecurityBlobRoundTrip(t *testing.T) {
	tree := newTestTree(t, 1<<20, true)
	idx, _, err := tree.Add(RootIndex, "f", 0, 0, Times{})
	require.NoError(t, err)

	require.NoError(t, tree.SetSecurity(idx, []byte("D:blob")))
	require.Equal(t, []byte("D:blob"), tree.GetSecurity(idx))

	require.NoError(t, tree.SetSecurity(idx, nil))
	require.Empty(t, tree.GetSecurity(idx))
}

func TestAddRejectsNonDirectoryParent(t *testing.T) {
	tree := newTestTree(t, 1<<20, true)
	fileIdx, _, err := tree.Add(RootIndex, "f", 0, 0, Times{})
	require.NoError(t, err)

	_, _, err = tree.Add(fileIdx, "child", 0, 0, Times{})
	require.ErrorIs(t, err, ErrNotADirectory)
}

// TestWriteDataPartialGrowthFailurePropagatesBudgetError covers a write
// whose growth ladder exhausts the volume's byte budget (ErrFull) rather
// than failing in the allocator (ErrOutOfMemory): the partial write that
// results must be reported with the actual failure reason, not a
// hardcoded ErrOutOfMemory, since the host shim maps the two to
// different statuses.
func TestWriteDataPartialGrowthFailurePropagatesBudgetError(t *testing.T) {
	// Room for the root's and f's NodeOverhead, f's child entry, and
	// exactly 10 bytes of content.
	tree := newTestTree(t, 2*NodeOverhead+childCost("f")+10, true)
	idx, _, err := tree.Add(RootIndex, "f", 0, 0, Times{})
	require.NoError(t, err)

	n, err := tree.WriteData(idx, 0, make([]byte, 10))
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Zero(t, tree.Stat().FreeSize)

	n, err = tree.WriteData(idx, 5, make([]byte, 20))
	require.ErrorIs(t, err, ErrFull)
	require.NotErrorIs(t, err, ErrOutOfMemory)
	require.Equal(t, 5, n)
}

func TestReadWriteDataRejectsDirectory(t *testing.T) {
	tree := newTestTree(t, 1<<20, true)
	dirIdx, _, err := tree.Add(RootIndex, "sub", CanonicalAttr(AttrDirectory), 0, Times{})
	require.NoError(t, err)

	_, err = tree.WriteData(dirIdx, 0, []byte("hi"))
	require.ErrorIs(t, err, ErrIsADirectory)

	_, err = tree.ReadData(dirIdx, 0, make([]byte, 2))
	require.ErrorIs(t, err, ErrIsADirectory)
}

func TestExtraDataRequiresReparsePoint(t *testing.T) {
	tree := newTestTree(t, 1<<20, true)
	fileIdx, _, err := tree.Add(RootIndex, "f", 0, 0, Times{})
	require.NoError(t, err)

	_, err = tree.GetExtraData(fileIdx)
	require.ErrorIs(t, err, ErrNotAReparsePoint)
	require.ErrorIs(t, tree.SetExtraData(fileIdx, []byte("x")), ErrNotAReparsePoint)

	reparseIdx, _, err := tree.Add(RootIndex, "r", AttrReparsePoint, 0x8000000C, Times{})
	require.NoError(t, err)

	require.NoError(t, tree.SetExtraData(reparseIdx, []byte("payload")))
	got, err := tree.GetExtraData(reparseIdx)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)
}
