// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hostshim

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/fsnode/filetree/filetree"
)

func newTestShim(t *testing.T) *Shim {
	t.Helper()
	tree, err := filetree.NewFileTree(1<<20, true, filetree.Times{}, nil)
	require.NoError(t, err)
	log := logrus.New()
	log.SetOutput(nowhereWriter{})
	return New(tree, log)
}

type nowhereWriter struct{}

func (nowhereWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestShimCreateOpenWriteReadClose(t *testing.T) {
	s := newTestShim(t)

	idx, st := s.Create(`a\b.txt`, 0, 0, filetree.Times{})
	require.Equal(t, StatusObjectPathNotFound, st, "b should fail: a does not exist yet")
	_ = idx

	_, st = s.Create(`a`, filetree.CanonicalAttr(filetree.AttrDirectory), 0, filetree.Times{})
	require.Equal(t, StatusSuccess, st)

	fileIdx, st := s.Create(`a\b.txt`, 0, 0, filetree.Times{})
	require.Equal(t, StatusSuccess, st)

	openIdx, snap, st := s.Open(`a\b.txt`)
	require.Equal(t, StatusSuccess, st)
	require.Equal(t, fileIdx, openIdx)
	require.EqualValues(t, 1, snap.OpenCount)

	n, st := s.Write(openIdx, 0, []byte("hello"))
	require.Equal(t, StatusSuccess, st)
	require.Equal(t, 5, n)

	got := make([]byte, 5)
	n, st = s.Read(openIdx, 0, got)
	require.Equal(t, StatusSuccess, st)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(got))

	s.Close(openIdx)
}

func TestShimCreateDuplicateReportsCollision(t *testing.T) {
	s := newTestShim(t)
	_, st := s.Create(`dup.txt`, 0, 0, filetree.Times{})
	require.Equal(t, StatusSuccess, st)
	_, st = s.Create(`dup.txt`, 0, 0, filetree.Times{})
	require.Equal(t, StatusObjectNameCollision, st)
}

func TestShimDeleteNonRecursiveOnNonEmptyLeavesChildren(t *testing.T) {
	s := newTestShim(t)
	_, st := s.Create(`dir`, filetree.CanonicalAttr(filetree.AttrDirectory), 0, filetree.Times{})
	require.Equal(t, StatusSuccess, st)
	_, st = s.Create(`dir\f.txt`, 0, 0, filetree.Times{})
	require.Equal(t, StatusSuccess, st)

	st = s.Delete(context.Background(), `dir`, false)
	require.Equal(t, StatusSuccess, st)

	_, _, foundSt := s.Open(`dir\f.txt`)
	require.Equal(t, StatusObjectPathNotFound, foundSt, "dir no longer resolves once unlinked, regardless of its former children")
}

func TestShimDeleteRecursiveRemovesDescendants(t *testing.T) {
	s := newTestShim(t)
	_, st := s.Create(`dir`, filetree.CanonicalAttr(filetree.AttrDirectory), 0, filetree.Times{})
	require.Equal(t, StatusSuccess, st)
	_, st = s.Create(`dir\f.txt`, 0, 0, filetree.Times{})
	require.Equal(t, StatusSuccess, st)

	st = s.Delete(context.Background(), `dir`, true)
	require.Equal(t, StatusSuccess, st)

	_, _, foundSt := s.Open(`dir`)
	require.Equal(t, StatusObjectNameNotFound, foundSt)
}

func TestShimRenameAcrossDirectories(t *testing.T) {
	s := newTestShim(t)
	_, st := s.Create(`a`, filetree.CanonicalAttr(filetree.AttrDirectory), 0, filetree.Times{})
	require.Equal(t, StatusSuccess, st)
	_, st = s.Create(`b`, filetree.CanonicalAttr(filetree.AttrDirectory), 0, filetree.Times{})
	require.Equal(t, StatusSuccess, st)
	_, st = s.Create(`a\f.txt`, 0, 0, filetree.Times{})
	require.Equal(t, StatusSuccess, st)

	st = s.Rename(`a\f.txt`, `b\f.txt`)
	require.Equal(t, StatusSuccess, st)

	_, _, st2 := s.Open(`b\f.txt`)
	require.Equal(t, StatusSuccess, st2)
}

func TestShimEnumerateChildren(t *testing.T) {
	s := newTestShim(t)
	_, st := s.Create(`dir`, filetree.CanonicalAttr(filetree.AttrDirectory), 0, filetree.Times{})
	require.Equal(t, StatusSuccess, st)
	for _, n := range []string{"a", "b", "c"} {
		_, st := s.Create(`dir\`+n, 0, 0, filetree.Times{})
		require.Equal(t, StatusSuccess, st)
	}

	var names []string
	st = s.Enumerate(`dir`, nil, func(c filetree.Child) bool {
		names = append(names, c.Name)
		return true
	})
	require.Equal(t, StatusSuccess, st)
	require.Equal(t, []string{"a", "b", "c"}, names)
}

func TestShimSecurityAndExtraData(t *testing.T) {
	s := newTestShim(t)
	_, st := s.Create(`f.txt`, 0, 0, filetree.Times{})
	require.Equal(t, StatusSuccess, st)

	require.Equal(t, StatusSuccess, s.SetSecurity(`f.txt`, []byte("sd")))
	got, st := s.GetSecurity(`f.txt`)
	require.Equal(t, StatusSuccess, st)
	require.Equal(t, []byte("sd"), got)

	_, st = s.Create(`r.txt`, filetree.AttrReparsePoint, 0x8000000C, filetree.Times{})
	require.Equal(t, StatusSuccess, st)

	require.Equal(t, StatusNotAReparsePoint, s.SetExtraData(`f.txt`, []byte("reparse-payload")))

	require.Equal(t, StatusSuccess, s.SetExtraData(`r.txt`, []byte("reparse-payload")))
	got, st = s.GetExtraData(`r.txt`)
	require.Equal(t, StatusSuccess, st)
	require.Equal(t, []byte("reparse-payload"), got)
}
