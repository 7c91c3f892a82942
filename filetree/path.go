// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filetree

import "strings"

// RootIndex is the node_index of the volume root. It is created by
// NewFileTree and can never be removed or freed.
const RootIndex uint64 = 0

// PathWalk resolves a backslash-separated path, starting at the root,
// down to its last-but-one component, returning the node_index of the
// containing directory and the final leaf name. It is a pure helper: the
// full parsing of path syntax (drive letters, "." / ".." segments, and so
// on) is the host shim's job, per spec §1 and §4.5; this only splits on
// backslashes, drops empty segments, and walks what remains.
//
// It reports ErrObjectPathNotFound if an intermediate segment is missing
// or is not a directory, and ErrDirectoryIsAReparsePoint if an
// intermediate segment is a directory carrying AttrReparsePoint — the
// caller is expected to resolve the reparse point externally and retry.
func (t *FileTree) PathWalk(path string) (parent uint64, leaf string, err error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return RootIndex, "", nil
	}

	cur := RootIndex
	for _, seg := range segments[:len(segments)-1] {
		next, _, ok := t.Find(cur, seg)
		if !ok {
			return 0, "", ErrObjectPathNotFound
		}
		snap := t.Get(next)
		if !snap.Attributes.IsDir() {
			return 0, "", ErrObjectPathNotFound
		}
		if snap.Attributes&AttrReparsePoint != 0 {
			return 0, "", ErrDirectoryIsAReparsePoint
		}
		cur = next
	}
	return cur, segments[len(segments)-1], nil
}

func splitPath(path string) []string {
	path = strings.Trim(path, `\`)
	if path == "" {
		return nil
	}
	parts := strings.Split(path, `\`)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NormalizeName returns the canonical-case spelling of name as stored in
// parent's ChildIndex, when the tree is case-insensitive. Under
// case-sensitive mode it returns ("", false): the caller is expected to
// use the input spelling as-is (spec §4.5).
func (t *FileTree) NormalizeName(parent uint64, name string) (string, bool) {
	if !t.ignoreCase {
		return "", false
	}
	_, normalized, ok := t.Find(parent, name)
	if !ok {
		return "", false
	}
	return normalized, true
}
