// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package filetree implements an in-memory, size-bounded hierarchical
// filesystem engine. It presents Windows-style file semantics (NT file
// attributes, reparse points, opaque security descriptors) to a host
// filesystem driver shim without depending on any particular driver ABI.
package filetree

import "sync/atomic"

// Attr is a bitset of NT-style file attributes. The bit values match
// FILE_ATTRIBUTE_* as used by Windows filesystem drivers; the engine
// never interprets them beyond the few bits called out below.
type Attr uint32

const (
	AttrReadonly     Attr = 1 << 0
	AttrHidden       Attr = 1 << 1
	AttrSystem       Attr = 1 << 2
	AttrDirectory    Attr = 1 << 4
	AttrArchive      Attr = 1 << 5
	AttrNormal       Attr = 1 << 7
	AttrTemporary    Attr = 1 << 8
	AttrReparsePoint Attr = 1 << 10
)

// CanonicalAttr sets FILE_ATTRIBUTE_NORMAL whenever no other meaningful
// bit is present, per the Node invariant in spec §3 ("If all meaningful
// bits are clear, the canonical value is Normal"). The Directory bit is
// structural, not an attribute choice, so it does not by itself suppress
// Normal.
func CanonicalAttr(attrs Attr) Attr {
	if attrs&^(AttrDirectory|AttrNormal) == 0 {
		return attrs | AttrNormal
	}
	return attrs &^ AttrNormal
}

// detachedParent is the sentinel parentNodeIndex value for a directory
// that has been unlinked from its parent but is still held open by a
// handle.
const detachedParent uint64 = ^uint64(0)

// noFreeNext is the free-list terminator. It cannot be 0: slot 0 (the
// root) passes through the free list exactly once, during the very
// first AllocateLocked call that grows the arrays into existence, and a
// terminator value equal to a real index would make that slot
// unrecoverable from an empty-looking list.
const noFreeNext uint64 = ^uint64(0)

// Times holds the four FILETIME-tick timestamp fields a Node carries.
type Times struct {
	CreationTime   uint64
	LastAccessTime uint64
	LastWriteTime  uint64
	ChangeTime     uint64
}

// node is the fixed-size record backing a single node_index slot.
//
// The "union" field described in spec §3 is represented here as a single
// uint64, interpreted by n.kind():
//   - free:      union holds the free-list link (noFreeNext == none)
//   - directory: union holds parentIndex (detachedParent == unlinked-but-open)
//   - file:      union holds linkCount (0 == unlinked)
//
// Keeping it a single machine word, tagged by attributes, mirrors the
// bit-punned union of the original record while staying index-safe: Go
// cannot express a raw union over a pointer-containing struct without
// losing GC safety, so the tag-by-attributes discipline takes its place.
type node struct {
	attributes Attr
	reparseTag uint32
	fileSize   uint64
	times      Times

	union uint64 // see the node doc above

	openCount uint32
}

type nodeKind int

const (
	kindFree nodeKind = iota
	kindDirectory
	kindFile
)

func (n *node) kind() nodeKind {
	switch {
	case n.attributes == 0:
		return kindFree
	case n.attributes&AttrDirectory != 0:
		return kindDirectory
	default:
		return kindFile
	}
}

func (n *node) isFree() bool { return n.attributes == 0 }

// nextFree returns the free-list successor. Only valid when n.kind() == kindFree.
func (n *node) nextFree() uint64 { return n.union }

func (n *node) setNextFree(v uint64) { n.union = v }

// parentIndex returns the directory's parent node index, or detachedParent
// if the directory has been unlinked while still open. Only valid when
// n.kind() == kindDirectory.
func (n *node) parentIndex() uint64 { return n.union }

func (n *node) setParentIndex(v uint64) { n.union = v }

func (n *node) detached() bool { return n.union == detachedParent }

// linkCount returns the regular file's hard-link count (0 == unlinked).
// Only valid when n.kind() == kindFile.
func (n *node) linkCount() uint64 { return n.union }

func (n *node) setLinkCount(v uint64) { n.union = v }

func (n *node) incOpen() uint32 { return atomic.AddUint32(&n.openCount, 1) }

func (n *node) decOpen() uint32 {
	for {
		old := atomic.LoadUint32(&n.openCount)
		if old == 0 {
			panic("filetree: close on node with openCount == 0")
		}
		if atomic.CompareAndSwapUint32(&n.openCount, old, old-1) {
			return old - 1
		}
	}
}

func (n *node) loadOpen() uint32 { return atomic.LoadUint32(&n.openCount) }

// Snapshot is a copy-out view of a node's fixed fields, returned by Get so
// that callers never hold a reference that an array grow could invalidate
// (see spec §9's note on "returning interior references under a shared lock").
type Snapshot struct {
	Attributes Attr
	ReparseTag uint32
	FileSize   uint64
	Times      Times
	OpenCount  uint32

	// ParentIndex is valid only when Attributes.IsDir().
	ParentIndex uint64
	// Detached is true only when Attributes.IsDir() and the directory has
	// been unlinked while still open.
	Detached bool
	// LinkCount is valid only for regular files.
	LinkCount uint64
}

// IsDir reports whether the Directory bit is set.
func (a Attr) IsDir() bool { return a&AttrDirectory != 0 }

func (n *node) snapshot() Snapshot {
	s := Snapshot{
		Attributes: n.attributes,
		ReparseTag: n.reparseTag,
		FileSize:   n.fileSize,
		Times:      n.times,
		OpenCount:  n.loadOpen(),
	}
	switch n.kind() {
	case kindDirectory:
		s.ParentIndex = n.parentIndex()
		s.Detached = n.detached()
	case kindFile:
		s.LinkCount = n.linkCount()
	}
	return s
}

// nodeAux is the variable-size companion record for a node, kept in a
// parallel array so growing it never invalidates references into nodes[].
type nodeAux struct {
	securityDescriptor []byte
	extraData          []byte
	data               SegmentedBuffer
	children           ChildIndex
}
