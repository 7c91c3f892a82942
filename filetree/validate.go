// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filetree

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Validate re-walks the whole tree and recomputes used_bytes from
// scratch, checking every invariant of spec §3 in one pass. It is meant
// to be called from tests and from the host shim's --debug mode, not from
// production hot paths. It accumulates every violation it finds rather
// than stopping at the first, the way a one-shot fsck would.
func Validate(t *FileTree) error {
	t.store.RLock()
	defer t.store.RUnlock()

	var result *multierror.Error

	reachable := make(map[uint64]bool)
	var walk func(idx uint64)
	walk = func(idx uint64) {
		if reachable[idx] {
			return
		}
		reachable[idx] = true
		n := t.store.RefLocked(idx)
		if n.kind() != kindDirectory {
			return
		}
		aux := t.store.RefAuxLocked(idx)
		aux.children.IterUnordered(func(c Child) bool {
			child := t.store.RefLocked(c.NodeIndex)
			if child.kind() == kindDirectory && child.parentIndex() != idx {
				result = multierror.Append(result, fmt.Errorf(
					"node %d: directory child of %d has parentIndex %d", c.NodeIndex, idx, child.parentIndex()))
			}
			if child.kind() == kindFile && child.linkCount() == 0 {
				result = multierror.Append(result, fmt.Errorf(
					"node %d: regular file reachable via %d has link_count 0", c.NodeIndex, idx))
			}
			walk(c.NodeIndex)
			return true
		})
	}
	walk(RootIndex)

	free := make(map[uint64]bool)
	for idx, ok := t.store.popFree(); ok; idx, ok = t.store.popFree() {
		free[idx] = true
	}
	// popFree drained the real free list; push the same slots back. The
	// set of free slots is restored; their LIFO order is not.
	for idx := range free {
		t.store.pushFree(idx)
	}

	var usedBytes uint64
	for idx := uint64(0); idx < t.store.Count(); idx++ {
		n := t.store.RefLocked(idx)
		aux := t.store.RefAuxLocked(idx)

		inReach := reachable[idx]
		inFree := free[idx]

		switch {
		case inFree && inReach:
			result = multierror.Append(result, fmt.Errorf("node %d: both free and reachable", idx))
		case !inFree && !inReach && n.loadOpen() == 0:
			result = multierror.Append(result, fmt.Errorf(
				"node %d: neither free, reachable, nor open (orphaned)", idx))
		}

		if inFree {
			if n.attributes != 0 {
				result = multierror.Append(result, fmt.Errorf("node %d: on free list but attributes != 0", idx))
			}
			continue
		}

		usedBytes += NodeOverhead
		usedBytes += uint64(len(aux.securityDescriptor))
		usedBytes += uint64(len(aux.extraData))
		usedBytes += aux.data.Length()

		if n.fileSize > aux.data.Length() {
			result = multierror.Append(result, fmt.Errorf(
				"node %d: file_size %d exceeds allocation_size %d", idx, n.fileSize, aux.data.Length()))
		}

		if n.kind() == kindDirectory {
			dup := map[string]bool{}
			aux.children.IterUnordered(func(c Child) bool {
				usedBytes += childCost(c.Name)
				key := t.cmp.key(c.Name)
				if dup[key] {
					result = multierror.Append(result, fmt.Errorf(
						"node %d: duplicate child name %q under case policy", idx, c.Name))
				}
				dup[key] = true
				return true
			})
		}
	}

	if got, want := t.store.FreeSize(), t.store.TotalSize()-usedBytes; got != want {
		result = multierror.Append(result, fmt.Errorf(
			"free_size mismatch: store reports %d, recomputed %d (used_bytes=%d)", got, want, usedBytes))
	}

	if result == nil {
		return nil
	}
	return result
}
