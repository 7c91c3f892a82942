// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filetree

import "sync"
import "sync/atomic"

// NodeOverhead is the fixed byte charge levied against the budget for
// every allocated node slot (spec invariant 4). It stands in for the
// bookkeeping cost of a Node/NodeAux pair that the host driver ABI would
// otherwise charge for; the exact figure is not meaningful outside this
// engine, only its consistency is.
const NodeOverhead = 128

// ChildOverhead is the fixed per-entry byte charge for a ChildIndex
// record, on top of 2 bytes per byte of the name's UTF-8 encoding (spec
// invariant 4: "2*|name|", with |name| taken as len(name)).
const ChildOverhead = 16

// NodeStore owns every node slot: two parallel dense arrays indexed by
// node_index, a lock-free LIFO free list threaded through node.union, and
// the global byte budget. See spec §4.1.
type NodeStore struct {
	// mu is the "store lock" of spec §5. RLock (shared mode) covers every
	// operation that does not relocate the backing arrays; Lock
	// (exclusive) is taken only to grow them by one slot.
	mu sync.RWMutex

	nodes    []node
	nodesAux []nodeAux

	freeHead atomic.Uint64
	freeSize atomic.Int64
	total    uint64
}

// NewNodeStore returns an empty store with the given total byte budget.
// The caller (FileTree's constructor) is responsible for allocating and
// initializing the root slot at index 0.
func NewNodeStore(totalSize uint64) *NodeStore {
	s := &NodeStore{total: totalSize}
	s.freeSize.Store(int64(totalSize))
	s.freeHead.Store(noFreeNext)
	return s
}

func (s *NodeStore) RLock()   { s.mu.RLock() }
func (s *NodeStore) RUnlock() { s.mu.RUnlock() }
func (s *NodeStore) Lock()    { s.mu.Lock() }
func (s *NodeStore) Unlock()  { s.mu.Unlock() }

// TotalSize returns the configured byte budget.
func (s *NodeStore) TotalSize() uint64 { return s.total }

// FreeSize returns the remaining byte budget.
func (s *NodeStore) FreeSize() uint64 {
	v := s.freeSize.Load()
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// ChargeBytes attempts to subtract n from the free byte budget, failing
// cleanly (returning false, changing nothing) if that would underflow.
func (s *NodeStore) ChargeBytes(n uint64) bool {
	for {
		cur := s.freeSize.Load()
		if cur < int64(n) {
			return false
		}
		if s.freeSize.CompareAndSwap(cur, cur-int64(n)) {
			return true
		}
	}
}

// ReleaseBytes returns n bytes to the free byte budget. Every charge path
// in this package has a matching release on every rollback and free path,
// per spec §7.
func (s *NodeStore) ReleaseBytes(n uint64) {
	if n == 0 {
		return
	}
	s.freeSize.Add(int64(n))
}

func (s *NodeStore) popFree() (uint64, bool) {
	for {
		head := s.freeHead.Load()
		if head == noFreeNext {
			return 0, false
		}
		next := s.nodes[head].nextFree()
		if s.freeHead.CompareAndSwap(head, next) {
			return head, true
		}
	}
}

func (s *NodeStore) pushFree(idx uint64) {
	for {
		head := s.freeHead.Load()
		s.nodes[idx].setNextFree(head)
		if s.freeHead.CompareAndSwap(head, idx) {
			return
		}
	}
}

// AllocateLocked returns a fresh node_index, charged with NodeOverhead,
// in an undefined state that the caller must immediately overwrite. The
// caller must hold RLock; on return RLock is still held (AllocateLocked
// transparently escalates to Lock only for the array-grow step, per the
// "upgradeable shared mode" of spec §5).
func (s *NodeStore) AllocateLocked() (uint64, error) {
	for {
		idx, ok := s.popFree()
		if !ok {
			s.mu.RUnlock()
			s.mu.Lock()
			grown := s.growOneLocked()
			s.mu.Unlock()
			s.mu.RLock()

			if !grown {
				return 0, ErrFull
			}
			// loop: the slot just grown and pushed is now visible.
			continue
		}

		if !s.ChargeBytes(NodeOverhead) {
			s.pushFree(idx)
			return 0, ErrFull
		}
		return idx, nil
	}
}

// growOneLocked appends one uncharged, free slot to both arrays. Caller
// must hold Lock. The NodeOverhead charge for actually handing the slot
// out happens uniformly in AllocateLocked, whether the slot came from a
// fresh grow or from free-list reuse, so that Add/Free round-trip the
// budget exactly (spec §8).
func (s *NodeStore) growOneLocked() bool {
	s.nodes = append(s.nodes, node{})
	s.nodesAux = append(s.nodesAux, nodeAux{})
	idx := uint64(len(s.nodes) - 1)
	s.pushFree(idx)
	return true
}

// FreeLocked returns idx to the free list and releases its NodeOverhead
// charge. Caller must hold RLock (it does not itself touch the array
// length) and must have already asserted openCount==0 and
// unreachability, and released every other per-node byte charge
// (security/extra-data/buffer allocation) before calling.
func (s *NodeStore) FreeLocked(idx uint64) {
	if idx == 0 {
		panic("filetree: root node can never be freed")
	}
	n := &s.nodes[idx]
	if n.loadOpen() != 0 {
		panic("filetree: free of node with open handles")
	}
	s.ReleaseBytes(NodeOverhead)
	*n = node{}
	s.nodesAux[idx] = nodeAux{}
	s.pushFree(idx)
}

// RefLocked returns a pointer to node idx's fixed record. Valid only while
// RLock (or Lock) is held; invalidated by any subsequent grow.
func (s *NodeStore) RefLocked(idx uint64) *node { return &s.nodes[idx] }

// RefAuxLocked returns a pointer to node idx's variable-size companion
// record. Same validity rules as RefLocked.
func (s *NodeStore) RefAuxLocked(idx uint64) *nodeAux { return &s.nodesAux[idx] }

// Count returns the number of allocated slots (including free ones),
// i.e. the current length of the backing arrays. Used by Stats and the
// validator.
func (s *NodeStore) Count() uint64 {
	return uint64(len(s.nodes))
}
