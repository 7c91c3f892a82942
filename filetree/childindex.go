// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filetree

import "sort"

// Tooth is the fixed capacity of one tooth (leaf) of a ChildIndex's
// segmented array. 2^7, the release-build value from spec §4.2.
const Tooth = 1 << 7

// Child is one entry of a directory's child list.
type Child struct {
	Name      string
	NodeIndex uint64
}

// ChildLoc addresses a live Child inside a ChildIndex. It is returned by
// Find and consumed by Remove/Reorder; it is invalidated by any later
// mutation of the same ChildIndex other than Reorder of that same entry.
type ChildLoc struct {
	tooth int
	slot  int
}

// ChildIndex is a directory's ordered set of (name, node index) entries,
// stored as a "comb" of fixed-capacity, independently-sorted teeth (spec
// §4.2). Appending to the tail tooth keeps add() cheap; enumeration in
// order does a k-way merge across teeth.
type ChildIndex struct {
	cmp   comparator
	teeth [][]Child
}

// NewChildIndex returns an empty index using cmp for all ordering and
// equality decisions made over its lifetime.
func NewChildIndex(cmp comparator) ChildIndex {
	return ChildIndex{cmp: cmp}
}

// Len returns the total number of children.
func (c *ChildIndex) Len() int {
	n := 0
	for _, t := range c.teeth {
		n += len(t)
	}
	return n
}

// toothSearch returns the index of the first entry in tooth whose name
// compares >= key under cmp (sort.Search lower bound).
func (c *ChildIndex) toothSearch(tooth []Child, key string) int {
	return sort.Search(len(tooth), func(i int) bool {
		return c.cmp.compare(tooth[i].Name, key) >= 0
	})
}

// Find returns the child named name and its location, or ok==false.
func (c *ChildIndex) Find(name string) (Child, ChildLoc, bool) {
	for ti, tooth := range c.teeth {
		i := c.toothSearch(tooth, name)
		if i < len(tooth) && c.cmp.equal(tooth[i].Name, name) {
			return tooth[i], ChildLoc{tooth: ti, slot: i}, true
		}
	}
	return Child{}, ChildLoc{}, false
}

// Add inserts child into the tail tooth (growing by one tooth if the tail
// is full) and sifts it into sorted position within that tooth. The
// caller is responsible for rejecting duplicates first via Find: Add does
// not check uniqueness, matching spec invariant 5 being a property of the
// whole add-path rather than of ChildIndex alone.
func (c *ChildIndex) Add(child Child) ChildLoc {
	if len(c.teeth) == 0 || len(c.teeth[len(c.teeth)-1]) == Tooth {
		c.teeth = append(c.teeth, make([]Child, 0, Tooth))
	}
	ti := len(c.teeth) - 1
	tooth := c.teeth[ti]
	tooth = append(tooth, child)
	c.teeth[ti] = tooth

	slot := len(tooth) - 1
	slot = c.siftLeft(ti, slot)
	return ChildLoc{tooth: ti, slot: slot}
}

// siftLeft moves the entry at (tooth, slot) left within its tooth until
// the tooth is sorted again, returning its final slot.
func (c *ChildIndex) siftLeft(ti, slot int) int {
	tooth := c.teeth[ti]
	for slot > 0 && c.cmp.compare(tooth[slot-1].Name, tooth[slot].Name) > 0 {
		tooth[slot-1], tooth[slot] = tooth[slot], tooth[slot-1]
		slot--
	}
	c.teeth[ti] = tooth
	return slot
}

// siftRight is siftLeft's mirror, used after Reorder increases a name.
func (c *ChildIndex) siftRight(ti, slot int) int {
	tooth := c.teeth[ti]
	for slot < len(tooth)-1 && c.cmp.compare(tooth[slot].Name, tooth[slot+1].Name) > 0 {
		tooth[slot], tooth[slot+1] = tooth[slot+1], tooth[slot]
		slot++
	}
	c.teeth[ti] = tooth
	return slot
}

// Remove deletes the child at loc. It overwrites that slot with the last
// child in the whole array and re-sorts the replacement within its
// (possibly different) tooth, then drops the tail tooth if it has become
// empty, or shrinks its backing array if removal left slack capacity
// behind (mirroring SegmentedBuffer's shrink-on-release discipline, so
// repeated add/remove churn in one directory doesn't leak tooth capacity).
func (c *ChildIndex) Remove(loc ChildLoc) {
	lastTi := len(c.teeth) - 1
	lastTooth := c.teeth[lastTi]
	lastSlot := len(lastTooth) - 1
	last := lastTooth[lastSlot]

	isLast := loc.tooth == lastTi && loc.slot == lastSlot
	lastTooth = lastTooth[:lastSlot]
	c.teeth[lastTi] = lastTooth

	if !isLast {
		target := c.teeth[loc.tooth]
		target[loc.slot] = last
		c.teeth[loc.tooth] = target
		c.resift(loc.tooth, loc.slot)
	}

	if len(c.teeth[lastTi]) == 0 {
		c.teeth = c.teeth[:lastTi]
		return
	}
	c.shrinkTooth(lastTi)
}

// shrinkTooth reallocates tooth ti's backing array down to its current
// length whenever removal has left it more than one slot of slack, so a
// tooth that churns through many removals doesn't hold onto Tooth-sized
// capacity indefinitely.
func (c *ChildIndex) shrinkTooth(ti int) {
	tooth := c.teeth[ti]
	if cap(tooth)-len(tooth) <= 1 {
		return
	}
	fresh := make([]Child, len(tooth))
	copy(fresh, tooth)
	c.teeth[ti] = fresh
}

func (c *ChildIndex) resift(ti, slot int) {
	tooth := c.teeth[ti]
	if slot > 0 && c.cmp.compare(tooth[slot-1].Name, tooth[slot].Name) > 0 {
		c.siftLeft(ti, slot)
		return
	}
	c.siftRight(ti, slot)
}

// Reorder re-sorts the entry at loc within its own tooth after its Name
// field has been changed in place (an in-directory rename). It returns
// the entry's new location.
func (c *ChildIndex) Reorder(loc ChildLoc) ChildLoc {
	slot := c.resiftReturning(loc.tooth, loc.slot)
	return ChildLoc{tooth: loc.tooth, slot: slot}
}

func (c *ChildIndex) resiftReturning(ti, slot int) int {
	tooth := c.teeth[ti]
	if slot > 0 && c.cmp.compare(tooth[slot-1].Name, tooth[slot].Name) > 0 {
		return c.siftLeft(ti, slot)
	}
	return c.siftRight(ti, slot)
}

// At returns the child currently at loc.
func (c *ChildIndex) At(loc ChildLoc) Child {
	return c.teeth[loc.tooth][loc.slot]
}

// SetName mutates the name of the child at loc in place (the caller must
// call Reorder afterward to restore sortedness).
func (c *ChildIndex) SetName(loc ChildLoc, name string) {
	tooth := c.teeth[loc.tooth]
	tooth[loc.slot].Name = name
	c.teeth[loc.tooth] = tooth
}

// SetNodeIndex mutates the node index of the child at loc in place.
// Ordering never depends on NodeIndex, so this never requires a Reorder.
func (c *ChildIndex) SetNodeIndex(loc ChildLoc, idx uint64) {
	c.teeth[loc.tooth][loc.slot].NodeIndex = idx
}

// IterUnordered calls fn once per child in storage order, stopping early
// if fn returns false.
func (c *ChildIndex) IterUnordered(fn func(Child) bool) {
	for _, tooth := range c.teeth {
		for _, ch := range tooth {
			if !fn(ch) {
				return
			}
		}
	}
}

type toothCursor struct {
	tooth  []Child
	cursor int
}

func (tc *toothCursor) name() (string, bool) {
	if tc.cursor >= len(tc.tooth) {
		return "", false
	}
	return tc.tooth[tc.cursor].Name, true
}

// teethHeap is a min-heap (by current name, with exhausted cursors
// sinking to the bottom) over the per-tooth cursors used by IterFrom.
type teethHeap struct {
	cmp     comparator
	cursors []*toothCursor
}

func (h *teethHeap) Len() int { return len(h.cursors) }
func (h *teethHeap) less(i, j int) bool {
	ni, oki := h.cursors[i].name()
	nj, okj := h.cursors[j].name()
	if !oki {
		return false
	}
	if !okj {
		return true
	}
	return h.cmp.compare(ni, nj) < 0
}
func (h *teethHeap) swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }

func (h *teethHeap) siftDown(i int) {
	n := len(h.cursors)
	for {
		l, r, smallest := 2*i+1, 2*i+2, i
		if l < n && h.less(l, smallest) {
			smallest = l
		}
		if r < n && h.less(r, smallest) {
			smallest = r
		}
		if smallest == i {
			return
		}
		h.swap(i, smallest)
		i = smallest
	}
}

func (h *teethHeap) build() {
	for i := len(h.cursors)/2 - 1; i >= 0; i-- {
		h.siftDown(i)
	}
}

// IterFrom calls fn, in sorted order, once per child whose name compares
// strictly greater than marker (or every child, in order, if marker is
// nil). It stops early if fn returns false. Built on a k-way merge heap
// sized to the tooth count, per spec §4.2.
func (c *ChildIndex) IterFrom(marker *string, fn func(Child) bool) {
	h := &teethHeap{cmp: c.cmp}
	for i := range c.teeth {
		tooth := c.teeth[i]
		start := 0
		if marker != nil {
			start = c.toothSearchStrictGreater(tooth, *marker)
		}
		h.cursors = append(h.cursors, &toothCursor{tooth: tooth, cursor: start})
	}
	h.build()

	for h.Len() > 0 {
		top := h.cursors[0]
		name, ok := top.name()
		if !ok {
			return
		}
		ch := top.tooth[top.cursor]
		_ = name
		if !fn(ch) {
			return
		}
		top.cursor++
		h.siftDown(0)
	}
}

// toothSearchStrictGreater returns the first index in tooth whose name
// compares strictly greater than key.
func (c *ChildIndex) toothSearchStrictGreater(tooth []Child, key string) int {
	return sort.Search(len(tooth), func(i int) bool {
		return c.cmp.compare(tooth[i].Name, key) > 0
	})
}
