// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filetree

// ToothMax is the size of one tooth of a SegmentedBuffer ("comb"), other
// than possibly the last. 1 MiB, per spec §4.3.
const ToothMax = 1 << 20

// SegmentedBuffer is a file's content store, split into fixed-size teeth
// so that a single huge file never requires one giant contiguous
// allocation, and so a failed grow can leave a partially-larger buffer
// instead of losing everything already acquired.
//
// The zero value is an empty (zero-length) buffer, ready to use.
type SegmentedBuffer struct {
	alloc  allocator
	length uint64
	teeth  [][]byte
}

func (b *SegmentedBuffer) allocator() allocator {
	if b.alloc == nil {
		return realAllocator{}
	}
	return b.alloc
}

// setAllocator installs a test stub. Only used from tests.
func (b *SegmentedBuffer) setAllocator(a allocator) { b.alloc = a }

// Length returns the buffer's current allocation size in bytes.
func (b *SegmentedBuffer) Length() uint64 { return b.length }

// RoundedLength rounds n up to a whole number of teeth. A request for 0
// rounds to 0 rather than to one empty tooth.
func RoundedLength(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	return (n + ToothMax - 1) / ToothMax * ToothMax
}

func toothCount(length uint64) int {
	if length == 0 {
		return 0
	}
	return int((length + ToothMax - 1) / ToothMax)
}

// toothSize returns the size of tooth i in a buffer of the given length.
func toothSize(length uint64, i int) int {
	n := toothCount(length)
	if i < n-1 {
		return ToothMax
	}
	last := length - uint64(n-1)*ToothMax
	if last == 0 {
		return ToothMax
	}
	return int(last)
}

// SetLength grows or shrinks the buffer to newLen. On success it returns
// (newLen, nil). If the allocator fails partway through a grow, it returns
// the length the buffer actually reached (>= old length, < newLen) and
// ErrOutOfMemory; the buffer is left in a valid, readable state at that
// shorter length. Shrinking never fails.
func (b *SegmentedBuffer) SetLength(newLen uint64) (uint64, error) {
	if newLen == b.length {
		return newLen, nil
	}
	if newLen < b.length {
		b.shrink(newLen)
		return newLen, nil
	}
	return b.grow(newLen)
}

func (b *SegmentedBuffer) shrink(newLen uint64) {
	newCount := toothCount(newLen)
	if newCount < len(b.teeth) {
		b.teeth = b.teeth[:newCount]
	}
	if newCount > 0 {
		want := toothSize(newLen, newCount-1)
		last := b.teeth[newCount-1]
		if len(last) > want {
			b.teeth[newCount-1] = last[:want]
		}
	}
	b.length = newLen
}

func (b *SegmentedBuffer) grow(newLen uint64) (uint64, error) {
	oldCount := len(b.teeth)
	newCount := toothCount(newLen)

	// Resize the current tail tooth up to its new target size (full
	// ToothMax, unless it stays the final tooth of the whole buffer).
	if oldCount > 0 {
		target := ToothMax
		if oldCount == newCount {
			target = toothSize(newLen, oldCount-1)
		}
		grown, err := b.resizeTooth(oldCount-1, target)
		b.length += uint64(grown)
		if err != nil {
			return b.length, err
		}
	}

	for i := oldCount; i < newCount; i++ {
		target := toothSize(newLen, i)
		fresh, err := b.allocator().alloc(target)
		if err != nil {
			return b.length, ErrOutOfMemory
		}
		b.teeth = append(b.teeth, fresh)
		b.length += uint64(len(fresh))
		if len(fresh) < target {
			return b.length, ErrOutOfMemory
		}
	}
	return b.length, nil
}

// resizeTooth grows tooth i in place to target bytes, preserving its
// existing content. Returns the number of new bytes actually added.
func (b *SegmentedBuffer) resizeTooth(i, target int) (int, error) {
	old := b.teeth[i]
	if len(old) >= target {
		return 0, nil
	}
	fresh, err := b.allocator().alloc(target)
	if err != nil {
		return 0, ErrOutOfMemory
	}
	copy(fresh, old)
	added := len(fresh) - len(old)
	if len(fresh) < target {
		b.teeth[i] = fresh
		return added, ErrOutOfMemory
	}
	b.teeth[i] = fresh
	return added, nil
}

// Read copies length bytes starting at offset into dst. The caller must
// ensure offset+length <= Length().
func (b *SegmentedBuffer) Read(offset uint64, dst []byte) {
	length := uint64(len(dst))
	b.walk(offset, length, func(tooth []byte, dstOff uint64, n int) {
		copy(dst[dstOff:dstOff+uint64(n)], tooth)
	})
}

// Write copies src into the buffer starting at offset. The caller must
// ensure offset+len(src) <= Length().
func (b *SegmentedBuffer) Write(offset uint64, src []byte) {
	length := uint64(len(src))
	b.walk(offset, length, func(tooth []byte, srcOff uint64, n int) {
		copy(tooth, src[srcOff:srcOff+uint64(n)])
	})
}

// walk splits [offset, offset+length) at tooth boundaries, calling fn once
// per tooth touched with the tooth-local slice to read/write and the
// cumulative offset into the caller's buffer.
func (b *SegmentedBuffer) walk(offset, length uint64, fn func(tooth []byte, bufOff uint64, n int)) {
	if length == 0 {
		return
	}
	tooth := int(offset / ToothMax)
	toothOff := int(offset % ToothMax)
	remaining := length
	var bufOff uint64

	for remaining > 0 {
		t := b.teeth[tooth]
		n := len(t) - toothOff
		if uint64(n) > remaining {
			n = int(remaining)
		}
		fn(t[toothOff:toothOff+n], bufOff, n)
		bufOff += uint64(n)
		remaining -= uint64(n)
		tooth++
		toothOff = 0
	}
}
