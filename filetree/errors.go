// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filetree

import "errors"

// These sentinels are the error conditions returned by fallible FileTree
// operations. They deliberately stay a small closed set of sentinel values rather than
// an open error hierarchy: spec §7 names exactly Full and OutOfMemory as
// recoverable conditions, with NotFound and duplicate reported as plain
// booleans instead of errors.
var (
	// ErrFull means the byte budget cannot cover a requested charge. The
	// caller may retry after freeing space. The attempted mutation was
	// rolled back in full, except for a short write that WriteData
	// reports together with this error.
	ErrFull = errors.New("filetree: volume full")

	// ErrOutOfMemory means the host allocator refused a request. Most
	// operations roll back fully on this; write_data and
	// set_allocation_size may leave a partial result, as documented on
	// those methods.
	ErrOutOfMemory = errors.New("filetree: allocator out of memory")

	// ErrObjectPathNotFound is returned by PathWalk when an intermediate
	// path component is missing, or is not a directory.
	ErrObjectPathNotFound = errors.New("filetree: object path not found")

	// ErrDirectoryIsAReparsePoint is returned by PathWalk when an
	// intermediate component is a directory with AttrReparsePoint set;
	// the caller (the host shim) is expected to resolve the reparse
	// point and retry, not the engine.
	ErrDirectoryIsAReparsePoint = errors.New("filetree: directory is a reparse point")

	// ErrNotADirectory is returned when an operation that requires a
	// directory target is given a regular file.
	ErrNotADirectory = errors.New("filetree: not a directory")

	// ErrIsADirectory is returned when an operation that requires a
	// regular-file target is given a directory.
	ErrIsADirectory = errors.New("filetree: is a directory")

	// ErrNotAReparsePoint is returned by extra-data accessors when the
	// target node does not have AttrReparsePoint set.
	ErrNotAReparsePoint = errors.New("filetree: not a reparse point")
)

// allocator abstracts the host memory allocator so tests can make it fail
// mid-grow, per spec §8 scenario 6 (partial OOM on write). The zero value
// of realAllocator below never fails; tests substitute a stub.
type allocator interface {
	// alloc must return a slice of exactly n bytes, or an error. A
	// non-nil error may still be accompanied by having performed no
	// allocation at all; callers ignore the returned slice whenever the
	// error is non-nil.
	alloc(n int) ([]byte, error)
}

type realAllocator struct{}

func (realAllocator) alloc(n int) ([]byte, error) {
	return make([]byte, n), nil
}
