// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hostshim translates between the engine's Go error sentinels
// and the NT-style status codes a host filesystem driver callback is
// expected to return, and resolves driver-supplied paths against a
// *filetree.FileTree.
package hostshim

import (
	"errors"

	"github.com/fsnode/filetree/filetree"
)

// Status is an NT-style status code, as a host filesystem driver callback
// would return it.
type Status uint32

const (
	StatusSuccess               Status = 0x00000000
	StatusObjectNameNotFound    Status = 0xC0000034
	StatusObjectNameCollision   Status = 0xC0000035
	StatusObjectPathNotFound    Status = 0xC000003A
	StatusDiskFull              Status = 0xC000007F
	StatusInsufficientResources Status = 0xC000009A
	StatusNotADirectory         Status = 0xC0000103
	StatusFileIsADirectory      Status = 0xC00000BA
	StatusReparsePoint          Status = 0x00000104
	StatusNotAReparsePoint      Status = 0xC0000275
	StatusUnsuccessful          Status = 0xC0000001
)

// MapError translates an engine error (or nil) into the status code a
// driver callback should return. Unrecognized errors map to
// StatusUnsuccessful rather than panicking: a host shim must always be
// able to answer the driver, even for an error it wasn't built to expect.
func MapError(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, filetree.ErrFull):
		return StatusDiskFull
	case errors.Is(err, filetree.ErrOutOfMemory):
		return StatusInsufficientResources
	case errors.Is(err, filetree.ErrObjectPathNotFound):
		return StatusObjectPathNotFound
	case errors.Is(err, filetree.ErrDirectoryIsAReparsePoint):
		return StatusReparsePoint
	case errors.Is(err, filetree.ErrNotADirectory):
		return StatusNotADirectory
	case errors.Is(err, filetree.ErrIsADirectory):
		return StatusFileIsADirectory
	case errors.Is(err, filetree.ErrNotAReparsePoint):
		return StatusNotAReparsePoint
	default:
		return StatusUnsuccessful
	}
}
