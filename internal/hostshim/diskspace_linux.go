//go:build linux
// +build linux

// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hostshim

import "golang.org/x/sys/unix"

// HostFreeBytes reports the free space of the filesystem backing path,
// so the daemon can warn when the requested volume size would not fit
// in the host's own tmpfs/backing store even before any engine
// allocation is attempted.
func HostFreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
