//go:build !linux
// +build !linux

// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hostshim

import "fmt"

// HostFreeBytes is unsupported outside Linux in this build; callers
// treat its error as "skip the hygiene check", not as fatal.
func HostFreeBytes(path string) (uint64, error) {
	return 0, fmt.Errorf("hostshim: HostFreeBytes not supported on this platform")
}
