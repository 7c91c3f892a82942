// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package buildinfo reports the module version ramfstreed was built
// from, for its --version flag.
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

// String returns a one-line version report, falling back to "unknown"
// when no module build info is embedded (e.g. a `go run` invocation).
func String() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "ramfstreed unknown"
	}
	return fmt.Sprintf("ramfstreed %s (%s)", info.Main.Version, info.GoVersion)
}
