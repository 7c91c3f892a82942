// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config parses the host shim's command-line options: the size
// string format and the handful of flags spec §6 lists as belonging to
// the CLI layer, not the core engine.
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// MinSize is the smallest volume size the CLI will accept.
const MinSize uint64 = 512

// DefaultSize is used when --size is not given.
const DefaultSize uint64 = 2 << 30 // 2 GiB

var sizeSuffixes = map[byte]uint64{
	'K': 1 << 10,
	'M': 1 << 20,
	'G': 1 << 30,
	'T': 1 << 40,
}

// ParseSize parses a decimal size with an optional K/M/G/T suffix (spec
// §6). An empty string yields DefaultSize. It returns an error on a
// malformed number or on overflow of the suffix multiplication.
func ParseSize(s string) (uint64, error) {
	if s == "" {
		return DefaultSize, nil
	}

	mult := uint64(1)
	numPart := s
	last := s[len(s)-1]
	if m, ok := sizeSuffixes[strings.ToUpper(string(last))[0]]; ok {
		mult = m
		numPart = s[:len(s)-1]
	}

	n, err := strconv.ParseUint(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid size %q: %w", s, err)
	}

	result := n * mult
	if mult != 1 && n != 0 && result/mult != n {
		return 0, fmt.Errorf("config: size %q overflows", s)
	}
	return result, nil
}

// Options is the resolved set of host shim flags (spec §6's CLI table).
type Options struct {
	Size           uint64
	CaseSensitive  bool
	Label          string
	FileSystemName string
	Security       string // SDDL string, passed through opaquely
	Debug          bool
	MountPoint     string
}

// Validate checks the parsed options for the constraints spec §6 names
// (minimum size; a mount point must be supplied).
func (o Options) Validate() error {
	if o.Size < MinSize {
		return fmt.Errorf("config: size %d is below the minimum of %d", o.Size, MinSize)
	}
	if o.MountPoint == "" {
		return fmt.Errorf("config: a mount point is required")
	}
	return nil
}
