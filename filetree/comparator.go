// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filetree

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// comparator orders and compares child names. Every ChildIndex is built
// with exactly one comparator for its lifetime, per the glossary's
// requirement that find/add/reorder/enumerate/marker-search all agree on
// the same comparison.
type comparator struct {
	ignoreCase bool
	fold       cases.Caser
}

func newComparator(ignoreCase bool) comparator {
	return comparator{
		ignoreCase: ignoreCase,
		// cases.Fold gives a Unicode-aware caseless-matching transform,
		// used instead of strings.EqualFold so that names outside ASCII
		// fold the way the host driver's case-fold table expects (spec
		// glossary, "Comparator").
		fold: cases.Fold(),
	}
}

// key returns the string this comparator should actually compare, folding
// case when configured to ignore it.
func (c comparator) key(name string) string {
	if !c.ignoreCase {
		return name
	}
	return c.fold.String(name)
}

// compare returns -1, 0, or 1 the way strings.Compare does, under this
// comparator's case policy.
func (c comparator) compare(a, b string) int {
	if !c.ignoreCase {
		return strings.Compare(a, b)
	}
	return strings.Compare(c.key(a), c.key(b))
}

func (c comparator) equal(a, b string) bool {
	return c.compare(a, b) == 0
}
