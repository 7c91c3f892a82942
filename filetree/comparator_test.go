// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filetree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComparatorCaseSensitive(t *testing.T) {
	c := newComparator(false)
	require.False(t, c.equal("Foo", "foo"))
	require.True(t, c.equal("foo", "foo"))
}

func TestComparatorCaseInsensitiveUnicode(t *testing.T) {
	c := newComparator(true)
	require.True(t, c.equal("STRASSE", "strasse"))
	require.True(t, c.equal("İstanbul", c.key("İstanbul")))
	require.True(t, c.equal("CAFÉ", "café"))
}

func TestComparatorOrdering(t *testing.T) {
	c := newComparator(false)
	require.Less(t, c.compare("a", "b"), 0)
	require.Greater(t, c.compare("b", "a"), 0)
	require.Equal(t, 0, c.compare("a", "a"))
}
