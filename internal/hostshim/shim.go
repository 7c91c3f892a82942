// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hostshim

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fsnode/filetree/filetree"
)

// Shim wraps a *filetree.FileTree with path resolution and structured
// logging, presenting the handful of operations a host filesystem driver
// callback table actually needs: everything is addressed by path, not by
// the engine's raw node_index, and every fallible call returns a Status
// a driver can hand straight back to its caller.
type Shim struct {
	Tree *filetree.FileTree
	Log  *logrus.Entry
}

// New wraps tree with a logger derived from base, tagged so every shim
// log line is distinguishable from the engine's own (the engine itself
// does not log; it only returns errors).
func New(tree *filetree.FileTree, base *logrus.Logger) *Shim {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return &Shim{Tree: tree, Log: base.WithField("component", "hostshim")}
}

// resolve walks path down to its containing directory, wrapping any
// PathWalk error with the path for logging and diagnostics.
func (s *Shim) resolve(path string) (parent uint64, leaf string, err error) {
	parent, leaf, err = s.Tree.PathWalk(path)
	if err != nil {
		return 0, "", errors.Wrapf(err, "resolve %q", path)
	}
	return parent, leaf, nil
}

// Create adds a new file or directory at path.
func (s *Shim) Create(path string, attrs filetree.Attr, reparseTag uint32, times filetree.Times) (uint64, Status) {
	parent, leaf, err := s.resolve(path)
	if err != nil {
		s.Log.WithError(err).WithField("path", path).Debug("create: path resolution failed")
		return 0, MapError(errors.Cause(err))
	}
	idx, created, err := s.Tree.Add(parent, leaf, attrs, reparseTag, times)
	if err != nil {
		s.Log.WithError(err).WithField("path", path).Warn("create failed")
		return 0, MapError(err)
	}
	if !created {
		return idx, StatusObjectNameCollision
	}
	return idx, StatusSuccess
}

// Open resolves path to its node_index and marks it open, returning
// StatusObjectNameNotFound if no such entry exists.
func (s *Shim) Open(path string) (uint64, filetree.Snapshot, Status) {
	parent, leaf, err := s.resolve(path)
	if err != nil {
		return 0, filetree.Snapshot{}, MapError(errors.Cause(err))
	}
	idx, _, ok := s.Tree.Find(parent, leaf)
	if !ok {
		return 0, filetree.Snapshot{}, StatusObjectNameNotFound
	}
	return idx, s.Tree.Open(idx), StatusSuccess
}

// Close releases one open reference on idx, per a prior Open. Create
// does not open the node it adds.
func (s *Shim) Close(idx uint64) {
	s.Tree.Close(idx)
}

// Read copies up to len(dst) bytes of idx's content starting at offset.
func (s *Shim) Read(idx uint64, offset uint64, dst []byte) (int, Status) {
	n, err := s.Tree.ReadData(idx, offset, dst)
	if err != nil {
		return n, MapError(err)
	}
	return n, StatusSuccess
}

// Write stores src at offset, growing idx's allocation as needed.
func (s *Shim) Write(idx uint64, offset uint64, src []byte) (int, Status) {
	n, err := s.Tree.WriteData(idx, offset, src)
	if err != nil {
		s.Log.WithError(err).WithField("node", idx).Warn("write failed")
		return n, MapError(err)
	}
	return n, StatusSuccess
}

// Rename moves oldPath to newPath, across directories if they differ.
func (s *Shim) Rename(oldPath, newPath string) Status {
	srcParent, srcLeaf, err := s.resolve(oldPath)
	if err != nil {
		return MapError(errors.Cause(err))
	}
	dstParent, dstLeaf, err := s.resolve(newPath)
	if err != nil {
		return MapError(errors.Cause(err))
	}
	if err := s.Tree.MoveCross(srcParent, srcLeaf, dstParent, dstLeaf); err != nil {
		s.Log.WithError(err).WithFields(logrus.Fields{"old": oldPath, "new": newPath}).Warn("rename failed")
		return MapError(err)
	}
	return StatusSuccess
}

// Delete unlinks path. recursive also removes every descendant first.
func (s *Shim) Delete(ctx context.Context, path string, recursive bool) Status {
	parent, leaf, err := s.resolve(path)
	if err != nil {
		return MapError(errors.Cause(err))
	}
	idx, _, ok := s.Tree.Find(parent, leaf)
	if !ok {
		return StatusObjectNameNotFound
	}
	if recursive {
		if err := s.Tree.DeleteTree(ctx, idx); err != nil {
			s.Log.WithError(err).WithField("path", path).Warn("recursive delete failed")
			return StatusUnsuccessful
		}
	}
	if !s.Tree.Remove(parent, leaf) {
		return StatusObjectNameNotFound
	}
	return StatusSuccess
}

// Enumerate lists path's children in order, starting strictly after
// marker, calling fn for each until it returns false or the directory is
// exhausted.
func (s *Shim) Enumerate(path string, marker *string, fn func(filetree.Child) bool) Status {
	parent, leaf, err := s.resolve(path)
	if err != nil {
		return MapError(errors.Cause(err))
	}
	idx := parent
	if leaf != "" {
		found, _, ok := s.Tree.Find(parent, leaf)
		if !ok {
			return StatusObjectNameNotFound
		}
		idx = found
	}
	enum := s.Tree.GetChildren(idx)
	defer enum.Close()
	enum.Each(marker, fn)
	return StatusSuccess
}

// GetSecurity returns path's security-descriptor blob.
func (s *Shim) GetSecurity(path string) ([]byte, Status) {
	idx, st := s.findExisting(path)
	if st != StatusSuccess {
		return nil, st
	}
	return s.Tree.GetSecurity(idx), StatusSuccess
}

// SetSecurity replaces path's security-descriptor blob.
func (s *Shim) SetSecurity(path string, blob []byte) Status {
	idx, st := s.findExisting(path)
	if st != StatusSuccess {
		return st
	}
	if err := s.Tree.SetSecurity(idx, blob); err != nil {
		return MapError(err)
	}
	return StatusSuccess
}

// GetExtraData returns path's reparse-point payload.
func (s *Shim) GetExtraData(path string) ([]byte, Status) {
	idx, st := s.findExisting(path)
	if st != StatusSuccess {
		return nil, st
	}
	blob, err := s.Tree.GetExtraData(idx)
	if err != nil {
		return nil, MapError(err)
	}
	return blob, StatusSuccess
}

// SetExtraData replaces path's reparse-point payload.
func (s *Shim) SetExtraData(path string, blob []byte) Status {
	idx, st := s.findExisting(path)
	if st != StatusSuccess {
		return st
	}
	if err := s.Tree.SetExtraData(idx, blob); err != nil {
		return MapError(err)
	}
	return StatusSuccess
}

// SetTimes updates path's timestamp fields and attributes in one call.
func (s *Shim) SetTimes(path string, attrs filetree.Attr, reparseTag uint32, times filetree.Times) Status {
	idx, st := s.findExisting(path)
	if st != StatusSuccess {
		return st
	}
	s.Tree.SetTimesAndAttrs(idx, attrs, reparseTag, times)
	return StatusSuccess
}

func (s *Shim) findExisting(path string) (uint64, Status) {
	parent, leaf, err := s.resolve(path)
	if err != nil {
		return 0, MapError(errors.Cause(err))
	}
	idx, _, ok := s.Tree.Find(parent, leaf)
	if !ok {
		return 0, StatusObjectNameNotFound
	}
	return idx, StatusSuccess
}
