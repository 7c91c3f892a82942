// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filetree

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FileTree is the public facade over the in-memory hierarchical
// filesystem engine (spec §4.4). Every operation is identified by a
// caller-supplied node_index, or a (parent, name) pair; path resolution
// itself lives in PathWalk / the host shim, not here.
type FileTree struct {
	store      *NodeStore
	cmp        comparator
	ignoreCase bool
}

// NewFileTree creates a volume of totalSize bytes and its root directory
// at RootIndex. rootSecurity is an opaque security-descriptor blob copied
// in as-is; it may be nil.
func NewFileTree(totalSize uint64, ignoreCase bool, rootTimes Times, rootSecurity []byte) (*FileTree, error) {
	store := NewNodeStore(totalSize)
	t := &FileTree{store: store, cmp: newComparator(ignoreCase), ignoreCase: ignoreCase}

	store.RLock()
	idx, err := store.AllocateLocked()
	if err != nil {
		store.RUnlock()
		return nil, err
	}
	if idx != RootIndex {
		panic("filetree: root must be the first allocated slot")
	}

	if len(rootSecurity) > 0 && !store.ChargeBytes(uint64(len(rootSecurity))) {
		store.ReleaseBytes(NodeOverhead)
		store.RUnlock()
		return nil, ErrFull
	}

	n := store.RefLocked(idx)
	*n = node{attributes: CanonicalAttr(AttrDirectory), times: rootTimes}
	n.setParentIndex(RootIndex)

	aux := store.RefAuxLocked(idx)
	*aux = nodeAux{children: NewChildIndex(t.cmp)}
	if len(rootSecurity) > 0 {
		aux.securityDescriptor = append([]byte(nil), rootSecurity...)
	}
	store.RUnlock()

	return t, nil
}

// Stats is a read-only snapshot of volume-wide accounting. NodeCount is
// the length of the node arrays, free slots included.
type Stats struct {
	TotalSize uint64
	FreeSize  uint64
	NodeCount uint64
}

// Stat returns a cheap point-in-time snapshot of volume accounting.
func (t *FileTree) Stat() Stats {
	return Stats{
		TotalSize: t.store.TotalSize(),
		FreeSize:  t.store.FreeSize(),
		NodeCount: t.store.Count(),
	}
}

func childCost(name string) uint64 {
	return ChildOverhead + 2*uint64(len(name))
}

// Add creates a new node named name under parent. For directories it sets
// the parent back-pointer; for regular files it sets link_count to 1.
// If a child already named name exists, Add returns (0, false, nil): a
// duplicate is reported as a non-error per spec §4.4, not as ErrFull.
func (t *FileTree) Add(parent uint64, name string, attrs Attr, tag uint32, times Times) (uint64, bool, error) {
	attrs = CanonicalAttr(attrs)

	t.store.RLock()
	defer t.store.RUnlock()

	pn := t.store.RefLocked(parent)
	if !pn.attributes.IsDir() {
		return 0, false, ErrNotADirectory
	}
	paux := t.store.RefAuxLocked(parent)
	if _, _, ok := paux.children.Find(name); ok {
		return 0, false, nil
	}

	cost := childCost(name)
	if !t.store.ChargeBytes(cost) {
		return 0, false, ErrFull
	}

	idx, err := t.store.AllocateLocked()
	if err != nil {
		t.store.ReleaseBytes(cost)
		return 0, false, err
	}

	n := t.store.RefLocked(idx)
	*n = node{attributes: attrs, reparseTag: tag, times: times}
	if attrs.IsDir() {
		n.setParentIndex(parent)
	} else {
		n.setLinkCount(1)
	}

	aux := t.store.RefAuxLocked(idx)
	*aux = nodeAux{}
	if attrs.IsDir() {
		aux.children = NewChildIndex(t.cmp)
	}

	// paux may have been re-pointed by an intervening array grow inside
	// AllocateLocked; re-fetch it before mutating.
	paux = t.store.RefAuxLocked(parent)
	paux.children.Add(Child{Name: name, NodeIndex: idx})

	return idx, true, nil
}

// Find looks up name under parent, returning its node_index and the
// canonical (stored) spelling of the name.
func (t *FileTree) Find(parent uint64, name string) (uint64, string, bool) {
	t.store.RLock()
	defer t.store.RUnlock()

	aux := t.store.RefAuxLocked(parent)
	ch, _, ok := aux.children.Find(name)
	if !ok {
		return 0, "", false
	}
	return ch.NodeIndex, ch.Name, true
}

// Get returns a read-only snapshot of node idx's fixed fields.
func (t *FileTree) Get(idx uint64) Snapshot {
	t.store.RLock()
	defer t.store.RUnlock()
	return t.store.RefLocked(idx).snapshot()
}

// SetAttrs replaces attrs and the reparse tag on idx. The Directory bit of
// the existing attributes is preserved regardless of what is passed in,
// per spec invariant: "The Directory bit is immutable after creation."
func (t *FileTree) SetAttrs(idx uint64, attrs Attr, tag uint32) {
	t.store.RLock()
	defer t.store.RUnlock()

	n := t.store.RefLocked(idx)
	dirBit := n.attributes & AttrDirectory
	n.attributes = CanonicalAttr(attrs&^AttrDirectory | dirBit)
	n.reparseTag = tag
}

// SetTimesAndAttrs updates attrs, reparse tag, and the timestamp fields in
// one call.
func (t *FileTree) SetTimesAndAttrs(idx uint64, attrs Attr, tag uint32, times Times) {
	t.store.RLock()
	defer t.store.RUnlock()

	n := t.store.RefLocked(idx)
	dirBit := n.attributes & AttrDirectory
	n.attributes = CanonicalAttr(attrs&^AttrDirectory | dirBit)
	n.reparseTag = tag
	n.times = times
}

// ResetAndGet zeroes file_size, resets the timestamps, and applies attrs
// and tag, while preserving link_count (for files) or the parent pointer
// (for directories). Used by the host shim's "supersede/overwrite"
// create path.
func (t *FileTree) ResetAndGet(idx uint64, attrs Attr, tag uint32, times Times) Snapshot {
	t.store.RLock()
	defer t.store.RUnlock()

	n := t.store.RefLocked(idx)
	dirBit := n.attributes & AttrDirectory
	union := n.union
	*n = node{
		attributes: CanonicalAttr(attrs&^AttrDirectory | dirBit),
		reparseTag: tag,
		times:      times,
		openCount:  n.openCount,
	}
	n.union = union
	return n.snapshot()
}

// Open atomically increments idx's open_count and returns its snapshot.
func (t *FileTree) Open(idx uint64) Snapshot {
	t.store.RLock()
	defer t.store.RUnlock()

	n := t.store.RefLocked(idx)
	n.incOpen()
	return n.snapshot()
}

// Close atomically decrements idx's open_count; if it reaches zero and
// the node is unreachable (a detached directory, or a file with
// link_count==0), the node is freed.
func (t *FileTree) Close(idx uint64) {
	t.store.RLock()
	n := t.store.RefLocked(idx)
	remaining := n.decOpen()
	free := remaining == 0 && t.unreachableLocked(n)
	t.store.RUnlock()

	if free {
		t.freeNode(idx)
	}
}

func (t *FileTree) unreachableLocked(n *node) bool {
	switch n.kind() {
	case kindDirectory:
		return n.detached()
	case kindFile:
		return n.linkCount() == 0
	default:
		return false
	}
}

// freeNode releases a node's blob and buffer charges and returns its slot
// to the free list. If the node is a directory it first recursively
// unlinks (and, where already unopened, frees) any remaining children —
// this only runs on a directory that is already unreachable from the
// root, so no live name can still resolve to them.
func (t *FileTree) freeNode(idx uint64) {
	t.store.RLock()
	n := t.store.RefLocked(idx)
	aux := t.store.RefAuxLocked(idx)
	isDir := n.kind() == kindDirectory

	var toRecurse []uint64
	if isDir {
		aux.children.IterUnordered(func(c Child) bool {
			toRecurse = append(toRecurse, c.NodeIndex)
			t.store.ReleaseBytes(childCost(c.Name))
			return true
		})
	}

	t.store.ReleaseBytes(uint64(len(aux.securityDescriptor)))
	t.store.ReleaseBytes(uint64(len(aux.extraData)))
	t.store.ReleaseBytes(aux.data.Length())
	t.store.FreeLocked(idx)
	t.store.RUnlock()

	for _, childIdx := range toRecurse {
		t.unlinkChildOfFreedParent(childIdx)
	}
}

// unlinkChildOfFreedParent is invoked only while freeing a directory whose
// children slice is about to be discarded; it applies the same unlink
// semantics Remove uses, without touching a ChildIndex that no longer
// exists.
func (t *FileTree) unlinkChildOfFreedParent(idx uint64) {
	t.store.RLock()
	n := t.store.RefLocked(idx)
	switch n.kind() {
	case kindDirectory:
		n.setParentIndex(detachedParent)
	case kindFile:
		n.setLinkCount(n.linkCount() - 1)
	}
	free := n.loadOpen() == 0 && t.unreachableLocked(n)
	t.store.RUnlock()

	if free {
		t.freeNode(idx)
	}
}

// Remove deletes the name entry under parent. A regular file's
// link_count is decremented and the node freed once both it and
// open_count reach zero; a directory's parent pointer is cleared
// (detached) and it is freed immediately unless still open.
func (t *FileTree) Remove(parent uint64, name string) bool {
	t.store.RLock()
	paux := t.store.RefAuxLocked(parent)
	ch, loc, ok := paux.children.Find(name)
	if !ok {
		t.store.RUnlock()
		return false
	}
	paux.children.Remove(loc)
	t.store.ReleaseBytes(childCost(ch.Name))

	n := t.store.RefLocked(ch.NodeIndex)
	switch n.kind() {
	case kindDirectory:
		n.setParentIndex(detachedParent)
	case kindFile:
		n.setLinkCount(n.linkCount() - 1)
	}
	free := n.loadOpen() == 0 && t.unreachableLocked(n)
	t.store.RUnlock()

	if free {
		t.freeNode(ch.NodeIndex)
	}
	return true
}

// RemoveChildren unlinks every child of parent in one bulk operation.
func (t *FileTree) RemoveChildren(parent uint64) {
	t.store.RLock()
	paux := t.store.RefAuxLocked(parent)
	var names []string
	paux.children.IterUnordered(func(c Child) bool {
		names = append(names, c.Name)
		return true
	})
	t.store.RUnlock()

	for _, name := range names {
		t.Remove(parent, name)
	}
}

// DeleteTree recursively removes every descendant of parent, then unlinks
// parent's own children entries, leaving parent itself an empty directory.
// Distinct children are independent subtrees, so each is walked and
// unlinked concurrently: the store lock is only ever held in shared mode
// for these mutations (exclusive locking is reserved for array growth), so
// concurrent work on distinct nodes never contends beyond that.
func (t *FileTree) DeleteTree(ctx context.Context, parent uint64) error {
	t.store.RLock()
	paux := t.store.RefAuxLocked(parent)
	children := make([]Child, 0, paux.children.Len())
	paux.children.IterUnordered(func(c Child) bool {
		children = append(children, c)
		return true
	})
	t.store.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range children {
		c := c
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.store.RLock()
			isDir := t.store.RefLocked(c.NodeIndex).kind() == kindDirectory
			t.store.RUnlock()
			if isDir {
				if err := t.DeleteTree(ctx, c.NodeIndex); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	t.RemoveChildren(parent)
	return nil
}

// Move renames src to dst within the same directory. If dst already
// exists and differs from src, dst's child entry is repointed at src's
// node and the old dst node is unlinked (freed once unopened); if dst
// does not exist, src is renamed in place.
func (t *FileTree) Move(parent uint64, srcName, dstName string) error {
	return t.MoveCross(parent, srcName, parent, dstName)
}

// MoveCross renames (srcParent, srcName) to (dstParent, dstName),
// possibly across directories. See Move for same-directory semantics;
// MoveCross additionally fixes the moved directory's parent pointer when
// it changes containing directory.
func (t *FileTree) MoveCross(srcParent uint64, srcName string, dstParent uint64, dstName string) error {
	t.store.RLock()
	defer t.store.RUnlock()

	saux := t.store.RefAuxLocked(srcParent)
	srcChild, srcLoc, ok := saux.children.Find(srcName)
	if !ok {
		return ErrObjectPathNotFound
	}

	daux := t.store.RefAuxLocked(dstParent)
	dstChild, dstLoc, dstExists := daux.children.Find(dstName)
	if dstExists && srcParent == dstParent && dstLoc == srcLoc {
		// dstName resolved to src's own entry under case-insensitive
		// comparison (a case-only rename): there is no second entry to
		// replace, so fall through to the in-place rename below instead,
		// which still runs even though cmp.equal(srcName, dstName) holds,
		// since the stored byte casing differs.
		dstExists = false
	}

	if dstExists {
		// Replace: repoint dst's entry at src's node, drop the old dst
		// node, delete src's entry. Ordering never depends on NodeIndex,
		// so this is a plain in-place overwrite of that field.
		oldDst := dstChild.NodeIndex
		daux.children.SetNodeIndex(dstLoc, srcChild.NodeIndex)

		saux = t.store.RefAuxLocked(srcParent)
		saux.children.Remove(srcLoc)
		t.store.ReleaseBytes(childCost(srcChild.Name))

		if srcParent != dstParent {
			t.fixParentLocked(srcChild.NodeIndex, dstParent)
		}

		dn := t.store.RefLocked(oldDst)
		switch dn.kind() {
		case kindDirectory:
			dn.setParentIndex(detachedParent)
		case kindFile:
			dn.setLinkCount(dn.linkCount() - 1)
		}
		free := dn.loadOpen() == 0 && t.unreachableLocked(dn)
		if free {
			defer func() { t.freeNode(oldDst) }()
		}
		return nil
	}

	if srcParent == dstParent {
		// In-place rename: mutate the existing entry's name and re-sift
		// it within its own tooth, per spec §4.4 ("in-place rename,
		// reorder in its tooth"), rather than remove-then-add.
		oldCost := childCost(srcChild.Name)
		newCost := childCost(dstName)
		if newCost > oldCost {
			if !t.store.ChargeBytes(newCost - oldCost) {
				return ErrFull
			}
		} else if newCost < oldCost {
			t.store.ReleaseBytes(oldCost - newCost)
		}
		saux.children.SetName(srcLoc, dstName)
		saux.children.Reorder(srcLoc)
		return nil
	}

	// Cross-directory move to a fresh name: add to dst, remove from src.
	if !t.store.ChargeBytes(childCost(dstName)) {
		return ErrFull
	}
	daux.children.Add(Child{Name: dstName, NodeIndex: srcChild.NodeIndex})

	saux = t.store.RefAuxLocked(srcParent)
	saux.children.Remove(srcLoc)
	t.store.ReleaseBytes(childCost(srcChild.Name))

	t.fixParentLocked(srcChild.NodeIndex, dstParent)
	return nil
}

func (t *FileTree) fixParentLocked(idx, newParent uint64) {
	n := t.store.RefLocked(idx)
	if n.kind() == kindDirectory {
		n.setParentIndex(newParent)
	}
}

// ChildEnumerator iterates a directory's children in sorted order,
// holding the store's shared lock for its entire lifetime so that the
// underlying ChildIndex cannot be invalidated by a concurrent array grow
// (spec §9's guard-object option for "interior references under a shared
// lock").
type ChildEnumerator struct {
	t      *FileTree
	parent uint64
	done   bool
}

// GetChildren returns an enumerator over parent's children; the marker
// to start after is passed to Each. The caller must call Close when
// finished.
func (t *FileTree) GetChildren(parent uint64) *ChildEnumerator {
	t.store.RLock()
	return &ChildEnumerator{t: t, parent: parent}
}

// Each calls fn once per child, in order, starting strictly after marker,
// stopping early if fn returns false.
func (e *ChildEnumerator) Each(marker *string, fn func(Child) bool) {
	aux := e.t.store.RefAuxLocked(e.parent)
	aux.children.IterFrom(marker, fn)
}

// Close releases the lock acquired by GetChildren.
func (e *ChildEnumerator) Close() {
	if e.done {
		return
	}
	e.done = true
	e.t.store.RUnlock()
}

// HasChildren reports whether parent has at least one child.
func (t *FileTree) HasChildren(parent uint64) bool {
	t.store.RLock()
	defer t.store.RUnlock()
	return t.store.RefAuxLocked(parent).children.Len() > 0
}

// GetSecurity returns a copy of idx's security-descriptor blob.
func (t *FileTree) GetSecurity(idx uint64) []byte {
	t.store.RLock()
	defer t.store.RUnlock()
	return append([]byte(nil), t.store.RefAuxLocked(idx).securityDescriptor...)
}

// SetSecurity replaces idx's security-descriptor blob, charging/releasing
// the byte-budget delta.
func (t *FileTree) SetSecurity(idx uint64, blob []byte) error {
	t.store.RLock()
	defer t.store.RUnlock()
	return t.setBlobLocked(&t.store.RefAuxLocked(idx).securityDescriptor, blob)
}

// GetExtraData returns a copy of idx's extra-data blob (reparse-point
// payload or similar, opaque to the engine). Returns ErrNotAReparsePoint
// if idx does not have AttrReparsePoint set.
func (t *FileTree) GetExtraData(idx uint64) ([]byte, error) {
	t.store.RLock()
	defer t.store.RUnlock()
	if t.store.RefLocked(idx).attributes&AttrReparsePoint == 0 {
		return nil, ErrNotAReparsePoint
	}
	return append([]byte(nil), t.store.RefAuxLocked(idx).extraData...), nil
}

// SetExtraData replaces idx's extra-data blob. Returns ErrNotAReparsePoint
// if idx does not have AttrReparsePoint set.
func (t *FileTree) SetExtraData(idx uint64, blob []byte) error {
	t.store.RLock()
	defer t.store.RUnlock()
	if t.store.RefLocked(idx).attributes&AttrReparsePoint == 0 {
		return ErrNotAReparsePoint
	}
	return t.setBlobLocked(&t.store.RefAuxLocked(idx).extraData, blob)
}

func (t *FileTree) setBlobLocked(slot *[]byte, blob []byte) error {
	oldLen := uint64(len(*slot))
	newLen := uint64(len(blob))
	if newLen > oldLen {
		if !t.store.ChargeBytes(newLen - oldLen) {
			return ErrFull
		}
	}
	if newLen < oldLen {
		t.store.ReleaseBytes(oldLen - newLen)
	}
	*slot = append([]byte(nil), blob...)
	return nil
}

// SecurityModifier reads and rewrites a security-descriptor blob in
// place, returning the (possibly replaced) blob to store and an error. It
// models the source's delegate-based "modify_security" callback (spec
// §9).
type SecurityModifier func(current []byte, arg any) (next []byte, err error)

// ModifySecurity runs fn over idx's current security blob under the
// store's shared lock and stores the result, charging/releasing the
// byte-budget delta. If fn returns an error, or the new blob cannot be
// charged, idx's blob is left unchanged.
func (t *FileTree) ModifySecurity(idx uint64, arg any, fn SecurityModifier) error {
	t.store.RLock()
	defer t.store.RUnlock()

	aux := t.store.RefAuxLocked(idx)
	next, err := fn(aux.securityDescriptor, arg)
	if err != nil {
		return err
	}
	return t.setBlobLocked(&aux.securityDescriptor, next)
}

// GetAllocationSize returns idx's backing-buffer capacity in bytes.
func (t *FileTree) GetAllocationSize(idx uint64) uint64 {
	t.store.RLock()
	defer t.store.RUnlock()
	return t.store.RefAuxLocked(idx).data.Length()
}

// SetAllocationSize adjusts idx's backing-buffer capacity. Shrinking
// never fails and clamps file_size down if it now exceeds the new
// allocation. Growing may return ErrFull (budget) or ErrOutOfMemory
// (allocator), in which case the buffer is left at whatever size it
// reached and file_size is left untouched.
func (t *FileTree) SetAllocationSize(idx uint64, newSize uint64) error {
	t.store.RLock()
	defer t.store.RUnlock()

	n := t.store.RefLocked(idx)
	aux := t.store.RefAuxLocked(idx)
	old := aux.data.Length()

	if newSize == old {
		return nil
	}
	if newSize < old {
		aux.data.SetLength(newSize)
		t.store.ReleaseBytes(old - newSize)
		if n.fileSize > newSize {
			n.fileSize = newSize
		}
		return nil
	}

	delta := newSize - old
	if !t.store.ChargeBytes(delta) {
		return ErrFull
	}
	reached, err := aux.data.SetLength(newSize)
	if reached < newSize {
		t.store.ReleaseBytes(newSize - reached)
	}
	if err != nil {
		return ErrOutOfMemory
	}
	return nil
}

// SetFileSize grows the backing buffer if needed, then sets file_size.
func (t *FileTree) SetFileSize(idx uint64, newSize uint64) error {
	t.store.RLock()
	defer t.store.RUnlock()

	n := t.store.RefLocked(idx)
	aux := t.store.RefAuxLocked(idx)
	if newSize > aux.data.Length() {
		if err := t.growAllocationLocked(aux, newSize); err != nil {
			return err
		}
	}
	n.fileSize = newSize
	return nil
}

// ReadData copies up to len(dst) bytes starting at offset into dst,
// clamped to file_size; it returns 0 at or past EOF. Returns
// ErrIsADirectory if idx is a directory: directory nodes have no content
// buffer to read.
func (t *FileTree) ReadData(idx uint64, offset uint64, dst []byte) (int, error) {
	t.store.RLock()
	defer t.store.RUnlock()

	n := t.store.RefLocked(idx)
	if n.kind() == kindDirectory {
		return 0, ErrIsADirectory
	}
	if offset >= n.fileSize {
		return 0, nil
	}
	avail := n.fileSize - offset
	length := uint64(len(dst))
	if length > avail {
		length = avail
	}
	aux := t.store.RefAuxLocked(idx)
	aux.data.Read(offset, dst[:length])
	return int(length), nil
}

// WriteData writes src at offset, growing file_size (and the backing
// buffer, via the grow-fallback ladder below) as needed. It may write
// fewer bytes than requested if the allocator fails mid-grow; the
// returned count reflects what was actually written. The write length is
// clamped so that offset+length never overflows u64. Returns ErrIsADirectory if idx is
// a directory: directory nodes have no content buffer to write.
func (t *FileTree) WriteData(idx uint64, offset uint64, src []byte) (int, error) {
	t.store.RLock()
	defer t.store.RUnlock()

	n := t.store.RefLocked(idx)
	if n.kind() == kindDirectory {
		return 0, ErrIsADirectory
	}

	const maxU64 = ^uint64(0)
	length := uint64(len(src))
	if offset > maxU64-length {
		length = maxU64 - offset
		src = src[:length]
	}
	if length == 0 {
		return 0, nil
	}

	aux := t.store.RefAuxLocked(idx)

	var growErr error
	newFileSize := offset + length
	if newFileSize > aux.data.Length() {
		growErr = t.growAllocationLadderLocked(aux, newFileSize)
		if growErr != nil && aux.data.Length() <= offset {
			return 0, growErr
		}
	}

	writable := length
	if offset+writable > aux.data.Length() {
		writable = aux.data.Length() - offset
	}
	aux.data.Write(offset, src[:writable])

	if offset+writable > n.fileSize {
		n.fileSize = offset + writable
	}

	if writable < length {
		return int(writable), growErr
	}
	return int(writable), nil
}

// growAllocationLocked grows aux.data to exactly target, charging the
// exact delta, used by SetFileSize which does not apply the write
// fallback ladder.
func (t *FileTree) growAllocationLocked(aux *nodeAux, target uint64) error {
	old := aux.data.Length()
	delta := target - old
	if !t.store.ChargeBytes(delta) {
		return ErrFull
	}
	reached, err := aux.data.SetLength(target)
	if reached < target {
		t.store.ReleaseBytes(target - reached)
	}
	if err != nil {
		return ErrOutOfMemory
	}
	return nil
}

// growAllocationLadderLocked implements write_data's grow-fallback ladder
// (spec §4.4): try rounded_length(target), then target exactly, then
// geometric shrink halfway toward the old allocation size, until one
// succeeds or equals the old size; only then report the last failure
// (ErrFull or ErrOutOfMemory). An allocator failure that still grew the
// buffer past the old size stops the ladder at once with ErrOutOfMemory.
func (t *FileTree) growAllocationLadderLocked(aux *nodeAux, target uint64) error {
	old := aux.data.Length()

	candidates := []uint64{RoundedLength(target), target}
	for cand := target; cand > old; cand = old + (cand-old)/2 {
		candidates = append(candidates, cand)
		if cand == old+1 {
			break
		}
	}

	var lastErr error
	for _, cand := range candidates {
		if cand <= old {
			continue
		}
		delta := cand - old
		if !t.store.ChargeBytes(delta) {
			lastErr = ErrFull
			continue
		}
		reached, err := aux.data.SetLength(cand)
		if reached < cand {
			t.store.ReleaseBytes(cand - reached)
		}
		if err != nil {
			// Partial success: keep what was reached if it actually grew
			// the buffer past old, otherwise keep trying smaller targets.
			if reached > old {
				return ErrOutOfMemory
			}
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = ErrFull
	}
	return lastErr
}
