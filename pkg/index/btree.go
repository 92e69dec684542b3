package index

import (
	"fmt"

	"github.com/mnohosten/diskcore/pkg/storage"
)

// BPlusTree is a concurrent, page-resident B+-tree: navigation descends
// through storage.BufferPoolManager guards using latch-coupling, so
// multiple goroutines may search, insert, delete and iterate concurrently.
// Algorithm shape (crabbing with safety release, borrow-then-merge
// deletion, root collapse) is the classic latch-coupling B+-tree; the
// teacher's in-memory pkg/index/btree.go has no on-disk layout or
// delete-rebalancing to ground this against, so only its general
// binary-search/insert/remove naming carries over.
type BPlusTree struct {
	bpm          *storage.BufferPoolManager
	headerPageID storage.PageID
}

// NewBPlusTree allocates a fresh header page and returns an empty tree.
func NewBPlusTree(bpm *storage.BufferPoolManager) (*BPlusTree, error) {
	basic, err := bpm.NewPageGuarded()
	if err != nil {
		return nil, fmt.Errorf("index: allocate header page: %w", err)
	}
	guard := basic.UpgradeWrite()
	viewOf(guard.Page()).initHeader()
	id := guard.Page().ID()
	guard.Drop()
	return &BPlusTree{bpm: bpm, headerPageID: id}, nil
}

// OpenBPlusTree wraps an existing header page (e.g. reopening a database).
func OpenBPlusTree(bpm *storage.BufferPoolManager, headerPageID storage.PageID) *BPlusTree {
	return &BPlusTree{bpm: bpm, headerPageID: headerPageID}
}

// HeaderPageID returns the tree's root-of-roots page, for callers that
// persist it in a catalog.
func (t *BPlusTree) HeaderPageID() storage.PageID { return t.headerPageID }

func internalMin() int { return (internalMaxSize() + 1) / 2 }
func leafMin() int     { return leafMaxSize() / 2 }

// releaseAncestors drops every guard in the write set except the last, per
// the safety-release rule of crabbing descent, and truncates the set to match.
func releaseAncestors(writeSet *[]storage.WriteGuard) {
	ws := *writeSet
	if len(ws) <= 1 {
		return
	}
	for i := 0; i < len(ws)-1; i++ {
		ws[i].Drop()
	}
	*writeSet = ws[len(ws)-1:]
}

func dropAll(writeSet []storage.WriteGuard) {
	for i := len(writeSet) - 1; i >= 0; i-- {
		writeSet[i].Drop()
	}
}

// Search performs a read-only point lookup: a single
// read guard is ever held on header and current node, released as the
// descent moves to the child.
func (t *BPlusTree) Search(k Key) (storage.RID, error) {
	headerGuard, err := t.bpm.FetchPageRead(t.headerPageID)
	if err != nil {
		return storage.RID{}, err
	}
	root := viewOf(headerGuard.Page()).rootPageID()
	headerGuard.Drop()
	if root == storage.InvalidPageID {
		return storage.RID{}, ErrKeyNotFound
	}

	cur, err := t.bpm.FetchPageRead(root)
	if err != nil {
		return storage.RID{}, err
	}
	for !viewOf(cur.Page()).isLeaf() {
		v := viewOf(cur.Page())
		idx := v.lookupChild(k)
		childID := v.childAt(idx)
		next, err := t.bpm.FetchPageRead(childID)
		cur.Drop()
		if err != nil {
			return storage.RID{}, err
		}
		cur = next
	}
	v := viewOf(cur.Page())
	i := v.findKey(k)
	if i < 0 {
		cur.Drop()
		return storage.RID{}, ErrKeyNotFound
	}
	rid := v.valueAt(i)
	cur.Drop()
	return rid, nil
}

// Insert adds (k, rid), returning ErrDuplicateKey if k is already present.
// Uses pessimistic crabbing with safety release.
func (t *BPlusTree) Insert(k Key, rid storage.RID) error {
	headerGuard, err := t.bpm.FetchPageWrite(t.headerPageID)
	if err != nil {
		return err
	}
	writeSet := []storage.WriteGuard{headerGuard}

	hv := viewOf(headerGuard.Page())
	root := hv.rootPageID()
	if root == storage.InvalidPageID {
		leafBasic, err := t.bpm.NewPageGuarded()
		if err != nil {
			dropAll(writeSet)
			return ErrNoFramesAvailable
		}
		leaf := leafBasic.UpgradeWrite()
		lv := viewOf(leaf.Page())
		lv.initLeaf()
		lv.insertLeafAt(0, k, rid)
		hv.setRootPageID(leaf.Page().ID())
		leaf.Drop()
		dropAll(writeSet)
		return nil
	}

	cur, err := t.bpm.FetchPageWrite(root)
	if err != nil {
		dropAll(writeSet)
		return ErrNoFramesAvailable
	}
	writeSet = append(writeSet, cur)

	for !viewOf(cur.Page()).isLeaf() {
		v := viewOf(cur.Page())
		if v.size() < v.maxSize()-1 {
			releaseAncestors(&writeSet)
		}
		idx := v.lookupChild(k)
		childID := v.childAt(idx)
		child, err := t.bpm.FetchPageWrite(childID)
		if err != nil {
			dropAll(writeSet)
			return ErrNoFramesAvailable
		}
		writeSet = append(writeSet, child)
		cur = child
	}

	lv := viewOf(cur.Page())
	if lv.findKey(k) >= 0 {
		dropAll(writeSet)
		return ErrDuplicateKey
	}
	idx := lv.insertionPoint(k)
	lv.insertLeafAt(idx, k, rid)
	if lv.size() <= lv.maxSize()-1 {
		dropAll(writeSet)
		return nil
	}

	sepKey, newPageID, err := t.splitLeaf(cur.Page())
	if err != nil {
		dropAll(writeSet)
		return err
	}
	oldNodeID := cur.Page().ID()
	writeSet[len(writeSet)-1].Drop()
	writeSet = writeSet[:len(writeSet)-1]

	for {
		parent := writeSet[len(writeSet)-1]
		if parent.Page().ID() == t.headerPageID {
			newRootBasic, err := t.bpm.NewPageGuarded()
			if err != nil {
				dropAll(writeSet)
				return ErrNoFramesAvailable
			}
			newRoot := newRootBasic.UpgradeWrite()
			nv := viewOf(newRoot.Page())
			nv.initInternal()
			nv.insertInternalAt(0, 0, oldNodeID)
			nv.insertInternalAt(1, sepKey, newPageID)
			viewOf(parent.Page()).setRootPageID(newRoot.Page().ID())
			newRoot.Drop()
			dropAll(writeSet)
			return nil
		}

		pv := viewOf(parent.Page())
		ci := pv.findChildIndex(oldNodeID)
		pv.insertInternalAt(ci+1, sepKey, newPageID)
		if pv.size() <= pv.maxSize()-1 {
			dropAll(writeSet)
			return nil
		}

		sepKey, newPageID, err = t.splitInternal(parent.Page())
		if err != nil {
			dropAll(writeSet)
			return err
		}
		oldNodeID = parent.Page().ID()
		writeSet[len(writeSet)-1].Drop()
		writeSet = writeSet[:len(writeSet)-1]
	}
}

func (t *BPlusTree) splitLeaf(page *storage.Page) (Key, storage.PageID, error) {
	v := viewOf(page)
	n := v.size()
	mid := n / 2

	basic, err := t.bpm.NewPageGuarded()
	if err != nil {
		return 0, storage.InvalidPageID, ErrNoFramesAvailable
	}
	newGuard := basic.UpgradeWrite()
	nv := viewOf(newGuard.Page())
	nv.initLeaf()
	for i := mid; i < n; i++ {
		nv.insertLeafAt(nv.size(), v.leafKeyAt(i), v.valueAt(i))
	}
	v.setSize(mid)
	nv.setNextPageID(v.nextPageID())
	v.setNextPageID(newGuard.Page().ID())

	sep := nv.leafKeyAt(0)
	newID := newGuard.Page().ID()
	newGuard.Drop()
	return sep, newID, nil
}

func (t *BPlusTree) splitInternal(page *storage.Page) (Key, storage.PageID, error) {
	v := viewOf(page)
	n := v.size()
	mid := n / 2
	sep := v.keyAt(mid)

	basic, err := t.bpm.NewPageGuarded()
	if err != nil {
		return 0, storage.InvalidPageID, ErrNoFramesAvailable
	}
	newGuard := basic.UpgradeWrite()
	nv := viewOf(newGuard.Page())
	nv.initInternal()
	for i := mid; i < n; i++ {
		key := v.keyAt(i)
		if i == mid {
			key = 0
		}
		nv.insertInternalAt(nv.size(), key, v.childAt(i))
	}
	v.setSize(mid)

	newID := newGuard.Page().ID()
	newGuard.Drop()
	return sep, newID, nil
}

// Delete removes k, returning ErrKeyNotFound if absent. Uses the same
// pessimistic descent as Insert; underflow triggers borrow-then-merge
// rebalancing, and the root is collapsed or reset when
// it drops to one child or zero keys.
func (t *BPlusTree) Delete(k Key) error {
	headerGuard, err := t.bpm.FetchPageWrite(t.headerPageID)
	if err != nil {
		return err
	}
	writeSet := []storage.WriteGuard{headerGuard}
	hv := viewOf(headerGuard.Page())

	root := hv.rootPageID()
	if root == storage.InvalidPageID {
		dropAll(writeSet)
		return ErrKeyNotFound
	}

	cur, err := t.bpm.FetchPageWrite(root)
	if err != nil {
		dropAll(writeSet)
		return ErrNoFramesAvailable
	}
	writeSet = append(writeSet, cur)

	imin := internalMin()
	for !viewOf(cur.Page()).isLeaf() {
		v := viewOf(cur.Page())
		if v.size() > imin {
			releaseAncestors(&writeSet)
		}
		idx := v.lookupChild(k)
		childID := v.childAt(idx)
		child, err := t.bpm.FetchPageWrite(childID)
		if err != nil {
			dropAll(writeSet)
			return ErrNoFramesAvailable
		}
		writeSet = append(writeSet, child)
		cur = child
	}

	lv := viewOf(cur.Page())
	i := lv.findKey(k)
	if i < 0 {
		dropAll(writeSet)
		return ErrKeyNotFound
	}
	lv.removeLeafAt(i)

	lmin := leafMin()
	isRoot := len(writeSet) == 2 && writeSet[0].Page().ID() == t.headerPageID // header + this leaf only
	if isRoot && lv.size() == 0 {
		// collapseRootIfNeeded latches the root itself, so drop the leaf first.
		writeSet[1].Drop()
		t.collapseRootIfNeeded(hv)
		writeSet[0].Drop()
		return nil
	}
	if lv.size() >= lmin || isRoot {
		dropAll(writeSet)
		return nil
	}

	leafGuard := writeSet[len(writeSet)-1]
	writeSet = writeSet[:len(writeSet)-1]
	parent := writeSet[len(writeSet)-1]
	if err := t.rebalanceLeaf(parent, leafGuard, lmin); err != nil {
		dropAll(writeSet)
		return err
	}

	for len(writeSet) > 1 {
		node := writeSet[len(writeSet)-1]
		nv := viewOf(node.Page())
		if nv.size() >= imin {
			break
		}
		parent := writeSet[len(writeSet)-2]
		if parent.Page().ID() == t.headerPageID {
			// node is the root; underflow here is handled by the collapse
			// check below, not by borrow/merge (the root is exempt).
			break
		}
		writeSet = writeSet[:len(writeSet)-1]
		if err := t.rebalanceInternal(parent, node, imin); err != nil {
			dropAll(writeSet)
			return err
		}
	}

	headerStillHeld := len(writeSet) > 0 && writeSet[0].Page().ID() == t.headerPageID
	if headerStillHeld {
		// collapseRootIfNeeded latches the root itself, so every guard
		// below the header is dropped first.
		dropAll(writeSet[1:])
		writeSet = writeSet[:1]
		t.collapseRootIfNeeded(hv)
	}
	dropAll(writeSet)
	return nil
}

// collapseRootIfNeeded implements the root-collapse rule: an
// internal root with one child is replaced by that child; an empty leaf
// root resets the tree to empty. Caller must hold the header write guard.
func (t *BPlusTree) collapseRootIfNeeded(hv nodeView) {
	rootID := hv.rootPageID()
	if rootID == storage.InvalidPageID {
		return
	}
	rootGuard, err := t.bpm.FetchPageWrite(rootID)
	if err != nil {
		return
	}
	rv := viewOf(rootGuard.Page())
	switch {
	case !rv.isLeaf() && rv.size() == 1:
		onlyChild := rv.childAt(0)
		hv.setRootPageID(onlyChild)
		rootGuard.Drop()
		_ = t.bpm.DeletePage(rootID)
	case rv.isLeaf() && rv.size() == 0:
		hv.setRootPageID(storage.InvalidPageID)
		rootGuard.Drop()
		_ = t.bpm.DeletePage(rootID)
	default:
		rootGuard.Drop()
	}
}

// rebalanceLeaf fixes an underflowed leaf by borrowing from a sibling or
// merging with one. It owns leaf's guard completely:
// every path drops leaf (and any fetched siblings) before returning, since
// a merge-away page must be unpinned before DeletePage can reclaim it.
func (t *BPlusTree) rebalanceLeaf(parent storage.WriteGuard, leaf storage.WriteGuard, lmin int) error {
	pv := viewOf(parent.Page())
	idx := pv.findChildIndex(leaf.Page().ID())
	lv := viewOf(leaf.Page())

	var right, left storage.WriteGuard
	haveRight, haveLeft := false, false
	if idx+1 < pv.size() {
		g, err := t.bpm.FetchPageWrite(pv.childAt(idx + 1))
		if err != nil {
			leaf.Drop()
			return err
		}
		right, haveRight = g, true
	}
	if idx-1 >= 0 {
		g, err := t.bpm.FetchPageWrite(pv.childAt(idx - 1))
		if err != nil {
			if haveRight {
				right.Drop()
			}
			leaf.Drop()
			return err
		}
		left, haveLeft = g, true
	}

	switch {
	case haveRight && viewOf(right.Page()).size() > lmin:
		rv := viewOf(right.Page())
		k, val := rv.leafKeyAt(0), rv.valueAt(0)
		rv.removeLeafAt(0)
		lv.insertLeafAt(lv.size(), k, val)
		pv.setKeyAt(idx+1, rv.leafKeyAt(0))
		right.Drop()
		if haveLeft {
			left.Drop()
		}
		leaf.Drop()
		return nil

	case haveLeft && viewOf(left.Page()).size() > lmin:
		lft := viewOf(left.Page())
		n := lft.size()
		k, val := lft.leafKeyAt(n-1), lft.valueAt(n-1)
		lft.removeLeafAt(n - 1)
		lv.insertLeafAt(0, k, val)
		pv.setKeyAt(idx, k)
		left.Drop()
		if haveRight {
			right.Drop()
		}
		leaf.Drop()
		return nil

	case haveLeft:
		lft := viewOf(left.Page())
		for i := 0; i < lv.size(); i++ {
			lft.insertLeafAt(lft.size(), lv.leafKeyAt(i), lv.valueAt(i))
		}
		lft.setNextPageID(lv.nextPageID())
		pv.removeInternalAt(idx)
		if haveRight {
			right.Drop()
		}
		left.Drop()
		leafID := leaf.Page().ID()
		leaf.Drop()
		return t.bpm.DeletePage(leafID)

	case haveRight:
		rv := viewOf(right.Page())
		for i := 0; i < rv.size(); i++ {
			lv.insertLeafAt(lv.size(), rv.leafKeyAt(i), rv.valueAt(i))
		}
		lv.setNextPageID(rv.nextPageID())
		pv.removeInternalAt(idx + 1)
		rightID := right.Page().ID()
		right.Drop()
		leaf.Drop()
		return t.bpm.DeletePage(rightID)

	default:
		leaf.Drop()
		return nil
	}
}

// rebalanceInternal mirrors rebalanceLeaf for internal nodes, accounting
// for the leftmost-unused-key convention when shifting entries across the
// parent separator.
func (t *BPlusTree) rebalanceInternal(parent storage.WriteGuard, node storage.WriteGuard, imin int) error {
	pv := viewOf(parent.Page())
	idx := pv.findChildIndex(node.Page().ID())
	nv := viewOf(node.Page())

	var right, left storage.WriteGuard
	haveRight, haveLeft := false, false
	if idx+1 < pv.size() {
		g, err := t.bpm.FetchPageWrite(pv.childAt(idx + 1))
		if err != nil {
			node.Drop()
			return err
		}
		right, haveRight = g, true
	}
	if idx-1 >= 0 {
		g, err := t.bpm.FetchPageWrite(pv.childAt(idx - 1))
		if err != nil {
			if haveRight {
				right.Drop()
			}
			node.Drop()
			return err
		}
		left, haveLeft = g, true
	}

	switch {
	case haveRight && viewOf(right.Page()).size() > imin:
		rv := viewOf(right.Page())
		sep := pv.keyAt(idx + 1)
		newSep := rv.keyAt(1)
		nv.insertInternalAt(nv.size(), sep, rv.childAt(0))
		rv.removeInternalAt(0)
		pv.setKeyAt(idx+1, newSep)
		right.Drop()
		if haveLeft {
			left.Drop()
		}
		node.Drop()
		return nil

	case haveLeft && viewOf(left.Page()).size() > imin:
		lft := viewOf(left.Page())
		n := lft.size()
		borrowedKey := lft.keyAt(n - 1)
		borrowedChild := lft.childAt(n - 1)
		lft.removeInternalAt(n - 1)
		sep := pv.keyAt(idx)
		nv.setKeyAt(0, sep)
		nv.insertInternalAt(0, 0, borrowedChild)
		pv.setKeyAt(idx, borrowedKey)
		left.Drop()
		if haveRight {
			right.Drop()
		}
		node.Drop()
		return nil

	case haveLeft:
		sep := pv.keyAt(idx)
		nv.setKeyAt(0, sep)
		lft := viewOf(left.Page())
		for i := 0; i < nv.size(); i++ {
			lft.insertInternalAt(lft.size(), nv.keyAt(i), nv.childAt(i))
		}
		pv.removeInternalAt(idx)
		if haveRight {
			right.Drop()
		}
		left.Drop()
		nodeID := node.Page().ID()
		node.Drop()
		return t.bpm.DeletePage(nodeID)

	case haveRight:
		sep := pv.keyAt(idx + 1)
		rv := viewOf(right.Page())
		rv.setKeyAt(0, sep)
		for i := 0; i < rv.size(); i++ {
			nv.insertInternalAt(nv.size(), rv.keyAt(i), rv.childAt(i))
		}
		pv.removeInternalAt(idx + 1)
		rightID := right.Page().ID()
		right.Drop()
		node.Drop()
		return t.bpm.DeletePage(rightID)

	default:
		node.Drop()
		return nil
	}
}

// Height walks the leftmost spine and returns the number of levels
// (0 for an empty tree, 1 for a single-leaf tree), mirroring the teacher's
// BTree.Height() observability helper.
func (t *BPlusTree) Height() (int, error) {
	headerGuard, err := t.bpm.FetchPageRead(t.headerPageID)
	if err != nil {
		return 0, err
	}
	root := viewOf(headerGuard.Page()).rootPageID()
	headerGuard.Drop()
	if root == storage.InvalidPageID {
		return 0, nil
	}

	height := 0
	cur, err := t.bpm.FetchPageRead(root)
	if err != nil {
		return 0, err
	}
	for {
		height++
		v := viewOf(cur.Page())
		if v.isLeaf() {
			cur.Drop()
			break
		}
		child := v.childAt(0)
		next, err := t.bpm.FetchPageRead(child)
		cur.Drop()
		if err != nil {
			return 0, err
		}
		cur = next
	}
	return height, nil
}

// TreeStats is a point-in-time snapshot of tree size, mirroring the
// teacher's BTree.Size()/Height() pair collapsed into one observability
// call since this tree keeps no running counters of its own.
type TreeStats struct {
	LeafPages int
	KeyCount  int
	Height    int
}

// Stats walks the leftmost spine to find the first leaf, then follows
// the leaf chain via nextPageID to count pages and keys across the
// whole bottom level.
func (t *BPlusTree) Stats() (TreeStats, error) {
	height, err := t.Height()
	if err != nil {
		return TreeStats{}, err
	}
	if height == 0 {
		return TreeStats{}, nil
	}

	headerGuard, err := t.bpm.FetchPageRead(t.headerPageID)
	if err != nil {
		return TreeStats{}, err
	}
	cur := viewOf(headerGuard.Page()).rootPageID()
	headerGuard.Drop()

	guard, err := t.bpm.FetchPageRead(cur)
	if err != nil {
		return TreeStats{}, err
	}
	for !viewOf(guard.Page()).isLeaf() {
		child := viewOf(guard.Page()).childAt(0)
		next, err := t.bpm.FetchPageRead(child)
		guard.Drop()
		if err != nil {
			return TreeStats{}, err
		}
		guard = next
	}

	stats := TreeStats{Height: height}
	for {
		v := viewOf(guard.Page())
		stats.LeafPages++
		stats.KeyCount += v.size()
		next := v.nextPageID()
		guard.Drop()
		if next == storage.InvalidPageID {
			break
		}
		guard, err = t.bpm.FetchPageRead(next)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}
