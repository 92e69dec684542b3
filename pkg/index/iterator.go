package index

import "github.com/mnohosten/diskcore/pkg/storage"

// Iterator is a forward-only cursor over the tree's leaves in key order.
// It holds a single read guard on the current leaf;
// advancing past the leaf's end transfers that guard to the next leaf via
// next_page_id. The end iterator (Valid() == false) holds no guard, so
// concurrent structural changes to already-visited leaves are unaffected
// but the current leaf's latch blocks concurrent writers until Next/Close.
type Iterator struct {
	bpm   *storage.BufferPoolManager
	guard storage.ReadGuard
	index int
	done  bool
}

// Begin returns an iterator positioned at the tree's first key, or a
// finished iterator if the tree is empty.
func (t *BPlusTree) Begin() (*Iterator, error) {
	headerGuard, err := t.bpm.FetchPageRead(t.headerPageID)
	if err != nil {
		return nil, err
	}
	root := viewOf(headerGuard.Page()).rootPageID()
	headerGuard.Drop()
	if root == storage.InvalidPageID {
		return &Iterator{bpm: t.bpm, done: true}, nil
	}

	cur, err := t.bpm.FetchPageRead(root)
	if err != nil {
		return nil, err
	}
	for !viewOf(cur.Page()).isLeaf() {
		v := viewOf(cur.Page())
		next, err := t.bpm.FetchPageRead(v.childAt(0))
		cur.Drop()
		if err != nil {
			return nil, err
		}
		cur = next
	}
	it := &Iterator{bpm: t.bpm, guard: cur, index: 0}
	it.skipEmptyLeaves()
	return it, nil
}

// Seek returns an iterator positioned at the first key >= k.
func (t *BPlusTree) Seek(k Key) (*Iterator, error) {
	headerGuard, err := t.bpm.FetchPageRead(t.headerPageID)
	if err != nil {
		return nil, err
	}
	root := viewOf(headerGuard.Page()).rootPageID()
	headerGuard.Drop()
	if root == storage.InvalidPageID {
		return &Iterator{bpm: t.bpm, done: true}, nil
	}

	cur, err := t.bpm.FetchPageRead(root)
	if err != nil {
		return nil, err
	}
	for !viewOf(cur.Page()).isLeaf() {
		v := viewOf(cur.Page())
		idx := v.lookupChild(k)
		next, err := t.bpm.FetchPageRead(v.childAt(idx))
		cur.Drop()
		if err != nil {
			return nil, err
		}
		cur = next
	}
	v := viewOf(cur.Page())
	idx := v.insertionPoint(k)
	it := &Iterator{bpm: t.bpm, guard: cur, index: idx}
	it.skipEmptyLeaves()
	return it, nil
}

// skipEmptyLeaves advances across any fully-consumed or empty leaves,
// following next_page_id, until a non-exhausted leaf is found or the chain
// ends.
func (it *Iterator) skipEmptyLeaves() {
	for {
		if it.done {
			return
		}
		v := viewOf(it.guard.Page())
		if it.index < v.size() {
			return
		}
		next := v.nextPageID()
		it.guard.Drop()
		if next == storage.InvalidPageID {
			it.done = true
			return
		}
		g, err := it.bpm.FetchPageRead(next)
		if err != nil {
			it.done = true
			return
		}
		it.guard = g
		it.index = 0
	}
}

// Valid reports whether the iterator is positioned at a live entry.
func (it *Iterator) Valid() bool { return !it.done }

// Key and Value return the current entry. Only valid when Valid() is true.
func (it *Iterator) Key() Key {
	return viewOf(it.guard.Page()).leafKeyAt(it.index)
}

func (it *Iterator) Value() storage.RID {
	return viewOf(it.guard.Page()).valueAt(it.index)
}

// Next advances to the following entry.
func (it *Iterator) Next() {
	if it.done {
		return
	}
	it.index++
	it.skipEmptyLeaves()
}

// Close releases the iterator's held guard, if any. Safe to call multiple
// times and on an already-exhausted iterator.
func (it *Iterator) Close() {
	if it.done {
		return
	}
	it.guard.Drop()
	it.done = true
}
