// Package index implements a concurrent B+-tree: a page-resident ordered
// map from int64 keys to storage.RID values, navigated under
// latch-coupling ("crabbing"). Node layout is a tagged union discriminated
// by a page_type byte laid out directly in the page's bytes, generalized
// from the teacher's pkg/index/btree_disk.go BTreeNodeHeader
// (NodeType/KeyCount/NextPageID fields) from a document-index header into
// a header/internal/leaf trio, with fixed-width int64 keys and storage.RID
// values replacing the teacher's variable-length document keys (see
// DESIGN.md).
package index

import (
	"encoding/binary"

	"github.com/mnohosten/diskcore/pkg/storage"
)

// Key is the B+-tree's fixed-width ordered key type.
type Key = int64

// page_type tags, the discriminator of the tagged union used in place of
// the teacher's class-based node hierarchy.
const (
	pageTypeHeader   byte = 0
	pageTypeInternal byte = 1
	pageTypeLeaf     byte = 2
)

// Common header laid out at the start of every B+-tree page: 16 bytes.
const (
	offPageType = 0 // 1 byte
	offSize     = 4 // uint32, number of live entries (unused on header pages)
	offMaxSize  = 8 // uint32, capacity (unused on header pages)
	commonHeaderSize = 16
)

// Header page: just root_page_id after the common header.
const offRootPageID = commonHeaderSize // int64

// Internal page: entries of (key int64, child_page_id int64) starting
// right after the common header. The first key (index 0) is unused, the
// standard leftmost-pointer convention.
const (
	internalEntryStart = commonHeaderSize
	internalEntrySize  = 16 // 8-byte key + 8-byte child page id
)

// Leaf page: next_page_id int64, then entries of (key int64, RID) where RID
// is PageID int64 + SlotNum uint32, padded to 8 bytes for alignment.
const (
	offNextPageID  = commonHeaderSize // int64
	leafEntryStart = commonHeaderSize + 8
	leafEntrySize  = 24 // 8-byte key + 8-byte RID.PageID + 8-byte (4-byte SlotNum + 4 pad)
)

func internalMaxSize() int { return (storage.PageSize - internalEntryStart) / internalEntrySize }
func leafMaxSize() int     { return (storage.PageSize - leafEntryStart) / leafEntrySize }

// nodeView is a thin accessor over a page's raw bytes; it performs no
// copying and no locking of its own — callers hold the appropriate page
// guard for the lifetime of a nodeView.
type nodeView struct {
	data *[storage.PageSize]byte
}

func viewOf(page *storage.Page) nodeView { return nodeView{data: page.Data()} }

func (v nodeView) pageType() byte { return v.data[offPageType] }
func (v nodeView) setPageType(t byte) { v.data[offPageType] = t }

func (v nodeView) size() int {
	return int(binary.LittleEndian.Uint32(v.data[offSize : offSize+4]))
}
func (v nodeView) setSize(n int) {
	binary.LittleEndian.PutUint32(v.data[offSize:offSize+4], uint32(n))
}

func (v nodeView) maxSize() int {
	return int(binary.LittleEndian.Uint32(v.data[offMaxSize : offMaxSize+4]))
}
func (v nodeView) setMaxSize(n int) {
	binary.LittleEndian.PutUint32(v.data[offMaxSize:offMaxSize+4], uint32(n))
}

func (v nodeView) isLeaf() bool { return v.pageType() == pageTypeLeaf }

func (v nodeView) initHeader() {
	for i := range v.data {
		v.data[i] = 0
	}
	v.setPageType(pageTypeHeader)
	v.setRootPageID(storage.InvalidPageID)
}

func (v nodeView) rootPageID() storage.PageID {
	return storage.PageID(int64(binary.LittleEndian.Uint64(v.data[offRootPageID : offRootPageID+8])))
}
func (v nodeView) setRootPageID(id storage.PageID) {
	binary.LittleEndian.PutUint64(v.data[offRootPageID:offRootPageID+8], uint64(int64(id)))
}

func (v nodeView) initInternal() {
	for i := range v.data {
		v.data[i] = 0
	}
	v.setPageType(pageTypeInternal)
	v.setSize(0)
	v.setMaxSize(internalMaxSize())
}

func (v nodeView) initLeaf() {
	for i := range v.data {
		v.data[i] = 0
	}
	v.setPageType(pageTypeLeaf)
	v.setSize(0)
	v.setMaxSize(leafMaxSize())
	v.setNextPageID(storage.InvalidPageID)
}

// --- internal node entries ---

func internalOffset(i int) int { return internalEntryStart + i*internalEntrySize }

func (v nodeView) keyAt(i int) Key {
	off := internalOffset(i)
	return int64(binary.LittleEndian.Uint64(v.data[off : off+8]))
}
func (v nodeView) setKeyAt(i int, k Key) {
	off := internalOffset(i)
	binary.LittleEndian.PutUint64(v.data[off:off+8], uint64(k))
}
func (v nodeView) childAt(i int) storage.PageID {
	off := internalOffset(i)
	return storage.PageID(int64(binary.LittleEndian.Uint64(v.data[off+8 : off+16])))
}
func (v nodeView) setChildAt(i int, id storage.PageID) {
	off := internalOffset(i)
	binary.LittleEndian.PutUint64(v.data[off+8:off+16], uint64(int64(id)))
}

// insertInternalAt shifts entries [i, size) right by one and writes (k, child)
// at i.
func (v nodeView) insertInternalAt(i int, k Key, child storage.PageID) {
	n := v.size()
	for j := n; j > i; j-- {
		v.setKeyAt(j, v.keyAt(j-1))
		v.setChildAt(j, v.childAt(j-1))
	}
	v.setKeyAt(i, k)
	v.setChildAt(i, child)
	v.setSize(n + 1)
}

// removeInternalAt shifts entries (i, size) left by one, dropping index i.
func (v nodeView) removeInternalAt(i int) {
	n := v.size()
	for j := i; j < n-1; j++ {
		v.setKeyAt(j, v.keyAt(j+1))
		v.setChildAt(j, v.childAt(j+1))
	}
	v.setSize(n - 1)
}

// findChildIndex returns the index of the entry whose child page id is
// childID, or -1 if not found. Used during delete rebalancing to locate a
// node's position within its parent.
func (v nodeView) findChildIndex(childID storage.PageID) int {
	n := v.size()
	for i := 0; i < n; i++ {
		if v.childAt(i) == childID {
			return i
		}
	}
	return -1
}

// lookupChild returns the index of the child to descend into for key k:
// the largest index i such that keyAt(i) <= k (index 0's key is unused and
// treated as -infinity).
func (v nodeView) lookupChild(k Key) int {
	n := v.size()
	idx := 0
	for i := 1; i < n; i++ {
		if v.keyAt(i) <= k {
			idx = i
		} else {
			break
		}
	}
	return idx
}

// --- leaf node entries ---

func leafOffset(i int) int { return leafEntryStart + i*leafEntrySize }

func (v nodeView) nextPageID() storage.PageID {
	return storage.PageID(int64(binary.LittleEndian.Uint64(v.data[offNextPageID : offNextPageID+8])))
}
func (v nodeView) setNextPageID(id storage.PageID) {
	binary.LittleEndian.PutUint64(v.data[offNextPageID:offNextPageID+8], uint64(int64(id)))
}

func (v nodeView) leafKeyAt(i int) Key {
	off := leafOffset(i)
	return int64(binary.LittleEndian.Uint64(v.data[off : off+8]))
}
func (v nodeView) setLeafKeyAt(i int, k Key) {
	off := leafOffset(i)
	binary.LittleEndian.PutUint64(v.data[off:off+8], uint64(k))
}
func (v nodeView) valueAt(i int) storage.RID {
	off := leafOffset(i)
	pid := storage.PageID(int64(binary.LittleEndian.Uint64(v.data[off+8 : off+16])))
	slot := binary.LittleEndian.Uint32(v.data[off+16 : off+20])
	return storage.RID{PageID: pid, SlotNum: slot}
}
func (v nodeView) setValueAt(i int, rid storage.RID) {
	off := leafOffset(i)
	binary.LittleEndian.PutUint64(v.data[off+8:off+16], uint64(int64(rid.PageID)))
	binary.LittleEndian.PutUint32(v.data[off+16:off+20], rid.SlotNum)
}

// findKey returns the index of key k in a leaf (-1 if absent) via binary
// search over the strictly ascending key array.
func (v nodeView) findKey(k Key) int {
	n := v.size()
	lo, hi := 0, n-1
	for lo <= hi {
		mid := (lo + hi) / 2
		mk := v.leafKeyAt(mid)
		switch {
		case mk == k:
			return mid
		case mk < k:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return -1
}

// insertLeafAt shifts entries [i, size) right by one and writes (k, rid) at i.
func (v nodeView) insertLeafAt(i int, k Key, rid storage.RID) {
	n := v.size()
	for j := n; j > i; j-- {
		v.setLeafKeyAt(j, v.leafKeyAt(j-1))
		v.setValueAt(j, v.valueAt(j-1))
	}
	v.setLeafKeyAt(i, k)
	v.setValueAt(i, rid)
	v.setSize(n + 1)
}

// removeLeafAt shifts entries (i, size) left by one, dropping index i.
func (v nodeView) removeLeafAt(i int) {
	n := v.size()
	for j := i; j < n-1; j++ {
		v.setLeafKeyAt(j, v.leafKeyAt(j+1))
		v.setValueAt(j, v.valueAt(j+1))
	}
	v.setSize(n - 1)
}

// insertionPoint returns the index where k belongs in a sorted leaf key
// array (for a key not already present).
func (v nodeView) insertionPoint(k Key) int {
	n := v.size()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if v.leafKeyAt(mid) < k {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
