package index

import (
	"path/filepath"
	"testing"

	"github.com/mnohosten/diskcore/pkg/storage"
)

func newTestTree(t *testing.T, poolSize int) *BPlusTree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	disk, err := storage.NewDiskManager(path)
	if err != nil {
		t.Fatalf("NewDiskManager: %v", err)
	}
	t.Cleanup(func() { disk.Close() })
	bpm := storage.NewBufferPoolManager(disk, storage.BufferPoolConfig{PoolSize: poolSize, K: 2})
	tree, err := NewBPlusTree(bpm)
	if err != nil {
		t.Fatalf("NewBPlusTree: %v", err)
	}
	return tree
}

func TestBPlusTreeInsertSearchSingle(t *testing.T) {
	tree := newTestTree(t, 32)
	if err := tree.Insert(10, storage.RID{PageID: 1, SlotNum: 2}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	rid, err := tree.Search(10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if rid.PageID != 1 || rid.SlotNum != 2 {
		t.Fatalf("Search(10) = %+v, want {1 2}", rid)
	}
	if _, err := tree.Search(99); err != ErrKeyNotFound {
		t.Fatalf("Search(99) = %v, want ErrKeyNotFound", err)
	}
}

func TestBPlusTreeDuplicateKeyRejected(t *testing.T) {
	tree := newTestTree(t, 32)
	if err := tree.Insert(1, storage.RID{PageID: 1}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tree.Insert(1, storage.RID{PageID: 2}); err != ErrDuplicateKey {
		t.Fatalf("duplicate Insert = %v, want ErrDuplicateKey", err)
	}
}

func TestBPlusTreeManyInsertsForceSplitsAndStayOrdered(t *testing.T) {
	tree := newTestTree(t, 64)
	const n = 400
	for i := int64(0); i < n; i++ {
		rid := storage.RID{PageID: storage.PageID(i / 100), SlotNum: uint32(i % 100)}
		if err := tree.Insert(i, rid); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	height, err := tree.Height()
	if err != nil {
		t.Fatalf("Height: %v", err)
	}
	if height < 2 {
		t.Fatalf("height = %d, want at least 2 after %d inserts (leaf splits should have grown an internal root)", height, n)
	}

	for i := int64(0); i < n; i++ {
		rid, err := tree.Search(i)
		if err != nil {
			t.Fatalf("Search(%d): %v", i, err)
		}
		want := storage.RID{PageID: storage.PageID(i / 100), SlotNum: uint32(i % 100)}
		if rid != want {
			t.Fatalf("Search(%d) = %+v, want %+v", i, rid, want)
		}
	}
}

func TestBPlusTreeDeleteThenNotFound(t *testing.T) {
	tree := newTestTree(t, 32)
	for i := int64(0); i < 20; i++ {
		if err := tree.Insert(i, storage.RID{PageID: storage.PageID(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if err := tree.Delete(10); err != nil {
		t.Fatalf("Delete(10): %v", err)
	}
	if _, err := tree.Search(10); err != ErrKeyNotFound {
		t.Fatalf("Search after delete = %v, want ErrKeyNotFound", err)
	}
	if err := tree.Delete(10); err != ErrKeyNotFound {
		t.Fatalf("second Delete(10) = %v, want ErrKeyNotFound", err)
	}
	// surrounding keys survive
	for _, k := range []int64{9, 11} {
		if _, err := tree.Search(k); err != nil {
			t.Fatalf("Search(%d) after unrelated delete: %v", k, err)
		}
	}
}

func TestBPlusTreeDeleteDrivesMergesAndRootCollapse(t *testing.T) {
	tree := newTestTree(t, 64)
	const n = 400
	for i := int64(0); i < n; i++ {
		if err := tree.Insert(i, storage.RID{PageID: storage.PageID(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	// delete all but the first ten keys, driving repeated leaf/internal
	// merges and eventually a root collapse back toward a single leaf.
	for i := int64(10); i < n; i++ {
		if err := tree.Delete(i); err != nil {
			t.Fatalf("Delete(%d): %v", i, err)
		}
	}
	for i := int64(0); i < 10; i++ {
		if _, err := tree.Search(i); err != nil {
			t.Fatalf("Search(%d) survived delete pass: %v", i, err)
		}
	}
	for i := int64(10); i < n; i++ {
		if _, err := tree.Search(i); err != ErrKeyNotFound {
			t.Fatalf("Search(%d) after delete = %v, want ErrKeyNotFound", i, err)
		}
	}

	height, err := tree.Height()
	if err != nil {
		t.Fatalf("Height: %v", err)
	}
	if height != 1 {
		t.Fatalf("height after collapsing deletes = %d, want 1 (single leaf root)", height)
	}
}

func TestBPlusTreeDeleteToEmpty(t *testing.T) {
	tree := newTestTree(t, 16)
	for i := int64(0); i < 5; i++ {
		if err := tree.Insert(i, storage.RID{PageID: storage.PageID(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := int64(0); i < 5; i++ {
		if err := tree.Delete(i); err != nil {
			t.Fatalf("Delete(%d): %v", i, err)
		}
	}
	if _, err := tree.Search(0); err != ErrKeyNotFound {
		t.Fatalf("Search on empty tree = %v, want ErrKeyNotFound", err)
	}
	height, err := tree.Height()
	if err != nil {
		t.Fatalf("Height: %v", err)
	}
	if height != 0 {
		t.Fatalf("height of empty tree = %d, want 0", height)
	}
}

func TestBPlusTreeStatsReflectsKeyCountAcrossLeaves(t *testing.T) {
	tree := newTestTree(t, 32)

	empty, err := tree.Stats()
	if err != nil {
		t.Fatalf("Stats on empty tree: %v", err)
	}
	if empty.KeyCount != 0 || empty.LeafPages != 0 || empty.Height != 0 {
		t.Fatalf("Stats on empty tree = %+v, want zero value", empty)
	}

	const n = 400
	for i := int64(0); i < n; i++ {
		if err := tree.Insert(i, storage.RID{PageID: storage.PageID(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	stats, err := tree.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.KeyCount != n {
		t.Fatalf("Stats.KeyCount = %d, want %d", stats.KeyCount, n)
	}
	if stats.LeafPages < 2 {
		t.Fatalf("Stats.LeafPages = %d, want at least 2 given %d inserts", stats.LeafPages, n)
	}
	if stats.Height < 2 {
		t.Fatalf("Stats.Height = %d, want at least 2", stats.Height)
	}
}
