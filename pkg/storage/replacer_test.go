package storage

import "testing"

func TestLRUKReplacerScenario(t *testing.T) {
	// k=2, pool of 7 frames.
	r := NewLRUKReplacer(7, 2)

	access := func(id FrameID) {
		if err := r.RecordAccess(id); err != nil {
			t.Fatalf("RecordAccess(%d): %v", id, err)
		}
	}
	evictable := func(id FrameID, v bool) {
		if err := r.SetEvictable(id, v); err != nil {
			t.Fatalf("SetEvictable(%d, %v): %v", id, v, err)
		}
	}

	for _, id := range []FrameID{1, 2, 3, 4, 5, 6} {
		access(id)
		evictable(id, true)
	}
	access(1)

	evictable(1, false)
	access(1)
	access(2)
	access(3)
	access(4)
	evictable(3, false)
	evictable(4, false)
	access(5)
	access(6)
	evictable(5, true)
	evictable(6, true)

	if got := r.Size(); got != 3 {
		t.Fatalf("Size() = %d, want 3", got)
	}

	// frames 2, 5, 6 are the evictable set and each has k=2 accesses; frame
	// 2's k-th most recent access (timestamp 1) is the oldest of the three,
	// so it is evicted first.
	id, ok := r.Evict()
	if !ok || id != 2 {
		t.Fatalf("Evict() = (%d, %v), want (2, true)", id, ok)
	}

	evictable(4, true)
	id, ok = r.Evict()
	if !ok || id != 4 {
		t.Fatalf("Evict() = (%d, %v), want (4, true)", id, ok)
	}

	if got := r.Size(); got != 2 {
		t.Fatalf("Size() after two evictions = %d, want 2", got)
	}
}

func TestLRUKReplacerRemove(t *testing.T) {
	r := NewLRUKReplacer(3, 2)
	for _, id := range []FrameID{0, 1, 2} {
		_ = r.RecordAccess(id)
		_ = r.SetEvictable(id, true)
	}
	if err := r.Remove(1); err != nil {
		t.Fatalf("Remove(1): %v", err)
	}
	if got := r.Size(); got != 2 {
		t.Fatalf("Size() after Remove = %d, want 2", got)
	}
	id, ok := r.Evict()
	if !ok || id == 1 {
		t.Fatalf("Evict() returned removed frame: (%d, %v)", id, ok)
	}
}

func TestLRUKReplacerNonEvictableSkipped(t *testing.T) {
	r := NewLRUKReplacer(2, 2)
	_ = r.RecordAccess(0)
	_ = r.RecordAccess(1)
	_ = r.SetEvictable(0, false)
	_ = r.SetEvictable(1, false)

	if _, ok := r.Evict(); ok {
		t.Fatal("Evict() should fail with no evictable frames")
	}
}

func TestLRUKReplacerOutOfBounds(t *testing.T) {
	r := NewLRUKReplacer(2, 2)
	if err := r.RecordAccess(5); err != ErrOutOfBounds {
		t.Fatalf("RecordAccess(5) = %v, want ErrOutOfBounds", err)
	}
}
