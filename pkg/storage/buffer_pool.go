package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mnohosten/diskcore/pkg/concurrent"
)

// ErrNoFrameAvailable is returned when every frame is pinned and nothing is
// evictable.
var ErrNoFrameAvailable = errors.New("buffer pool: no frame available")

// ErrPageNotResident is returned by operations that require a page to
// already be resident in the buffer pool.
var ErrPageNotResident = errors.New("buffer pool: page not resident")

// BufferPoolConfig configures a BufferPoolManager, following the teacher's
// DefaultXConfig() constructor pattern.
type BufferPoolConfig struct {
	PoolSize int
	K        int // LRU-K's K
}

// DefaultBufferPoolConfig returns a modest pool sized for K=2 LRU-K.
func DefaultBufferPoolConfig() BufferPoolConfig {
	return BufferPoolConfig{PoolSize: 64, K: 2}
}

// BufferPoolManager is a fixed-size page cache: a frame array, an injective
// page table, a free list of frames that hold no page,
// an LRU-K replacer for reclaiming used frames, and a monotonic page-id
// allocator. One coarse mutex serializes all bookkeeping, matching the
// teacher's BufferPool (RWMutex there; a plain Mutex here since every
// buffer-pool operation mutates pin counts or the page table).
type BufferPoolManager struct {
	mu sync.Mutex

	disk     *DiskManager
	replacer *LRUKReplacer

	frames    []*Page
	pageTable map[PageID]FrameID
	freeList  []FrameID

	nextPageID PageID

	counters *concurrent.CounterSet
}

// NewBufferPoolManager wires a buffer pool of the given size over disk.
func NewBufferPoolManager(disk *DiskManager, cfg BufferPoolConfig) *BufferPoolManager {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.K <= 0 {
		cfg.K = 2
	}
	frames := make([]*Page, cfg.PoolSize)
	freeList := make([]FrameID, cfg.PoolSize)
	for i := range frames {
		frames[i] = newPage(InvalidPageID)
		freeList[i] = FrameID(i)
	}
	return &BufferPoolManager{
		disk:      disk,
		replacer:  NewLRUKReplacer(cfg.PoolSize, cfg.K),
		frames:    frames,
		pageTable: make(map[PageID]FrameID, cfg.PoolSize),
		freeList:  freeList,
		counters:  concurrent.NewCounterSet("hits", "misses", "evictions"),
	}
}

// acquireFrame returns a frame ready to host a new page, taking from the
// free list first and falling back to evicting a replacer victim. The
// returned frame's prior occupant, if dirty, has already been flushed.
// Caller must hold bp.mu.
func (bp *BufferPoolManager) acquireFrame() (FrameID, error) {
	if n := len(bp.freeList); n > 0 {
		fid := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		return fid, nil
	}

	fid, ok := bp.replacer.Evict()
	if !ok {
		return 0, ErrNoFrameAvailable
	}
	bp.counters.Get("evictions").Inc()

	victim := bp.frames[fid]
	if victim.IsDirty() {
		if err := bp.disk.WritePage(victim.ID(), victim.Data()); err != nil {
			return 0, fmt.Errorf("buffer pool: flush victim page %d: %w", victim.ID(), err)
		}
	}
	delete(bp.pageTable, victim.ID())
	return fid, nil
}

// NewPage allocates a fresh page id and pins a frame for it, per spec §4.3.
func (bp *BufferPoolManager) NewPage() (PageID, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	fid, err := bp.acquireFrame()
	if err != nil {
		return InvalidPageID, err
	}

	id := bp.nextPageID
	bp.nextPageID++

	page := bp.frames[fid]
	page.reset(id)
	page.pinCount = 1
	bp.pageTable[id] = fid

	if err := bp.replacer.RecordAccess(fid); err != nil {
		return InvalidPageID, err
	}
	if err := bp.replacer.SetEvictable(fid, false); err != nil {
		return InvalidPageID, err
	}
	return id, nil
}

// FetchPage pins and returns the page for id, reading it from disk if it is
// not already resident.
func (bp *BufferPoolManager) FetchPage(id PageID) (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if fid, ok := bp.pageTable[id]; ok {
		page := bp.frames[fid]
		page.pinCount++
		bp.counters.Get("hits").Inc()
		if err := bp.replacer.RecordAccess(fid); err != nil {
			return nil, err
		}
		if err := bp.replacer.SetEvictable(fid, false); err != nil {
			return nil, err
		}
		return page, nil
	}

	bp.counters.Get("misses").Inc()
	fid, err := bp.acquireFrame()
	if err != nil {
		return nil, err
	}

	page := bp.frames[fid]
	page.reset(id)
	if err := bp.disk.ReadPage(id, &page.data); err != nil {
		bp.freeList = append(bp.freeList, fid)
		return nil, fmt.Errorf("buffer pool: fetch page %d: %w", id, err)
	}
	page.pinCount = 1
	bp.pageTable[id] = fid

	if err := bp.replacer.RecordAccess(fid); err != nil {
		return nil, err
	}
	if err := bp.replacer.SetEvictable(fid, false); err != nil {
		return nil, err
	}
	return page, nil
}

// UnpinPage decrements id's pin count, marking its frame evictable once the
// count reaches zero. The dirty flag is OR-combined, never cleared here.
func (bp *BufferPoolManager) UnpinPage(id PageID, dirty bool) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	fid, ok := bp.pageTable[id]
	if !ok {
		return false
	}
	page := bp.frames[fid]
	if page.pinCount <= 0 {
		return false
	}
	page.pinCount--
	if dirty {
		page.isDirty = true
	}
	if page.pinCount == 0 {
		_ = bp.replacer.SetEvictable(fid, true)
	}
	return true
}

// FlushPage synchronously writes id to disk and clears its dirty flag.
func (bp *BufferPoolManager) FlushPage(id PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	fid, ok := bp.pageTable[id]
	if !ok {
		return ErrPageNotResident
	}
	page := bp.frames[fid]
	if err := bp.disk.WritePage(id, page.Data()); err != nil {
		return fmt.Errorf("buffer pool: flush page %d: %w", id, err)
	}
	page.isDirty = false
	return nil
}

// FlushAll flushes every resident dirty page.
func (bp *BufferPoolManager) FlushAll() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for id, fid := range bp.pageTable {
		page := bp.frames[fid]
		if !page.isDirty {
			continue
		}
		if err := bp.disk.WritePage(id, page.Data()); err != nil {
			return fmt.Errorf("buffer pool: flush page %d: %w", id, err)
		}
		page.isDirty = false
	}
	return nil
}

// DeletePage removes id from the pool, returning its frame to the free
// list. Fails if the page is still pinned.
func (bp *BufferPoolManager) DeletePage(id PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	fid, ok := bp.pageTable[id]
	if !ok {
		return nil
	}
	page := bp.frames[fid]
	if page.pinCount > 0 {
		return fmt.Errorf("buffer pool: delete page %d: still pinned (count=%d)", id, page.pinCount)
	}
	if page.isDirty {
		if err := bp.disk.WritePage(id, page.Data()); err != nil {
			return fmt.Errorf("buffer pool: flush on delete page %d: %w", id, err)
		}
	}
	_ = bp.replacer.Remove(fid)
	delete(bp.pageTable, id)
	page.reset(InvalidPageID)
	bp.freeList = append(bp.freeList, fid)
	return nil
}

// Stats returns hit/miss/eviction counters.
func (bp *BufferPoolManager) Stats() map[string]int64 {
	return bp.counters.Snapshot()
}
