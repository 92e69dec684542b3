package storage

import (
	"errors"
	"sync"
)

// ErrOutOfBounds is returned when a frame id falls outside [0, size).
var ErrOutOfBounds = errors.New("lru-k replacer: frame id out of bounds")

// ErrFrameNotFound is returned when an operation targets a frame the
// replacer has no history for.
var ErrFrameNotFound = errors.New("lru-k replacer: frame not found")

// lruKNode tracks one frame's bounded access history and evictable flag.
type lruKNode struct {
	history   []int64 // oldest first, capped at k entries
	evictable bool
}

// kDistance returns the node's K-th-most-recent timestamp (the oldest entry
// still retained) and whether the node has accumulated k accesses yet.
func (n *lruKNode) kDistance(k int) (ts int64, belowK bool) {
	if len(n.history) < k {
		return n.history[0], true
	}
	return n.history[0], false
}

// LRUKReplacer implements the LRU-K eviction policy: frames with fewer than
// k recorded accesses (below-K) are always preferred for eviction over
// frames with k or more (at-or-above-K), since a below-K frame's K-distance
// is effectively infinite.
type LRUKReplacer struct {
	mu sync.Mutex

	k         int
	capacity  int
	size      int // number of frames currently evictable
	timestamp int64

	nodes map[FrameID]*lruKNode
}

// NewLRUKReplacer creates a replacer sized for frame ids in [0, numFrames).
func NewLRUKReplacer(numFrames, k int) *LRUKReplacer {
	return &LRUKReplacer{
		k:        k,
		capacity: numFrames,
		nodes:    make(map[FrameID]*lruKNode, numFrames),
	}
}

// inBounds reports whether id is a valid frame id for this replacer.
func (r *LRUKReplacer) inBounds(id FrameID) bool {
	return id >= 0 && int(id) < r.capacity
}

// RecordAccess appends the current logical timestamp to frame_id's history,
// evicting the oldest entry once the history exceeds k entries.
func (r *LRUKReplacer) RecordAccess(id FrameID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inBounds(id) {
		return ErrOutOfBounds
	}

	n, ok := r.nodes[id]
	if !ok {
		n = &lruKNode{}
		r.nodes[id] = n
	}
	n.history = append(n.history, r.timestamp)
	if len(n.history) > r.k {
		n.history = n.history[1:]
	}
	r.timestamp++
	return nil
}

// SetEvictable toggles frame_id's evictable flag, adjusting size only on an
// actual transition.
func (r *LRUKReplacer) SetEvictable(id FrameID, evictable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inBounds(id) {
		return ErrOutOfBounds
	}
	n, ok := r.nodes[id]
	if !ok {
		return ErrFrameNotFound
	}
	if n.evictable == evictable {
		return nil
	}
	n.evictable = evictable
	if evictable {
		r.size++
	} else {
		r.size--
	}
	return nil
}

// Evict selects and removes a victim frame per the below-K/at-or-above-K
// priority rule, returning ok=false if no frame is evictable.
func (r *LRUKReplacer) Evict() (id FrameID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return 0, false
	}

	var (
		bestBelow     FrameID
		bestBelowTS   int64
		haveBelow     bool
		bestAbove     FrameID
		bestAboveTS   int64
		haveAbove     bool
	)

	for fid, n := range r.nodes {
		if !n.evictable {
			continue
		}
		ts, belowK := n.kDistance(r.k)
		if belowK {
			if !haveBelow || ts < bestBelowTS || (ts == bestBelowTS && fid < bestBelow) {
				bestBelow, bestBelowTS, haveBelow = fid, ts, true
			}
		} else {
			if !haveAbove || ts < bestAboveTS || (ts == bestAboveTS && fid < bestAbove) {
				bestAbove, bestAboveTS, haveAbove = fid, ts, true
			}
		}
	}

	var victim FrameID
	if haveBelow {
		victim = bestBelow
	} else {
		victim = bestAbove
	}

	n := r.nodes[victim]
	n.evictable = false
	r.size--
	delete(r.nodes, victim)
	return victim, true
}

// Remove forcibly discards a frame's history. The frame must be evictable
// (or have no history at all, a no-op); used when the buffer pool reclaims
// a frame for the free list.
func (r *LRUKReplacer) Remove(id FrameID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inBounds(id) {
		return ErrOutOfBounds
	}
	n, ok := r.nodes[id]
	if !ok {
		return nil
	}
	if !n.evictable {
		return errors.New("lru-k replacer: remove called on non-evictable frame")
	}
	r.size--
	delete(r.nodes, id)
	return nil
}

// Size returns the number of frames currently marked evictable.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
