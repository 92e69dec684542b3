package lock

import (
	"sync"

	"github.com/mnohosten/diskcore/pkg/txn"
)

// request is one entry in a resource's queue: (txn id, mode, granted).
type request struct {
	txnID   txn.ID
	mode    Mode
	granted bool
}

// queue is the per-resource lock state: an ordered request list, an
// upgrade slot, and a condition variable, all guarded by
// the queue's own mutex (distinct from the lock manager's map mutex, which
// is released as soon as the queue is found or created).
type queue struct {
	mu           sync.Mutex
	cond         *sync.Cond
	requests     []*request
	hasUpgrading bool
	upgradingTxn txn.ID
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// findLocked returns txn id's request, or nil. Caller holds q.mu.
func (q *queue) findLocked(id txn.ID) *request {
	for _, r := range q.requests {
		if r.txnID == id {
			return r
		}
	}
	return nil
}

// removeLocked drops txn id's request, reporting whether one was present.
func (q *queue) removeLocked(id txn.ID) bool {
	for i, r := range q.requests {
		if r.txnID == id {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return true
		}
	}
	return false
}

// compatibleWithGrantedLocked reports whether candidate's mode is
// compatible with every other txn's currently granted request.
func (q *queue) compatibleWithGrantedLocked(candidate *request) bool {
	for _, g := range q.requests {
		if !g.granted || g.txnID == candidate.txnID {
			continue
		}
		if !compatible(g.mode, candidate.mode) {
			return false
		}
	}
	return true
}

// tryGrantLocked applies the grant rule: if an upgrade is
// pending, only the upgrader may be granted; otherwise pending requests are
// serviced in FIFO order, stopping at the first one that cannot yet be
// granted so a later, merely-compatible request never jumps the queue.
func (q *queue) tryGrantLocked() {
	if q.hasUpgrading {
		r := q.findLocked(q.upgradingTxn)
		if r != nil && !r.granted && q.compatibleWithGrantedLocked(r) {
			r.granted = true
			q.hasUpgrading = false
		}
		return
	}
	for _, r := range q.requests {
		if r.granted {
			continue
		}
		if !q.compatibleWithGrantedLocked(r) {
			return
		}
		r.granted = true
	}
}

// grantedCountLocked returns the number of currently granted requests in
// the queue, mainly for diagnostics/tests.
func (q *queue) grantedCountLocked() int {
	n := 0
	for _, r := range q.requests {
		if r.granted {
			n++
		}
	}
	return n
}
