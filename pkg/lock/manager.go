package lock

import (
	"sync"

	"github.com/mnohosten/diskcore/pkg/concurrent"
	"github.com/mnohosten/diskcore/pkg/txn"
)

// Manager is the lock manager: per-resource queues keyed
// by table oid or row id, a transaction manager for looking up victims by
// id, and an optional background deadlock detector (see detector.go).
type Manager struct {
	mu sync.Mutex // protects the two maps only; queue contention uses per-queue mutexes

	tableQueues map[txn.TableOID]*queue
	rowQueues   map[txn.RowID]*queue

	txnMgr *txn.Manager

	detectMu sync.Mutex
	cancel   func()
	wg       sync.WaitGroup

	counters *concurrent.CounterSet
}

// NewManager wires a lock manager against a transaction manager, used to
// look up victim transactions by id during deadlock detection.
func NewManager(txnMgr *txn.Manager) *Manager {
	return &Manager{
		tableQueues: make(map[txn.TableOID]*queue),
		rowQueues:   make(map[txn.RowID]*queue),
		txnMgr:      txnMgr,
		counters:    concurrent.NewCounterSet("grants", "aborts", "waiters"),
	}
}

func (lm *Manager) tableQueue(oid txn.TableOID) *queue {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	q, ok := lm.tableQueues[oid]
	if !ok {
		q = newQueue()
		lm.tableQueues[oid] = q
	}
	return q
}

func (lm *Manager) rowQueue(rid txn.RowID) *queue {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	q, ok := lm.rowQueues[rid]
	if !ok {
		q = newQueue()
		lm.rowQueues[rid] = q
	}
	return q
}

// isolationGate implements the two-phase-locking rejection table: which
// lock modes a transaction may acquire given its current state and
// isolation level.
func isolationGate(state txn.State, iso txn.IsolationLevel, mode Mode, isRow bool) *AbortError {
	if iso == txn.ReadUncommitted && hasSharedComponent(mode) {
		return abortErr(ReasonSharedOnReadUncommitted)
	}
	switch state {
	case txn.Growing:
		return nil
	case txn.Shrinking:
		switch iso {
		case txn.RepeatableRead, txn.ReadUncommitted:
			return abortErr(ReasonLockOnShrinking)
		case txn.ReadCommitted:
			if isRow {
				if mode != Shared {
					return abortErr(ReasonLockOnShrinking)
				}
			} else if mode != Shared && mode != IntentionShared {
				return abortErr(ReasonLockOnShrinking)
			}
		}
	}
	return nil
}

func (lm *Manager) abortTxn(t *txn.Transaction, reason AbortError) error {
	t.SetAbortReason(string(reason.Reason))
	t.SetState(txn.Aborted)
	return &reason
}

// LockTable acquires mode on oid for t.
func (lm *Manager) LockTable(t *txn.Transaction, mode Mode, oid txn.TableOID) error {
	if err := isolationGate(t.State(), t.IsolationLevel(), mode, false); err != nil {
		return lm.abortTxn(t, *err)
	}

	q := lm.tableQueue(oid)
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, held := t.TableLockMode(oid); held {
		if fromTxnMode(existing) == mode {
			return nil
		}
		if q.hasUpgrading {
			return lm.abortTxn(t, *abortErr(ReasonUpgradeConflict))
		}
		if !upgradeAllowed(fromTxnMode(existing), mode) {
			return lm.abortTxn(t, *abortErr(ReasonIncompatibleUpgrade))
		}
		q.removeLocked(t.ID())
		q.requests = append(q.requests, &request{txnID: t.ID(), mode: mode})
		q.hasUpgrading = true
		q.upgradingTxn = t.ID()
	} else {
		q.requests = append(q.requests, &request{txnID: t.ID(), mode: mode})
	}

	if err := lm.waitForGrant(q, t); err != nil {
		return err
	}
	t.RecordTableLock(oid, toTxnMode(mode))
	lm.counters.Get("grants").Inc()
	return nil
}

// LockRow acquires mode on (oid, rid) for t, including the
// row-granularity table-lock prerequisite check.
func (lm *Manager) LockRow(t *txn.Transaction, mode Mode, oid txn.TableOID, row txn.RowID) error {
	if err := isolationGate(t.State(), t.IsolationLevel(), mode, true); err != nil {
		return lm.abortTxn(t, *err)
	}
	if mode == IntentionShared || mode == IntentionExclusive || mode == SharedIntentionExclusive {
		return lm.abortTxn(t, *abortErr(ReasonIntentionLockOnRow))
	}
	tableMode, held := t.TableLockMode(oid)
	if !held {
		return lm.abortTxn(t, *abortErr(ReasonTableLockNotPresent))
	}
	if mode == Exclusive {
		tm := fromTxnMode(tableMode)
		if tm != IntentionExclusive && tm != SharedIntentionExclusive && tm != Exclusive {
			return lm.abortTxn(t, *abortErr(ReasonTableLockNotPresent))
		}
	}

	q := lm.rowQueue(row)
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, held := t.RowLockMode(row); held {
		if fromTxnMode(existing) == mode {
			return nil
		}
		if q.hasUpgrading {
			return lm.abortTxn(t, *abortErr(ReasonUpgradeConflict))
		}
		if !upgradeAllowed(fromTxnMode(existing), mode) {
			return lm.abortTxn(t, *abortErr(ReasonIncompatibleUpgrade))
		}
		q.removeLocked(t.ID())
		q.requests = append(q.requests, &request{txnID: t.ID(), mode: mode})
		q.hasUpgrading = true
		q.upgradingTxn = t.ID()
	} else {
		q.requests = append(q.requests, &request{txnID: t.ID(), mode: mode})
	}

	if err := lm.waitForGrant(q, t); err != nil {
		return err
	}
	t.RecordRowLock(row, toTxnMode(mode))
	lm.counters.Get("grants").Inc()
	return nil
}

// waitForGrant blocks on q's condition variable until t's request is
// granted or t becomes a deadlock victim. Caller holds q.mu.
func (lm *Manager) waitForGrant(q *queue, t *txn.Transaction) error {
	q.tryGrantLocked()
	lm.counters.Get("waiters").Inc()
	defer lm.counters.Get("waiters").Add(-1)

	for {
		r := q.findLocked(t.ID())
		if r == nil {
			return abortErr(ReasonDeadlockVictim)
		}
		if r.granted {
			return nil
		}
		if t.State() == txn.Aborted {
			q.removeLocked(t.ID())
			if q.hasUpgrading && q.upgradingTxn == t.ID() {
				q.hasUpgrading = false
			}
			q.tryGrantLocked()
			q.cond.Broadcast()
			return abortErr(ReasonDeadlockVictim)
		}
		q.cond.Wait()
	}
}

// UnlockTable releases t's table lock on oid.
func (lm *Manager) UnlockTable(t *txn.Transaction, oid txn.TableOID) error {
	mode, held := t.TableLockMode(oid)
	if !held {
		return abortErr(ReasonNoLockHeld)
	}
	if len(t.HeldRowsForTable(oid)) > 0 {
		return abortErr(ReasonTableUnlockedBeforeRows)
	}

	q := lm.tableQueue(oid)
	q.mu.Lock()
	q.removeLocked(t.ID())
	q.tryGrantLocked()
	q.cond.Broadcast()
	q.mu.Unlock()

	t.ForgetTableLock(oid)
	lm.applyShrinkTransition(t, fromTxnMode(mode))
	return nil
}

// UnlockRow releases t's row lock. force bypasses the held-lock check: with
// force set, a row t does not hold returns nil instead of NoLockHeld.
func (lm *Manager) UnlockRow(t *txn.Transaction, oid txn.TableOID, row txn.RowID, force bool) error {
	mode, held := t.RowLockMode(row)
	if !held {
		if force {
			return nil
		}
		return abortErr(ReasonNoLockHeld)
	}

	q := lm.rowQueue(row)
	q.mu.Lock()
	q.removeLocked(t.ID())
	q.tryGrantLocked()
	q.cond.Broadcast()
	q.mu.Unlock()

	t.ForgetRowLock(row)
	lm.applyShrinkTransition(t, fromTxnMode(mode))
	return nil
}

// applyShrinkTransition implements the two-phase-locking state update: the
// specific release that flips a txn to Shrinking depends on isolation
// level.
func (lm *Manager) applyShrinkTransition(t *txn.Transaction, released Mode) {
	if t.State() != txn.Growing {
		return
	}
	switch t.IsolationLevel() {
	case txn.RepeatableRead:
		if released == Shared || released == Exclusive {
			t.SetState(txn.Shrinking)
		}
	case txn.ReadCommitted:
		if released == Exclusive {
			t.SetState(txn.Shrinking)
		}
	case txn.ReadUncommitted:
		if released == Exclusive {
			t.SetState(txn.Shrinking)
		}
	}
}

// UnlockAll releases every lock t holds, used at commit/abort. Unlike
// UnlockTable/UnlockRow it makes no two-phase-locking state transition on t.
func (lm *Manager) UnlockAll(t *txn.Transaction) {
	for _, row := range t.HeldRows() {
		q := lm.rowQueue(row)
		q.mu.Lock()
		q.removeLocked(t.ID())
		q.tryGrantLocked()
		q.cond.Broadcast()
		q.mu.Unlock()
		t.ForgetRowLock(row)
	}
	for oid := range t.HeldTables() {
		q := lm.tableQueue(oid)
		q.mu.Lock()
		q.removeLocked(t.ID())
		q.tryGrantLocked()
		q.cond.Broadcast()
		q.mu.Unlock()
		t.ForgetTableLock(oid)
	}
}

// Stats returns grant/abort/waiter counters.
func (lm *Manager) Stats() map[string]int64 {
	return lm.counters.Snapshot()
}
