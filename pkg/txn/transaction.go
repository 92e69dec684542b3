// Package txn models the transaction abstraction the storage engine builds
// on: a transaction id, its two-phase-locking state, isolation level, and
// the lock sets it currently holds. Shaped after the teacher's
// pkg/mvcc/transaction.go lifecycle (monotonic id counter, active-txn map
// under a mutex, Begin/Commit/Abort), but re-purposed for pessimistic
// locking: the teacher's MVCC machinery (VersionedValue, ReadSet/WriteSet
// conflict detection, VersionStore) has no equivalent here because this
// system's isolation is enforced entirely by the lock manager, not by
// multi-versioning (see DESIGN.md).
package txn

import "sync"

// ID is a transaction identifier. Ids are monotonic; a smaller id is an
// older transaction, used by the lock manager's deadlock detector to pick
// the youngest victim on a wait-for cycle.
type ID uint64

// State is a transaction's position in the two-phase-locking protocol.
type State int

const (
	Growing State = iota
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Growing:
		return "Growing"
	case Shrinking:
		return "Shrinking"
	case Committed:
		return "Committed"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// IsolationLevel is one of the three levels the lock manager gates lock
// acquisition on.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

// LockMode mirrors pkg/lock.Mode without importing it, avoiding a cycle
// (pkg/lock depends on pkg/txn, not the reverse). pkg/lock converts between
// the two with a one-to-one mapping.
type LockMode int

const (
	IntentionShared LockMode = iota
	IntentionExclusive
	Shared
	SharedIntentionExclusive
	Exclusive
)

// TableOID names a table-granularity resource.
type TableOID uint64

// RowID names a row-granularity resource within a table.
type RowID struct {
	Table TableOID
	Row   uint64
}

// Transaction is the unit the lock manager and B+-tree callers coordinate
// around: its state and isolation level gate which locks it may acquire,
// and its held-lock sets record what to release on commit/abort.
type Transaction struct {
	mu sync.Mutex

	id             ID
	state          State
	isolation      IsolationLevel
	abortReason    string

	tableLocks map[TableOID]LockMode
	rowLocks   map[RowID]LockMode
}

func newTransaction(id ID, isolation IsolationLevel) *Transaction {
	return &Transaction{
		id:         id,
		state:      Growing,
		isolation:  isolation,
		tableLocks: make(map[TableOID]LockMode),
		rowLocks:   make(map[RowID]LockMode),
	}
}

// ID returns the transaction's identifier.
func (t *Transaction) ID() ID { return t.id }

// IsolationLevel returns the transaction's configured isolation level.
func (t *Transaction) IsolationLevel() IsolationLevel { return t.isolation }

// State returns the transaction's current 2PL state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState transitions the transaction's state. The lock manager calls this
// under its own bookkeeping on acquire/release; the deadlock detector calls
// it to mark a victim Aborted without the victim's own cooperation.
func (t *Transaction) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// AbortReason returns the reason a DeadlockVictim (or any other) abort was
// set, if the caller recorded one via SetAbortReason.
func (t *Transaction) AbortReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.abortReason
}

// SetAbortReason records why the transaction aborted. Callers set this
// before the state transition to Aborted, so a concurrent reader never
// observes Aborted with no reason recorded yet.
func (t *Transaction) SetAbortReason(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.abortReason = reason
}

// TableLockMode reports the mode currently held on a table resource, ok is
// false if none is held.
func (t *Transaction) TableLockMode(oid TableOID) (LockMode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.tableLocks[oid]
	return m, ok
}

// RowLockMode reports the mode currently held on a row resource.
func (t *Transaction) RowLockMode(rid RowID) (LockMode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.rowLocks[rid]
	return m, ok
}

// RecordTableLock adds oid/mode to the transaction's held-lock set.
func (t *Transaction) RecordTableLock(oid TableOID, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tableLocks[oid] = mode
}

// RecordRowLock adds rid/mode to the transaction's held-lock set.
func (t *Transaction) RecordRowLock(rid RowID, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rowLocks[rid] = mode
}

// ForgetTableLock removes oid from the held-lock set.
func (t *Transaction) ForgetTableLock(oid TableOID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tableLocks, oid)
}

// ForgetRowLock removes rid from the held-lock set.
func (t *Transaction) ForgetRowLock(rid RowID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rowLocks, rid)
}

// HeldTables returns a snapshot of currently held table locks.
func (t *Transaction) HeldTables() map[TableOID]LockMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[TableOID]LockMode, len(t.tableLocks))
	for k, v := range t.tableLocks {
		out[k] = v
	}
	return out
}

// HeldRows returns a snapshot of every row lock currently held, across all
// tables, used by UnlockAll on commit/abort.
func (t *Transaction) HeldRows() []RowID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RowID, 0, len(t.rowLocks))
	for rid := range t.rowLocks {
		out = append(out, rid)
	}
	return out
}

// HeldRowsForTable returns a snapshot of currently held row locks,
// restricted to rows within the given table (used when checking "all rows
// unlocked before the table" on table unlock).
func (t *Transaction) HeldRowsForTable(oid TableOID) []RowID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []RowID
	for rid := range t.rowLocks {
		if rid.Table == oid {
			out = append(out, rid)
		}
	}
	return out
}
