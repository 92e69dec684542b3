package txn

import "testing"

func TestManagerBeginAssignsMonotonicIDs(t *testing.T) {
	m := NewManager()
	t1 := m.Begin(RepeatableRead)
	t2 := m.Begin(ReadCommitted)
	if t2.ID() <= t1.ID() {
		t.Fatalf("t2 id %d should be greater than t1 id %d", t2.ID(), t1.ID())
	}
	if t1.State() != Growing {
		t.Fatalf("new transaction state = %v, want Growing", t1.State())
	}
	if t2.IsolationLevel() != ReadCommitted {
		t.Fatalf("t2 isolation = %v, want ReadCommitted", t2.IsolationLevel())
	}
}

func TestManagerCommitRemovesFromActiveSet(t *testing.T) {
	m := NewManager()
	t1 := m.Begin(RepeatableRead)
	if _, ok := m.Lookup(t1.ID()); !ok {
		t.Fatal("active transaction should be found by Lookup")
	}
	m.Commit(t1)
	if t1.State() != Committed {
		t.Fatalf("state after Commit = %v, want Committed", t1.State())
	}
	if _, ok := m.Lookup(t1.ID()); ok {
		t.Fatal("committed transaction should no longer be active")
	}
}

func TestManagerAbort(t *testing.T) {
	m := NewManager()
	t1 := m.Begin(ReadUncommitted)
	m.Abort(t1)
	if t1.State() != Aborted {
		t.Fatalf("state after Abort = %v, want Aborted", t1.State())
	}
	if _, ok := m.Lookup(t1.ID()); ok {
		t.Fatal("aborted transaction should no longer be active")
	}
}

func TestTransactionHeldLockBookkeeping(t *testing.T) {
	tr := newTransaction(1, RepeatableRead)
	tr.RecordTableLock(TableOID(1), IntentionExclusive)
	tr.RecordRowLock(RowID{Table: 1, Row: 5}, Exclusive)

	if mode, ok := tr.TableLockMode(1); !ok || mode != IntentionExclusive {
		t.Fatalf("TableLockMode = (%v, %v), want (IntentionExclusive, true)", mode, ok)
	}
	if rows := tr.HeldRowsForTable(1); len(rows) != 1 || rows[0].Row != 5 {
		t.Fatalf("HeldRowsForTable = %v, want one row {1 5}", rows)
	}
	if len(tr.HeldRows()) != 1 {
		t.Fatalf("HeldRows = %v, want one entry", tr.HeldRows())
	}

	tr.ForgetRowLock(RowID{Table: 1, Row: 5})
	if rows := tr.HeldRowsForTable(1); len(rows) != 0 {
		t.Fatalf("HeldRowsForTable after forget = %v, want empty", rows)
	}

	tr.ForgetTableLock(1)
	if _, ok := tr.TableLockMode(1); ok {
		t.Fatal("TableLockMode should report not-held after ForgetTableLock")
	}
}
