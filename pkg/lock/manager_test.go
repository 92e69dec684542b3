package lock

import (
	"testing"
	"time"

	"github.com/mnohosten/diskcore/pkg/txn"
)

func newTestManagers() (*txn.Manager, *Manager) {
	txnMgr := txn.NewManager()
	return txnMgr, NewManager(txnMgr)
}

func TestLockTableGrantedImmediatelyWhenCompatible(t *testing.T) {
	txnMgr, lm := newTestManagers()
	t1 := txnMgr.Begin(txn.RepeatableRead)
	t2 := txnMgr.Begin(txn.RepeatableRead)

	if err := lm.LockTable(t1, IntentionShared, 1); err != nil {
		t.Fatalf("t1 LockTable: %v", err)
	}
	if err := lm.LockTable(t2, IntentionShared, 1); err != nil {
		t.Fatalf("t2 LockTable: %v", err)
	}
}

func TestLockTableUpgradeSucceeds(t *testing.T) {
	txnMgr, lm := newTestManagers()
	t1 := txnMgr.Begin(txn.RepeatableRead)

	if err := lm.LockTable(t1, IntentionShared, 1); err != nil {
		t.Fatalf("initial lock: %v", err)
	}
	if err := lm.LockTable(t1, Exclusive, 1); err != nil {
		t.Fatalf("upgrade IS->X: %v", err)
	}
	mode, ok := t1.TableLockMode(1)
	if !ok || mode != txn.Exclusive {
		t.Fatalf("TableLockMode after upgrade = (%v, %v), want (Exclusive, true)", mode, ok)
	}
}

func TestLockTableIncompatibleUpgradeRejected(t *testing.T) {
	txnMgr, lm := newTestManagers()
	t1 := txnMgr.Begin(txn.RepeatableRead)

	if err := lm.LockTable(t1, Shared, 1); err != nil {
		t.Fatalf("initial lock: %v", err)
	}
	err := lm.LockTable(t1, IntentionShared, 1)
	abortErr, ok := err.(*AbortError)
	if !ok || abortErr.Reason != ReasonIncompatibleUpgrade {
		t.Fatalf("S->IS upgrade error = %v, want IncompatibleUpgrade", err)
	}
}

func TestLockOnShrinkingUnderRepeatableReadAborts(t *testing.T) {
	txnMgr, lm := newTestManagers()
	t1 := txnMgr.Begin(txn.RepeatableRead)

	if err := lm.LockTable(t1, Shared, 1); err != nil {
		t.Fatalf("initial lock: %v", err)
	}
	if err := lm.UnlockTable(t1, 1); err != nil {
		t.Fatalf("UnlockTable: %v", err)
	}
	if t1.State() != txn.Shrinking {
		t.Fatalf("state after releasing S under RepeatableRead = %v, want Shrinking", t1.State())
	}

	err := lm.LockTable(t1, IntentionShared, 2)
	abortErr, ok := err.(*AbortError)
	if !ok || abortErr.Reason != ReasonLockOnShrinking {
		t.Fatalf("lock while Shrinking under RepeatableRead = %v, want LockOnShrinking", err)
	}
	if t1.State() != txn.Aborted {
		t.Fatalf("state after rejected lock = %v, want Aborted", t1.State())
	}
}

func TestSharedLockUnderReadUncommittedAborts(t *testing.T) {
	txnMgr, lm := newTestManagers()
	t1 := txnMgr.Begin(txn.ReadUncommitted)

	err := lm.LockTable(t1, Shared, 1)
	abortErr, ok := err.(*AbortError)
	if !ok || abortErr.Reason != ReasonSharedOnReadUncommitted {
		t.Fatalf("S lock under ReadUncommitted = %v, want SharedOnReadUncommitted", err)
	}
}

func TestLockRowWithoutTableLockRejected(t *testing.T) {
	txnMgr, lm := newTestManagers()
	t1 := txnMgr.Begin(txn.RepeatableRead)

	err := lm.LockRow(t1, Shared, 1, txn.RowID{Table: 1, Row: 1})
	abortErr, ok := err.(*AbortError)
	if !ok || abortErr.Reason != ReasonTableLockNotPresent {
		t.Fatalf("row lock without table lock = %v, want TableLockNotPresent", err)
	}
}

func TestLockRowIntentionModeRejected(t *testing.T) {
	txnMgr, lm := newTestManagers()
	t1 := txnMgr.Begin(txn.RepeatableRead)
	if err := lm.LockTable(t1, IntentionExclusive, 1); err != nil {
		t.Fatalf("LockTable: %v", err)
	}
	err := lm.LockRow(t1, IntentionShared, 1, txn.RowID{Table: 1, Row: 1})
	abortErr, ok := err.(*AbortError)
	if !ok || abortErr.Reason != ReasonIntentionLockOnRow {
		t.Fatalf("row lock with intention mode = %v, want IntentionLockOnRow", err)
	}
}

func TestUnlockTableBeforeRowsRejected(t *testing.T) {
	txnMgr, lm := newTestManagers()
	t1 := txnMgr.Begin(txn.RepeatableRead)
	if err := lm.LockTable(t1, IntentionExclusive, 1); err != nil {
		t.Fatalf("LockTable: %v", err)
	}
	row := txn.RowID{Table: 1, Row: 7}
	if err := lm.LockRow(t1, Exclusive, 1, row); err != nil {
		t.Fatalf("LockRow: %v", err)
	}
	err := lm.UnlockTable(t1, 1)
	abortErr, ok := err.(*AbortError)
	if !ok || abortErr.Reason != ReasonTableUnlockedBeforeRows {
		t.Fatalf("UnlockTable with rows still held = %v, want TableUnlockedBeforeRows", err)
	}

	if err := lm.UnlockRow(t1, 1, row, false); err != nil {
		t.Fatalf("UnlockRow: %v", err)
	}
	if err := lm.UnlockTable(t1, 1); err != nil {
		t.Fatalf("UnlockTable after rows released: %v", err)
	}
}

func TestExclusiveRowWaitsBehindSharedThenGrantsOnRelease(t *testing.T) {
	txnMgr, lm := newTestManagers()
	row := txn.RowID{Table: 1, Row: 42}

	reader := txnMgr.Begin(txn.RepeatableRead)
	if err := lm.LockTable(reader, IntentionShared, 1); err != nil {
		t.Fatalf("reader LockTable: %v", err)
	}
	if err := lm.LockRow(reader, Shared, 1, row); err != nil {
		t.Fatalf("reader LockRow: %v", err)
	}

	writer := txnMgr.Begin(txn.RepeatableRead)
	if err := lm.LockTable(writer, IntentionExclusive, 1); err != nil {
		t.Fatalf("writer LockTable: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- lm.LockRow(writer, Exclusive, 1, row) }()

	select {
	case err := <-done:
		t.Fatalf("writer should have blocked behind reader's S lock, got %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	lm.UnlockAll(reader)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("writer LockRow after release: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("writer never acquired the row lock after reader released")
	}

	lm.UnlockAll(writer)
}

func TestDeadlockDetectorAbortsAVictim(t *testing.T) {
	txnMgr, lm := newTestManagers()
	lm.StartCycleDetection(10 * time.Millisecond)
	defer lm.StopCycleDetection()

	rowA := txn.RowID{Table: 1, Row: 1}
	rowB := txn.RowID{Table: 1, Row: 2}

	t1 := txnMgr.Begin(txn.RepeatableRead)
	t2 := txnMgr.Begin(txn.RepeatableRead)

	if err := lm.LockTable(t1, IntentionExclusive, 1); err != nil {
		t.Fatalf("t1 LockTable: %v", err)
	}
	if err := lm.LockTable(t2, IntentionExclusive, 1); err != nil {
		t.Fatalf("t2 LockTable: %v", err)
	}
	if err := lm.LockRow(t1, Exclusive, 1, rowA); err != nil {
		t.Fatalf("t1 lock rowA: %v", err)
	}
	if err := lm.LockRow(t2, Exclusive, 1, rowB); err != nil {
		t.Fatalf("t2 lock rowB: %v", err)
	}

	errs := make(chan error, 2)
	go func() { errs <- lm.LockRow(t1, Exclusive, 1, rowB) }()
	go func() { errs <- lm.LockRow(t2, Exclusive, 1, rowA) }()

	aborts := 0
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if err != nil {
				aborts++
			}
		case <-time.After(3 * time.Second):
			t.Fatal("deadlock was never broken by the detector")
		}
	}
	if aborts != 1 {
		t.Fatalf("%d waiters aborted, expected exactly one to be aborted as the deadlock victim", aborts)
	}
}
