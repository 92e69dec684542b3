// Package lock implements a multi-granularity lock manager: five lock
// modes over table and row resources, two-phase locking gated by
// transaction state and isolation level, and a background deadlock
// detector over a wait-for graph. The teacher repo has no lock manager of
// its own (mnohosten-laura-db is single-writer MVCC); this package
// borrows only the teacher's background-goroutine shutdown idiom from
// pkg/database/worker_pool.go (see detector.go) and its generic Stack from
// pkg/concurrent for the cycle search.
package lock

import "github.com/mnohosten/diskcore/pkg/txn"

// Mode is one of the five lock modes in the multi-granularity lattice.
type Mode int

const (
	IntentionShared Mode = iota
	IntentionExclusive
	Shared
	SharedIntentionExclusive
	Exclusive
)

func (m Mode) String() string {
	switch m {
	case IntentionShared:
		return "IS"
	case IntentionExclusive:
		return "IX"
	case Shared:
		return "S"
	case SharedIntentionExclusive:
		return "SIX"
	case Exclusive:
		return "X"
	default:
		return "?"
	}
}

// compatMatrix[granted][requested] reports whether a request in the
// "requested" mode may be granted alongside an already-granted request in
// the "granted" mode, per the standard multi-granularity compatibility table.
var compatMatrix = [5][5]bool{
	IntentionShared:          {true, true, true, true, false},
	IntentionExclusive:       {true, true, false, false, false},
	Shared:                   {true, false, true, false, false},
	SharedIntentionExclusive: {true, false, false, false, false},
	Exclusive:                {false, false, false, false, false},
}

func compatible(granted, requested Mode) bool {
	return compatMatrix[granted][requested]
}

// upgradeMatrix[from][to] reports whether "from" may be upgraded directly
// to "to".
var upgradeMatrix = map[Mode]map[Mode]bool{
	IntentionShared:          {Shared: true, Exclusive: true, IntentionExclusive: true, SharedIntentionExclusive: true},
	Shared:                   {Exclusive: true, SharedIntentionExclusive: true},
	IntentionExclusive:       {Exclusive: true, SharedIntentionExclusive: true},
	SharedIntentionExclusive: {Exclusive: true},
}

func upgradeAllowed(from, to Mode) bool {
	return upgradeMatrix[from][to]
}

// hasSharedComponent reports whether mode carries any shared-read
// semantics (IS, S, SIX), used by the ReadUncommitted isolation gate.
func hasSharedComponent(m Mode) bool {
	return m == IntentionShared || m == Shared || m == SharedIntentionExclusive
}

func toTxnMode(m Mode) txn.LockMode {
	switch m {
	case IntentionShared:
		return txn.IntentionShared
	case IntentionExclusive:
		return txn.IntentionExclusive
	case Shared:
		return txn.Shared
	case SharedIntentionExclusive:
		return txn.SharedIntentionExclusive
	default:
		return txn.Exclusive
	}
}

func fromTxnMode(m txn.LockMode) Mode {
	switch m {
	case txn.IntentionShared:
		return IntentionShared
	case txn.IntentionExclusive:
		return IntentionExclusive
	case txn.Shared:
		return Shared
	case txn.SharedIntentionExclusive:
		return SharedIntentionExclusive
	default:
		return Exclusive
	}
}
