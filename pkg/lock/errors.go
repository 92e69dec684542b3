package lock

// AbortReason names why the lock manager forced a transaction to abort.
type AbortReason string

const (
	ReasonLockOnShrinking         AbortReason = "LockOnShrinking"
	ReasonUpgradeConflict         AbortReason = "UpgradeConflict"
	ReasonIncompatibleUpgrade     AbortReason = "IncompatibleUpgrade"
	ReasonSharedOnReadUncommitted AbortReason = "SharedOnReadUncommitted"
	ReasonIntentionLockOnRow      AbortReason = "IntentionLockOnRow"
	ReasonTableLockNotPresent     AbortReason = "TableLockNotPresent"
	ReasonTableUnlockedBeforeRows AbortReason = "TableUnlockedBeforeRows"
	ReasonNoLockHeld              AbortReason = "NoLockHeld"
	ReasonDeadlockVictim          AbortReason = "DeadlockVictim"
)

// AbortError is returned by every lock manager operation that forces a
// transaction abort.
type AbortError struct {
	Reason AbortReason
}

func (e *AbortError) Error() string { return "lock manager: transaction abort: " + string(e.Reason) }

func abortErr(reason AbortReason) *AbortError { return &AbortError{Reason: reason} }
