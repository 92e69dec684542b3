package lock

import "testing"

func TestCompatibilityMatrix(t *testing.T) {
	cases := []struct {
		granted, requested Mode
		want                bool
	}{
		{IntentionShared, IntentionShared, true},
		{IntentionShared, Exclusive, false},
		{IntentionExclusive, IntentionExclusive, true},
		{IntentionExclusive, Shared, false},
		{Shared, Shared, true},
		{Shared, IntentionExclusive, false},
		{SharedIntentionExclusive, IntentionShared, true},
		{SharedIntentionExclusive, Shared, false},
		{Exclusive, IntentionShared, false},
	}
	for _, c := range cases {
		if got := compatible(c.granted, c.requested); got != c.want {
			t.Errorf("compatible(%v, %v) = %v, want %v", c.granted, c.requested, got, c.want)
		}
	}
}

func TestUpgradeMatrix(t *testing.T) {
	cases := []struct {
		from, to Mode
		want     bool
	}{
		{IntentionShared, Shared, true},
		{IntentionShared, Exclusive, true},
		{Shared, Exclusive, true},
		{Shared, IntentionShared, false},
		{IntentionExclusive, SharedIntentionExclusive, true},
		{SharedIntentionExclusive, Exclusive, true},
		{SharedIntentionExclusive, Shared, false},
		{Exclusive, Exclusive, false},
	}
	for _, c := range cases {
		if got := upgradeAllowed(c.from, c.to); got != c.want {
			t.Errorf("upgradeAllowed(%v, %v) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestModeStringAndConversions(t *testing.T) {
	for _, m := range []Mode{IntentionShared, IntentionExclusive, Shared, SharedIntentionExclusive, Exclusive} {
		if m.String() == "?" {
			t.Errorf("Mode(%d).String() returned unknown marker", m)
		}
		if got := fromTxnMode(toTxnMode(m)); got != m {
			t.Errorf("fromTxnMode(toTxnMode(%v)) = %v, want %v", m, got, m)
		}
	}
}

func TestHasSharedComponent(t *testing.T) {
	for m, want := range map[Mode]bool{
		IntentionShared:          true,
		Shared:                   true,
		SharedIntentionExclusive: true,
		IntentionExclusive:       false,
		Exclusive:                false,
	} {
		if got := hasSharedComponent(m); got != want {
			t.Errorf("hasSharedComponent(%v) = %v, want %v", m, got, want)
		}
	}
}
