package dealfsm

import (
	"testing"

	"github.com/tonads/escrow-coordinator/internal/models"
)

// TestValidTransitionTable cross-checks the FSM package compiles against
// the models transition table it delegates to; the concurrency and
// CAS-conflict behavior of Transition itself needs a live pool and has no
// test in this module.
func TestValidTransitionTable(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{models.DealStatusPending, models.DealStatusAccepted, true},
		{models.DealStatusPending, models.DealStatusFunded, false},
		{models.DealStatusFunded, models.DealStatusPosted, true},
		{models.DealStatusCompleted, models.DealStatusRefunded, false},
		{models.DealStatusPosted, models.DealStatusVerified, true},
	}
	for _, c := range cases {
		got := models.IsValidTransition(c.from, c.to)
		if got != c.want {
			t.Errorf("IsValidTransition(%q, %q) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
