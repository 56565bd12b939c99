package rental

import (
	"time"

	"rentflow/ledger"
)

// DeriveStatus computes the status of w at now. The order of the checks
// matters: a dispute outranks expiry, and a rental at or past its end is
// FREE with no intermediate expired state.
func DeriveStatus(w Wrap, now time.Time) Status {
	switch {
	case w.Renter == "":
		return StatusFree
	case w.RentStarted.IsZero():
		return StatusRequestPending
	case w.DisputeBy != "":
		return StatusViolated
	case !now.Before(w.RentEndsAt()):
		return StatusFree
	default:
		return StatusRented
	}
}

// lapsed reports whether w is FREE only because its rental window elapsed,
// so its upfront and receipt still await settlement.
func lapsed(w Wrap, now time.Time) bool {
	return w.Renter != "" && DeriveStatus(w, now) == StatusFree
}

// receiptEdgeAllowed lists the receipt moves each status permits:
// REQUEST_PENDING registry to renter, FREE back to the registry, nothing else.
func receiptEdgeAllowed(status Status, registry, renter, from, to ledger.Address) bool {
	switch status {
	case StatusRequestPending:
		return from == registry && to == renter
	case StatusFree:
		return from != registry && to == registry
	default:
		return false
	}
}
