package dispute

import (
	"errors"

	"rentflow/ledger"
	"rentflow/rental"
)

var (
	ErrNotAuthority    = ledger.ErrNotAuthority
	ErrNotViolated     = rental.ErrNotViolated
	ErrInvalidRatio    = errors.New("dispute: ratio must be within [0,100]")
	ErrInvalidJudgment = errors.New("dispute: judgment not valid for the raising party")
)

// Judgment is the arbiter's finding on a violated rental.
type Judgment string

const (
	JudgmentNoViolation           Judgment = "no_violation"
	JudgmentOwnerViolation        Judgment = "owner_violation"
	JudgmentOwnerSeriousViolation Judgment = "owner_serious_violation"
	JudgmentRenterViolation       Judgment = "renter_violation"
)

// DisposeParams carries the arbiter's decision. DecisionPaymentRatio is the
// owner's percentage of the rental fee; OwnerPenaltyRatio is the penalty
// percentage assessed on an owner found in violation.
type DisposeParams struct {
	PositionID           rental.PositionID
	Judgment             Judgment
	DecisionPaymentRatio uint8
	OwnerPenaltyRatio    uint8
}

// Outcome is the accounting of one resolved dispute. OwnerPayout +
// RenterPayout + ServiceFee + Unallocated always equals RentalFee.
type Outcome struct {
	PositionID   rental.PositionID
	Owner        ledger.Address
	Renter       ledger.Address
	RaisedBy     ledger.Address
	Judgment     Judgment
	RentalFee    ledger.Amount
	OwnerPayout  ledger.Amount
	RenterPayout ledger.Amount
	ServiceFee   ledger.Amount
	Unallocated  ledger.Amount
	Penalty      ledger.Amount
	Destroyed    bool
}
