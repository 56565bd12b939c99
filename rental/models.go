package rental

import (
	"context"
	"time"

	"rentflow/custody"
	"rentflow/ledger"
)

// Day is the unit rental periods are expressed in.
const Day = 24 * time.Hour

// PositionID identifies an escrowed position. IDs start at 1 and are never reused.
type PositionID uint64

// Status is derived from a Wrap and the current time; it is never stored.
type Status string

const (
	StatusFree           Status = "FREE"
	StatusRequestPending Status = "REQUEST_PENDING"
	StatusRented         Status = "RENTED"
	StatusViolated       Status = "VIOLATED"
)

// Wrap is the rental record of one escrowed asset.
type Wrap struct {
	ID                   PositionID
	Asset                custody.AssetRef
	Owner                ledger.Address
	Renter               ledger.Address
	MinRentalPeriod      uint32
	MaxRentalPeriod      uint32
	DailyRate            ledger.Amount
	SecurityDepositRatio uint8
	RentalPeriod         uint32
	RentStarted          time.Time
	DisputeBy            ledger.Address
	RegisteredAt         time.Time
}

// RentalFee is the upfront of the current rental. RequestRent rejects
// periods whose fee overflows, so the product always fits.
func (w Wrap) RentalFee() ledger.Amount {
	return ledger.Amount(w.RentalPeriod) * w.DailyRate
}

// SecurityDeposit is the part of the upfront at risk in a dispute.
func (w Wrap) SecurityDeposit() ledger.Amount {
	return ledger.Percent(w.RentalFee(), w.SecurityDepositRatio)
}

// RentEndsAt is the first instant at which an active rental has lapsed.
func (w Wrap) RentEndsAt() time.Time {
	return w.RentStarted.Add(time.Duration(w.RentalPeriod) * Day)
}

// RegisterParams are the owner-chosen terms of a new position.
type RegisterParams struct {
	Asset                custody.AssetRef
	MinRentalPeriod      uint32
	MaxRentalPeriod      uint32
	DailyRate            ledger.Amount
	SecurityDepositRatio uint8
}

// Filters narrow List. Zero values match everything.
type Filters struct {
	Owner    ledger.Address
	Renter   ledger.Address
	Status   Status
	Page     int
	PageSize int
}

// Adjudication is an adjudicator's decision about a violated position.
type Adjudication struct {
	// Penalty is added to the owner's outstanding penalty.
	Penalty ledger.Amount
	// Destroy removes the position and hands the asset to the renter.
	Destroy bool
	// Park is released upfront that no party is paid.
	Park ledger.Amount
	// Resolved runs once the close is committed, before the position
	// accepts its next transition.
	Resolved func(ctx context.Context)
}

// Adjudicator inspects a violated position. Returning an error aborts the
// close without any state change.
type Adjudicator func(w Wrap) (Adjudication, error)
