package rental

import "errors"

var (
	ErrInvalidPosition     = errors.New("rental: invalid position")
	ErrMissingCaller       = errors.New("rental: missing caller")
	ErrRegistryCaller      = errors.New("rental: registry address cannot be a party")
	ErrNotAssetOwner       = errors.New("rental: caller does not hold asset")
	ErrSelfReferential     = errors.New("rental: custody receipts cannot be escrowed")
	ErrInvalidPeriodBounds = errors.New("rental: invalid rental period bounds")
	ErrInvalidRate         = errors.New("rental: invalid daily rate")
	ErrInvalidRatio        = errors.New("rental: invalid security deposit ratio")
	ErrOwnerHasPenalty     = errors.New("rental: owner has unpaid penalty")
	ErrNotOwner            = errors.New("rental: caller is not the owner")
	ErrNotRenter           = errors.New("rental: caller is not the renter")
	ErrNotParty            = errors.New("rental: caller is neither owner nor renter")
	ErrOwnerIsRenter       = errors.New("rental: owner cannot rent own position")
	ErrNotFree             = errors.New("rental: position is not free")
	ErrNotPending          = errors.New("rental: no pending rent request")
	ErrNotRented           = errors.New("rental: position is not rented")
	ErrNotViolated         = errors.New("rental: position is not violated")
	ErrNotLapsed           = errors.New("rental: no lapsed rental to settle")
	ErrPeriodOutOfBounds   = errors.New("rental: rental period out of bounds")
	ErrWrongUpfrontAmount  = errors.New("rental: wrong upfront amount")
	ErrReceiptLocked       = errors.New("rental: receipt transfer not permitted in current status")
	ErrAssetNotReturned    = errors.New("rental: asset could not be returned")
)
