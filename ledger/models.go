package ledger

import (
	"errors"
	"fmt"
)

// Address identifies a party: an owner, a renter, the registry or the
// arbitrating authority. The empty Address means "nobody".
type Address string

// Amount is a quantity of the payment currency in base units.
type Amount uint64

var (
	// ErrPaymentFailed marks an outbound transfer that was not delivered.
	ErrPaymentFailed = errors.New("ledger: payment failed")
	// ErrNotAuthority signals the caller is not the arbitrating authority.
	ErrNotAuthority = errors.New("ledger: caller is not the authority")
	// ErrInvalidRatio signals a percentage outside its accepted range.
	ErrInvalidRatio = errors.New("ledger: invalid ratio")
	// ErrWrongPenaltyAmount signals a repayment that does not match the owed penalty.
	ErrWrongPenaltyAmount = errors.New("ledger: wrong penalty amount")
	// ErrEscrowUnderflow signals an attempt to release more upfront than is held.
	ErrEscrowUnderflow = errors.New("ledger: escrow underflow")
	// ErrOverflow signals an amount that does not fit in an Amount.
	ErrOverflow = errors.New("ledger: amount overflow")
)

// PaymentError reports an undelivered payment. The state transition that
// scheduled the payment has already been committed.
type PaymentError struct {
	Operation string
	Recipient Address
	Amount    Amount
	Err       error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("ledger: %s: pay %d to %s: %v", e.Operation, e.Amount, e.Recipient, e.Err)
}

func (e *PaymentError) Unwrap() []error {
	return []error{ErrPaymentFailed, e.Err}
}

// PaymentErrors collects every *PaymentError in err's tree, including the
// members of errors.Join results.
func PaymentErrors(err error) []*PaymentError {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*PaymentError); ok {
		return []*PaymentError{pe}
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		var out []*PaymentError
		for _, inner := range u.Unwrap() {
			out = append(out, PaymentErrors(inner)...)
		}
		return out
	case interface{ Unwrap() error }:
		return PaymentErrors(u.Unwrap())
	}
	return nil
}
