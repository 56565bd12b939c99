package ledger

import "math/bits"

// Mul returns a*b, or ErrOverflow when the product does not fit.
func Mul(a, b Amount) (Amount, error) {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 {
		return 0, ErrOverflow
	}
	return Amount(lo), nil
}

// Percent returns amount*pct/100 truncated. pct must be at most 100.
func Percent(amount Amount, pct uint8) Amount {
	hi, lo := bits.Mul64(uint64(amount), uint64(pct))
	q, _ := bits.Div64(hi, lo, 100)
	return Amount(q)
}

// SplitServiceFee divides a rental fee into the owner's part and the
// service fee. The truncation remainder stays with the owner.
func SplitServiceFee(fee Amount, servicePct uint8) (owner, service Amount) {
	service = Percent(fee, servicePct)
	return fee - service, service
}

// SplitDecision divides fee between owner and renter, giving the owner
// ownerPct percent. The truncation remainder stays with the owner.
func SplitDecision(fee Amount, ownerPct uint8) (owner, renter Amount) {
	renter = Percent(fee, 100-ownerPct)
	return fee - renter, renter
}
