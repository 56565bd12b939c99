// Package dispute adjudicates violated rentals into payouts and owner
// penalties.
package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"rentflow/ledger"
	"rentflow/rental"
	"rentflow/timeline"
)

type Resolver struct {
	rentals *rental.Service
	ledger  *ledger.Ledger
	journal *timeline.Journal
	log     logrus.FieldLogger
}

func NewResolver(rentals *rental.Service, led *ledger.Ledger, journal *timeline.Journal, log logrus.FieldLogger) *Resolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{
		rentals: rentals,
		ledger:  led,
		journal: journal,
		log:     log.WithField("component", "dispute"),
	}
}

// DisposeDispute resolves a VIOLATED position. The rental is ended whatever
// the judgment; payouts are then delivered directly. Undelivered payouts
// come back as joined *ledger.PaymentError values and do not undo the
// resolution.
func (r *Resolver) DisposeDispute(ctx context.Context, caller ledger.Address, params DisposeParams) (Outcome, error) {
	if !r.ledger.IsAuthority(caller) {
		return Outcome{}, ErrNotAuthority
	}
	if params.DecisionPaymentRatio > 100 || params.OwnerPenaltyRatio > 100 {
		return Outcome{}, fmt.Errorf("%w: decision=%d penalty=%d", ErrInvalidRatio, params.DecisionPaymentRatio, params.OwnerPenaltyRatio)
	}

	ctx, release, err := r.ledger.Guard().Enter(ctx)
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	var outcome Outcome
	_, closeErr := r.rentals.CloseDispute(ctx, params.PositionID, func(w rental.Wrap) (rental.Adjudication, error) {
		o, adj, err := adjudicate(w, params, r.ledger.ServiceFeeRatio())
		if err != nil {
			return adj, err
		}
		outcome = o
		adj.Park = o.Unallocated
		adj.Resolved = func(ctx context.Context) { r.recordResolution(ctx, caller, outcome) }
		return adj, nil
	})
	if closeErr != nil && !errors.Is(closeErr, rental.ErrAssetNotReturned) {
		return Outcome{}, closeErr
	}

	payErr := errors.Join(
		r.ledger.Pay(ctx, "dispute_owner_payout", outcome.Owner, outcome.OwnerPayout),
		r.ledger.Pay(ctx, "dispute_renter_payout", outcome.Renter, outcome.RenterPayout),
		r.ledger.Pay(ctx, "dispute_service_fee", r.ledger.Authority(), outcome.ServiceFee),
	)
	if closeErr != nil {
		return outcome, errors.Join(closeErr, payErr)
	}
	return outcome, payErr
}

func (r *Resolver) recordResolution(ctx context.Context, caller ledger.Address, outcome Outcome) {
	r.journal.Emit(ctx, timeline.Event{
		PositionID: uint64(outcome.PositionID),
		Type:       timeline.EventDisputeResolved,
		Actor:      string(caller),
		Payload: map[string]any{
			"owner":         outcome.Owner,
			"renter":        outcome.Renter,
			"raised_by":     outcome.RaisedBy,
			"judgment":      outcome.Judgment,
			"rental_fee":    outcome.RentalFee,
			"owner_payout":  outcome.OwnerPayout,
			"renter_payout": outcome.RenterPayout,
			"service_fee":   outcome.ServiceFee,
			"unallocated":   outcome.Unallocated,
			"penalty":       outcome.Penalty,
			"destroyed":     outcome.Destroyed,
		},
	})
	r.log.WithField("position_id", outcome.PositionID).
		WithField("judgment", outcome.Judgment).
		WithField("raised_by", outcome.RaisedBy).
		WithField("penalty", outcome.Penalty).
		Info("dispute resolved")
}

// adjudicate maps a judgment onto the accounting of the position. It does
// not mutate anything.
func adjudicate(w rental.Wrap, params DisposeParams, serviceFeePct uint8) (Outcome, rental.Adjudication, error) {
	fee := w.RentalFee()
	o := Outcome{
		PositionID: w.ID,
		Owner:      w.Owner,
		Renter:     w.Renter,
		RaisedBy:   w.DisputeBy,
		Judgment:   params.Judgment,
		RentalFee:  fee,
	}
	var adj rental.Adjudication

	raisedByRenter := w.DisputeBy == w.Renter
	switch {
	case raisedByRenter && (params.Judgment == JudgmentOwnerViolation || params.Judgment == JudgmentOwnerSeriousViolation):
		o.Penalty = ledger.Percent(fee, params.OwnerPenaltyRatio)
		o.Destroyed = params.Judgment == JudgmentOwnerSeriousViolation
		adj.Penalty = o.Penalty
		adj.Destroy = o.Destroyed
		split(&o, params.DecisionPaymentRatio, serviceFeePct)
	case params.Judgment == JudgmentNoViolation:
		split(&o, params.DecisionPaymentRatio, serviceFeePct)
	case !raisedByRenter && params.Judgment == JudgmentRenterViolation:
		// No payout rule exists for this branch yet; the fee is parked.
		o.Unallocated = fee
	default:
		return Outcome{}, rental.Adjudication{}, fmt.Errorf("%w: %s raised by %s", ErrInvalidJudgment, params.Judgment, w.DisputeBy)
	}
	return o, adj, nil
}

func split(o *Outcome, ownerPct, serviceFeePct uint8) {
	ownerShare, renterShare := ledger.SplitDecision(o.RentalFee, ownerPct)
	o.OwnerPayout, o.ServiceFee = ledger.SplitServiceFee(ownerShare, serviceFeePct)
	o.RenterPayout = renterShare
}

// PayPenalty repays the caller's whole outstanding penalty and forwards it
// to the authority. The penalty is cleared even if forwarding fails.
func (r *Resolver) PayPenalty(ctx context.Context, caller ledger.Address, payment ledger.Amount) error {
	ctx, release, err := r.ledger.Guard().Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := r.ledger.RepayPenalty(caller, payment); err != nil {
		return err
	}

	r.journal.Emit(ctx, timeline.Event{
		Type:  timeline.EventOwnerPenaltyPaid,
		Actor: string(caller),
		Payload: map[string]any{
			"owner":  caller,
			"amount": payment,
		},
	})
	r.log.WithField("owner", caller).WithField("amount", payment).Info("owner penalty paid")

	return r.ledger.Pay(ctx, "forward_penalty", r.ledger.Authority(), payment)
}
