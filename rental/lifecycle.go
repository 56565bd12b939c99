package rental

import (
	"context"
	"fmt"
	"time"

	"rentflow/ledger"
	"rentflow/timeline"
)

// RequestRent reserves a FREE position for period days. payment is the
// upfront the caller sends and must equal period*DailyRate exactly.
func (s *Service) RequestRent(ctx context.Context, caller ledger.Address, id PositionID, period uint32, payment ledger.Amount) (Wrap, error) {
	if caller == "" {
		return Wrap{}, ErrMissingCaller
	}
	if caller == s.registry {
		return Wrap{}, ErrRegistryCaller
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.lookupLocked(id)
	if err != nil {
		return Wrap{}, err
	}
	now := s.now()
	if DeriveStatus(*w, now) != StatusFree {
		return Wrap{}, ErrNotFree
	}
	if caller == w.Owner {
		return Wrap{}, ErrOwnerIsRenter
	}
	if period <= w.MinRentalPeriod || period >= w.MaxRentalPeriod {
		return Wrap{}, fmt.Errorf("%w: %d not in (%d,%d)", ErrPeriodOutOfBounds, period, w.MinRentalPeriod, w.MaxRentalPeriod)
	}
	fee, err := ledger.Mul(ledger.Amount(period), w.DailyRate)
	if err != nil {
		return Wrap{}, fmt.Errorf("%w: %v", ErrWrongUpfrontAmount, err)
	}
	if payment != fee {
		return Wrap{}, fmt.Errorf("%w: expected %d, got %d", ErrWrongUpfrontAmount, fee, payment)
	}
	if s.ledger.HasPenalty(w.Owner) {
		return Wrap{}, ErrOwnerHasPenalty
	}

	if lapsed(*w, now) {
		if err := s.settleLapsedLocked(ctx, w); err != nil {
			return Wrap{}, err
		}
	}
	if err := s.ledger.HoldUpfront(fee); err != nil {
		return Wrap{}, fmt.Errorf("rental: hold upfront: %w", err)
	}

	w.Renter = caller
	w.RentalPeriod = period
	w.DisputeBy = ""

	s.emit(ctx, timeline.EventRentRequested, id, caller, map[string]any{
		"owner":         w.Owner,
		"renter":        caller,
		"rental_period": period,
		"upfront":       fee,
	})
	s.log.WithField("position_id", positionField(id)).
		WithField("renter", caller).
		WithField("rental_period", period).
		Info("rent requested")

	return *w, nil
}

// ApproveRentRequest answers a pending request. Approval lends the receipt
// to the renter and starts the clock. Denial clears the request and
// refunds the upfront; a failed refund is returned as a *ledger.PaymentError
// after the denial has been committed.
func (s *Service) ApproveRentRequest(ctx context.Context, caller ledger.Address, id PositionID, approve bool) (Wrap, error) {
	if approve {
		return s.approve(ctx, caller, id)
	}

	ctx, release, err := s.ledger.Guard().Enter(ctx)
	if err != nil {
		return Wrap{}, err
	}
	defer release()

	denied, renter, refund, err := s.deny(ctx, caller, id)
	if err != nil {
		return Wrap{}, err
	}
	return denied, s.ledger.Pay(ctx, "refund_denied_request", renter, refund)
}

func (s *Service) approve(ctx context.Context, caller ledger.Address, id PositionID) (Wrap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.lookupLocked(id)
	if err != nil {
		return Wrap{}, err
	}
	if w.Owner != caller {
		return Wrap{}, ErrNotOwner
	}
	if DeriveStatus(*w, s.now()) != StatusRequestPending {
		return Wrap{}, ErrNotPending
	}
	// A penalty raised while the request was pending blocks approval only.
	if s.ledger.HasPenalty(w.Owner) {
		return Wrap{}, ErrOwnerHasPenalty
	}

	if err := s.moveReceiptLocked(w, w.Renter, s.registry, w.Renter); err != nil {
		return Wrap{}, fmt.Errorf("rental: lend receipt: %w", err)
	}
	w.RentStarted = s.now().UTC()

	s.emit(ctx, timeline.EventRentStarted, id, caller, map[string]any{
		"owner":         w.Owner,
		"renter":        w.Renter,
		"rental_period": w.RentalPeriod,
		"rental_fee":    w.RentalFee(),
		"started_at":    w.RentStarted,
		"ends_at":       w.RentEndsAt(),
	})
	s.log.WithField("position_id", positionField(id)).
		WithField("renter", w.Renter).
		Info("rent started")

	return *w, nil
}

func (s *Service) deny(ctx context.Context, caller ledger.Address, id PositionID) (Wrap, ledger.Address, ledger.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.lookupLocked(id)
	if err != nil {
		return Wrap{}, "", 0, err
	}
	if w.Owner != caller {
		return Wrap{}, "", 0, ErrNotOwner
	}
	if DeriveStatus(*w, s.now()) != StatusRequestPending {
		return Wrap{}, "", 0, ErrNotPending
	}

	renter := w.Renter
	refund := w.RentalFee()
	if err := s.ledger.ReleaseUpfront(refund); err != nil {
		return Wrap{}, "", 0, fmt.Errorf("rental: release upfront: %w", err)
	}
	w.Renter = ""
	w.RentalPeriod = 0

	s.emit(ctx, timeline.EventRentDenied, id, caller, map[string]any{
		"owner":  w.Owner,
		"renter": renter,
		"refund": refund,
	})
	s.log.WithField("position_id", positionField(id)).
		WithField("renter", renter).
		Info("rent request denied")

	return *w, renter, refund, nil
}

// CompleteRent ends an active rental early at the renter's initiative and
// credits the rental fee to the owner and the service-fee balance.
func (s *Service) CompleteRent(ctx context.Context, caller ledger.Address, id PositionID) (Wrap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.lookupLocked(id)
	if err != nil {
		return Wrap{}, err
	}
	if DeriveStatus(*w, s.now()) != StatusRented {
		return Wrap{}, ErrNotRented
	}
	if w.Renter != caller {
		return Wrap{}, ErrNotRenter
	}

	if err := s.finishRentalLocked(ctx, w, false); err != nil {
		return Wrap{}, err
	}
	return *w, nil
}

// Settle closes the books of a rental whose window has elapsed. Anyone may
// call it; the owner and fee collector are credited exactly as on
// completion. RequestRent and Unregister settle implicitly.
func (s *Service) Settle(ctx context.Context, id PositionID) (Wrap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.lookupLocked(id)
	if err != nil {
		return Wrap{}, err
	}
	if !lapsed(*w, s.now()) {
		return Wrap{}, ErrNotLapsed
	}
	if err := s.settleLapsedLocked(ctx, w); err != nil {
		return Wrap{}, err
	}
	return *w, nil
}

func (s *Service) settleLapsedLocked(ctx context.Context, w *Wrap) error {
	return s.finishRentalLocked(ctx, w, true)
}

// finishRentalLocked credits the upfront, clears the renter and takes the
// receipt back.
func (s *Service) finishRentalLocked(ctx context.Context, w *Wrap, lapsedRental bool) error {
	fee := w.RentalFee()
	ownerCredit, serviceFee, err := s.ledger.SettleRental(w.Owner, fee)
	if err != nil {
		return fmt.Errorf("rental: settle upfront: %w", err)
	}

	renter, err := s.endRentalLocked(w)
	if err != nil {
		return err
	}

	s.emit(ctx, timeline.EventRentEnded, w.ID, renter, map[string]any{
		"owner":        w.Owner,
		"renter":       renter,
		"rental_fee":   fee,
		"owner_credit": ownerCredit,
		"service_fee":  serviceFee,
		"lapsed":       lapsedRental,
	})
	s.log.WithField("position_id", positionField(w.ID)).
		WithField("renter", renter).
		WithField("lapsed", lapsedRental).
		Info("rent ended")
	return nil
}

// endRentalLocked clears the rental fields and moves the receipt back to
// the registry unless the renter already returned it.
func (s *Service) endRentalLocked(w *Wrap) (ledger.Address, error) {
	renter := w.Renter
	w.Renter = ""
	w.RentStarted = time.Time{}
	w.RentalPeriod = 0
	w.DisputeBy = ""

	holder, err := s.receipts.HolderOf(uint64(w.ID))
	if err != nil {
		return renter, fmt.Errorf("rental: locate receipt: %w", err)
	}
	if holder == s.registry {
		return renter, nil
	}
	if err := s.moveReceiptLocked(w, renter, holder, s.registry); err != nil {
		return renter, fmt.Errorf("rental: reclaim receipt: %w", err)
	}
	return renter, nil
}

// RaiseViolation flags an active rental as disputed. Only the owner or the
// renter may raise it.
func (s *Service) RaiseViolation(ctx context.Context, caller ledger.Address, id PositionID) (Wrap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.lookupLocked(id)
	if err != nil {
		return Wrap{}, err
	}
	if DeriveStatus(*w, s.now()) != StatusRented {
		return Wrap{}, ErrNotRented
	}
	if caller == "" || (caller != w.Owner && caller != w.Renter) {
		return Wrap{}, ErrNotParty
	}

	w.DisputeBy = caller

	s.emit(ctx, timeline.EventViolationRaised, id, caller, map[string]any{
		"owner":      w.Owner,
		"renter":     w.Renter,
		"dispute_by": caller,
	})
	s.log.WithField("position_id", positionField(id)).
		WithField("dispute_by", caller).
		Warn("violation raised")

	return *w, nil
}
