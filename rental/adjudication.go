package rental

import (
	"context"
	"fmt"
)

// CloseDispute ends the rental of a VIOLATED position according to decide.
// decide sees the position as it was when the dispute was raised; any
// error it returns aborts the close untouched. On success the upfront has
// left escrow and the caller owns its distribution.
//
// A destroying decision also removes the position. If the asset cannot be
// handed to the renter the close stays committed and ErrAssetNotReturned
// is returned alongside the snapshot.
func (s *Service) CloseDispute(ctx context.Context, id PositionID, decide Adjudicator) (Wrap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.lookupLocked(id)
	if err != nil {
		return Wrap{}, err
	}
	if DeriveStatus(*w, s.now()) != StatusViolated {
		return Wrap{}, ErrNotViolated
	}
	snapshot := *w

	decision, err := decide(snapshot)
	if err != nil {
		return Wrap{}, err
	}

	fee := snapshot.RentalFee()
	if err := s.ledger.ReleaseUpfront(fee); err != nil {
		return Wrap{}, fmt.Errorf("rental: release upfront: %w", err)
	}
	if err := s.ledger.AddPenalty(snapshot.Owner, decision.Penalty); err != nil {
		if herr := s.ledger.HoldUpfront(fee); herr != nil {
			s.log.WithError(herr).WithField("position_id", positionField(id)).Error("restore upfront after failed penalty")
		}
		return Wrap{}, fmt.Errorf("rental: assess penalty: %w", err)
	}

	if decision.Park > 0 {
		s.ledger.Park(decision.Park)
	}

	if _, err := s.endRentalLocked(w); err != nil {
		return snapshot, err
	}

	if !decision.Destroy {
		decision.resolved(ctx)
		return snapshot, nil
	}

	if err := s.receipts.Burn(uint64(id)); err != nil {
		s.log.WithError(err).WithField("position_id", positionField(id)).Error("burn receipt on destroy")
	}
	delete(s.positions, id)
	s.log.WithField("position_id", positionField(id)).
		WithField("renter", snapshot.Renter).
		Warn("position destroyed by judgment")
	decision.resolved(ctx)

	if err := s.custody.Release(ctx, snapshot.Asset, snapshot.Renter); err != nil {
		s.log.WithError(err).WithField("position_id", positionField(id)).Error("hand asset to renter")
		return snapshot, fmt.Errorf("%w: %v", ErrAssetNotReturned, err)
	}
	return snapshot, nil
}

func (a Adjudication) resolved(ctx context.Context) {
	if a.Resolved != nil {
		a.Resolved(ctx)
	}
}
