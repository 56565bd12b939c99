package rental

import (
	"context"
	"fmt"
	"sort"

	"rentflow/ledger"
	"rentflow/timeline"
)

// Register escrows an asset held by caller and opens a FREE position for it.
func (s *Service) Register(ctx context.Context, caller ledger.Address, params RegisterParams) (Wrap, error) {
	if caller == "" {
		return Wrap{}, ErrMissingCaller
	}
	if params.MinRentalPeriod == 0 || params.MaxRentalPeriod <= params.MinRentalPeriod {
		return Wrap{}, fmt.Errorf("%w: min=%d max=%d", ErrInvalidPeriodBounds, params.MinRentalPeriod, params.MaxRentalPeriod)
	}
	if params.DailyRate == 0 {
		return Wrap{}, ErrInvalidRate
	}
	if params.SecurityDepositRatio >= 100 {
		return Wrap{}, fmt.Errorf("%w: %d", ErrInvalidRatio, params.SecurityDepositRatio)
	}
	if caller == s.registry {
		return Wrap{}, ErrRegistryCaller
	}
	if params.Asset.Collection == s.receipts.Name() || s.custody.Resolves(params.Asset.Collection, s.receipts) {
		return Wrap{}, ErrSelfReferential
	}
	if s.ledger.HasPenalty(caller) {
		return Wrap{}, ErrOwnerHasPenalty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	holder, err := s.custody.OwnerOf(ctx, params.Asset)
	if err != nil {
		return Wrap{}, fmt.Errorf("rental: verify holder: %w", err)
	}
	if holder != caller {
		return Wrap{}, ErrNotAssetOwner
	}

	if err := s.custody.Deposit(ctx, params.Asset, caller); err != nil {
		return Wrap{}, fmt.Errorf("rental: deposit asset: %w", err)
	}

	id := s.lastID + 1
	if err := s.receipts.Mint(uint64(id), s.registry); err != nil {
		if rerr := s.custody.Release(ctx, params.Asset, caller); rerr != nil {
			s.log.WithError(rerr).WithField("asset", params.Asset.String()).Error("return asset after failed mint")
		}
		return Wrap{}, fmt.Errorf("rental: mint receipt: %w", err)
	}
	s.lastID = id

	w := &Wrap{
		ID:                   id,
		Asset:                params.Asset,
		Owner:                caller,
		MinRentalPeriod:      params.MinRentalPeriod,
		MaxRentalPeriod:      params.MaxRentalPeriod,
		DailyRate:            params.DailyRate,
		SecurityDepositRatio: params.SecurityDepositRatio,
		RegisteredAt:         s.now().UTC(),
	}
	s.positions[id] = w

	s.emit(ctx, timeline.EventRegistered, id, caller, map[string]any{
		"owner":                  caller,
		"collection":             params.Asset.Collection,
		"asset_id":               params.Asset.AssetID,
		"min_rental_period":      params.MinRentalPeriod,
		"max_rental_period":      params.MaxRentalPeriod,
		"daily_rate":             params.DailyRate,
		"security_deposit_ratio": params.SecurityDepositRatio,
	})
	s.log.WithField("position_id", positionField(id)).
		WithField("owner", caller).
		WithField("asset", params.Asset.String()).
		Info("position registered")

	return *w, nil
}

// Unregister closes a FREE position and returns the asset to its owner.
func (s *Service) Unregister(ctx context.Context, caller ledger.Address, id PositionID) (Wrap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.lookupLocked(id)
	if err != nil {
		return Wrap{}, err
	}
	if w.Owner != caller {
		return Wrap{}, ErrNotOwner
	}
	now := s.now()
	if DeriveStatus(*w, now) != StatusFree {
		return Wrap{}, ErrNotFree
	}
	if lapsed(*w, now) {
		if err := s.settleLapsedLocked(ctx, w); err != nil {
			return Wrap{}, err
		}
	}

	if err := s.custody.Release(ctx, w.Asset, caller); err != nil {
		return Wrap{}, fmt.Errorf("rental: return asset: %w", err)
	}
	if err := s.receipts.Burn(uint64(id)); err != nil {
		s.log.WithError(err).WithField("position_id", positionField(id)).Error("burn receipt on unregister")
	}
	delete(s.positions, id)

	s.emit(ctx, timeline.EventUnregistered, id, caller, map[string]any{
		"owner":      caller,
		"collection": w.Asset.Collection,
		"asset_id":   w.Asset.AssetID,
	})
	s.log.WithField("position_id", positionField(id)).Info("position unregistered")

	return *w, nil
}

// Get returns a copy of the position.
func (s *Service) Get(_ context.Context, id PositionID) (Wrap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.lookupLocked(id)
	if err != nil {
		return Wrap{}, err
	}
	return *w, nil
}

// Status derives the position's status from the clock, fresh on every call.
func (s *Service) Status(_ context.Context, id PositionID) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.lookupLocked(id)
	if err != nil {
		return "", err
	}
	return DeriveStatus(*w, s.now()), nil
}

// StatusOf derives the status of a position snapshot at the service clock.
func (s *Service) StatusOf(w Wrap) Status {
	return DeriveStatus(w, s.now())
}

// MetadataURI returns the metadata of the asset behind the position.
func (s *Service) MetadataURI(ctx context.Context, id PositionID) (string, error) {
	return s.receiptMetadata(ctx, uint64(id))
}

// List returns a page of positions in ID order and the total match count.
func (s *Service) List(_ context.Context, filters Filters) ([]Wrap, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	s.mu.Lock()
	now := s.now()
	matched := make([]Wrap, 0, len(s.positions))
	for _, w := range s.positions {
		if filters.Owner != "" && w.Owner != filters.Owner {
			continue
		}
		if filters.Renter != "" && w.Renter != filters.Renter {
			continue
		}
		if filters.Status != "" && DeriveStatus(*w, now) != filters.Status {
			continue
		}
		matched = append(matched, *w)
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	start := (filters.Page - 1) * filters.PageSize
	if start >= total {
		return []Wrap{}, total, nil
	}
	end := start + filters.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}
