package oracles

import (
	"context"
	"fmt"

	"rentflow/ledger"
	"rentflow/rental"
	"rentflow/test/actors"
	"rentflow/timeline"
)

// Invariant inspects a quiescent World and describes the first violation
// it finds, or returns "".
type Invariant struct {
	Name  string
	Check func(ctx context.Context, w *actors.World, positions []rental.Wrap) (string, error)
}

func Invariants() []Invariant {
	return []Invariant{
		{Name: "I1_funds_conserved", Check: fundsConserved},
		{Name: "I2_escrow_matches_rentals", Check: escrowMatchesRentals},
		{Name: "I3_receipt_custody", Check: receiptCustody},
		{Name: "I4_asset_custody", Check: assetCustody},
		{Name: "I5_lifecycle_order", Check: lifecycleOrder},
	}
}

// Verify runs every invariant and returns the first failure's name and
// detail, or an empty name if all hold. The World must not be mutated
// while Verify runs.
func Verify(ctx context.Context, w *actors.World) (string, string, error) {
	positions, err := w.Positions(ctx, rental.Filters{})
	if err != nil {
		return "", "", err
	}
	for _, inv := range Invariants() {
		detail, err := inv.Check(ctx, w, positions)
		if err != nil {
			return inv.Name, "", fmt.Errorf("invariant %s: %w", inv.Name, err)
		}
		if detail != "" {
			return inv.Name, detail, nil
		}
	}
	return "", "", nil
}

// fundsConserved: everything accepted is held in escrow, owed to owners or
// the fee collector, parked, delivered, or was released into a failed payment.
func fundsConserved(_ context.Context, w *actors.World, _ []rental.Wrap) (string, error) {
	var owners ledger.Amount
	for _, owner := range w.Owners {
		owners += w.Ledger.OwnerBalance(owner)
	}
	held := w.Ledger.Escrowed() + owners + w.Ledger.ServiceFeeBalance() + w.Ledger.Parked()
	accounted := held + w.Payer.Delivered() + w.Lost()
	if accounted != w.Inflow() {
		return fmt.Sprintf("inflow=%d escrow=%d owners=%d service=%d parked=%d delivered=%d lost=%d",
			w.Inflow(), w.Ledger.Escrowed(), owners, w.Ledger.ServiceFeeBalance(), w.Ledger.Parked(),
			w.Payer.Delivered(), w.Lost()), nil
	}
	return "", nil
}

func escrowMatchesRentals(_ context.Context, w *actors.World, positions []rental.Wrap) (string, error) {
	var want ledger.Amount
	for _, p := range positions {
		if p.Renter != "" {
			want += p.RentalFee()
		}
	}
	if got := w.Ledger.Escrowed(); got != want {
		return fmt.Sprintf("escrow=%d open upfronts=%d", got, want), nil
	}
	return "", nil
}

// receiptCustody: one receipt per position, held by the registry or by the
// renter of a started rental.
func receiptCustody(_ context.Context, w *actors.World, positions []rental.Wrap) (string, error) {
	if n := w.Receipts.Count(); n != len(positions) {
		return fmt.Sprintf("receipts=%d positions=%d", n, len(positions)), nil
	}
	for _, p := range positions {
		holder, err := w.Receipts.HolderOf(uint64(p.ID))
		if err != nil {
			return fmt.Sprintf("position %d: %v", p.ID, err), nil
		}
		if holder == actors.Registry {
			continue
		}
		if holder != p.Renter || p.RentStarted.IsZero() {
			return fmt.Sprintf("position %d: receipt held by %s, renter %q started %v", p.ID, holder, p.Renter, p.RentStarted), nil
		}
	}
	return "", nil
}

func assetCustody(ctx context.Context, w *actors.World, positions []rental.Wrap) (string, error) {
	held := w.Assets.HoldingsOf(actors.Registry)
	if len(held) != len(positions) {
		return fmt.Sprintf("escrowed assets=%d positions=%d", len(held), len(positions)), nil
	}
	for _, p := range positions {
		owner, err := w.Assets.OwnerOf(ctx, p.Asset.AssetID)
		if err != nil {
			return "", err
		}
		if owner != actors.Registry {
			return fmt.Sprintf("position %d: asset %s held by %s", p.ID, p.Asset, owner), nil
		}
	}
	return "", nil
}

type phase int

const (
	phaseNone phase = iota
	phaseFree
	phasePending
	phaseRented
	phaseViolated
	phaseClosed
)

var transitions = map[timeline.EventType]struct {
	from, to phase
}{
	timeline.EventRegistered:      {phaseNone, phaseFree},
	timeline.EventRentRequested:   {phaseFree, phasePending},
	timeline.EventRentDenied:      {phasePending, phaseFree},
	timeline.EventRentStarted:     {phasePending, phaseRented},
	timeline.EventRentEnded:       {phaseRented, phaseFree},
	timeline.EventViolationRaised: {phaseRented, phaseViolated},
	timeline.EventDisputeResolved: {phaseViolated, phaseFree},
	timeline.EventUnregistered:    {phaseFree, phaseClosed},
}

// lifecycleOrder replays each position's journal against the lifecycle and
// checks that the replayed phase agrees with the live position.
func lifecycleOrder(_ context.Context, w *actors.World, positions []rental.Wrap) (string, error) {
	phases := make(map[uint64]phase)
	for _, ev := range w.Events.Events() {
		if ev.PositionID == 0 {
			continue
		}
		edge, ok := transitions[ev.Type]
		if !ok {
			return fmt.Sprintf("event %s: unexpected type %s", ev.ID, ev.Type), nil
		}
		current := phases[ev.PositionID]
		if current != edge.from {
			return fmt.Sprintf("position %d: %s in phase %d", ev.PositionID, ev.Type, current), nil
		}
		next := edge.to
		if destroyed, _ := ev.Payload["destroyed"].(bool); ev.Type == timeline.EventDisputeResolved && destroyed {
			next = phaseClosed
		}
		phases[ev.PositionID] = next
	}

	for _, p := range positions {
		want := phaseFree
		switch {
		case p.Renter == "":
		case p.RentStarted.IsZero():
			want = phasePending
		case p.DisputeBy != "":
			want = phaseViolated
		default:
			want = phaseRented
		}
		if got := phases[uint64(p.ID)]; got != want {
			return fmt.Sprintf("position %d: journal phase %d, live phase %d", p.ID, got, want), nil
		}
		delete(phases, uint64(p.ID))
	}
	for id, ph := range phases {
		if ph != phaseClosed {
			return fmt.Sprintf("position %d: missing but journal phase %d", id, ph), nil
		}
	}
	return "", nil
}
