package dispute

import (
	"context"
	"errors"
	"testing"
	"time"

	"rentflow/custody"
	"rentflow/ledger"
	"rentflow/receipt"
	"rentflow/rental"
	"rentflow/timeline"
)

const (
	registryAddr ledger.Address = "registry"
	arbiter      ledger.Address = "arbiter"
	owner        ledger.Address = "owner"
	renter       ledger.Address = "renter"
	carol        ledger.Address = "carol"
)

type fixture struct {
	resolver *Resolver
	rentals  *rental.Service
	ledger   *ledger.Ledger
	payer    *ledger.WalletPayer
	assets   *custody.MemoryRegistry
	events   *timeline.MemoryRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	events := timeline.NewMemoryRecorder()
	journal := timeline.NewJournal(events, nil)
	payer := ledger.NewWalletPayer()
	led := ledger.New(arbiter, payer, journal, nil)

	assets := custody.NewMemoryRegistry()
	dir := custody.NewDirectory()
	dir.Add("art", assets)

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rentals := rental.NewService(custody.NewAdapter(dir, registryAddr), receipt.NewBook("receipts"), led, journal, nil).
		WithClock(func() time.Time { return start })

	return &fixture{
		resolver: NewResolver(rentals, led, journal, nil),
		rentals:  rentals,
		ledger:   led,
		payer:    payer,
		assets:   assets,
		events:   events,
	}
}

// free registers a position at 100 per day for the owner.
func (f *fixture) free(t *testing.T, assetID string) rental.PositionID {
	t.Helper()
	if err := f.assets.Mint(assetID, owner, ""); err != nil {
		t.Fatalf("mint %s: %v", assetID, err)
	}
	w, err := f.rentals.Register(context.Background(), owner, rental.RegisterParams{
		Asset:                custody.AssetRef{Collection: "art", AssetID: assetID},
		MinRentalPeriod:      1,
		MaxRentalPeriod:      30,
		DailyRate:            100,
		SecurityDepositRatio: 10,
	})
	if err != nil {
		t.Fatalf("register %s: %v", assetID, err)
	}
	return w.ID
}

// violated registers a position, rents it for ten days and has raisedBy
// flag it.
func (f *fixture) violated(t *testing.T, assetID string, raisedBy ledger.Address) rental.PositionID {
	t.Helper()
	ctx := context.Background()
	id := f.free(t, assetID)
	if _, err := f.rentals.RequestRent(ctx, renter, id, 10, 1000); err != nil {
		t.Fatalf("request rent: %v", err)
	}
	if _, err := f.rentals.ApproveRentRequest(ctx, owner, id, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.rentals.RaiseViolation(ctx, raisedBy, id); err != nil {
		t.Fatalf("raise violation: %v", err)
	}
	return id
}

// penalise has the arbiter find the owner at fault on a fresh dispute,
// leaving a penalty of 200.
func (f *fixture) penalise(t *testing.T, assetID string) {
	t.Helper()
	id := f.violated(t, assetID, renter)
	_, err := f.resolver.DisposeDispute(context.Background(), arbiter, DisposeParams{
		PositionID:        id,
		Judgment:          JudgmentOwnerViolation,
		OwnerPenaltyRatio: 20,
	})
	if err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if got := f.ledger.PenaltyOf(owner); got != 200 {
		t.Fatalf("expected penalty 200, got %d", got)
	}
}

func (f *fixture) status(t *testing.T, id rental.PositionID) rental.Status {
	t.Helper()
	s, err := f.rentals.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("status %d: %v", id, err)
	}
	return s
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func expectAmount(t *testing.T, what string, got, want ledger.Amount) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %d, got %d", what, want, got)
	}
}

func TestDisposeDispute_RequiresAuthority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.violated(t, "1", renter)

	_, err := f.resolver.DisposeDispute(ctx, owner, DisposeParams{PositionID: id, Judgment: JudgmentNoViolation})
	expectErr(t, err, ErrNotAuthority)

	_, err = f.resolver.DisposeDispute(ctx, arbiter, DisposeParams{PositionID: id, Judgment: JudgmentNoViolation, DecisionPaymentRatio: 101})
	expectErr(t, err, ErrInvalidRatio)

	if s := f.status(t, id); s != rental.StatusViolated {
		t.Fatalf("expected position to stay VIOLATED, got %s", s)
	}
}

func TestDisposeDispute_RejectsJudgmentForWrongParty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	byRenter := f.violated(t, "1", renter)
	byOwner := f.violated(t, "2", owner)

	_, err := f.resolver.DisposeDispute(ctx, arbiter, DisposeParams{PositionID: byRenter, Judgment: JudgmentRenterViolation})
	expectErr(t, err, ErrInvalidJudgment)
	_, err = f.resolver.DisposeDispute(ctx, arbiter, DisposeParams{PositionID: byOwner, Judgment: JudgmentOwnerViolation})
	expectErr(t, err, ErrInvalidJudgment)

	expectAmount(t, "escrow", f.ledger.Escrowed(), 2000)
	if n := len(f.events.OfType(timeline.EventDisputeResolved)); n != 0 {
		t.Errorf("expected no resolution events, got %d", n)
	}
}

func TestDisposeDispute_OwnerViolationPenalises(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.ledger.SetServiceFeeRatio(ctx, arbiter, 10); err != nil {
		t.Fatalf("set ratio: %v", err)
	}
	id := f.violated(t, "1", renter)

	out, err := f.resolver.DisposeDispute(ctx, arbiter, DisposeParams{
		PositionID:           id,
		Judgment:             JudgmentOwnerViolation,
		DecisionPaymentRatio: 30,
		OwnerPenaltyRatio:    20,
	})
	if err != nil {
		t.Fatalf("dispose: %v", err)
	}

	expectAmount(t, "penalty", out.Penalty, 200)
	expectAmount(t, "renter payout", out.RenterPayout, 700)
	expectAmount(t, "owner payout", out.OwnerPayout, 270)
	expectAmount(t, "service fee", out.ServiceFee, 30)
	if out.Destroyed {
		t.Errorf("expected position to survive an owner violation")
	}
	expectAmount(t, "outcome total", out.OwnerPayout+out.RenterPayout+out.ServiceFee+out.Unallocated, out.RentalFee)

	expectAmount(t, "renter wallet", f.payer.Balance(renter), 700)
	expectAmount(t, "owner wallet", f.payer.Balance(owner), 270)
	expectAmount(t, "arbiter wallet", f.payer.Balance(arbiter), 30)
	expectAmount(t, "escrow", f.ledger.Escrowed(), 0)
	expectAmount(t, "owner penalty", f.ledger.PenaltyOf(owner), 200)

	if s := f.status(t, id); s != rental.StatusFree {
		t.Errorf("expected FREE after resolution, got %s", s)
	}
	if n := len(f.events.OfType(timeline.EventDisputeResolved)); n != 1 {
		t.Errorf("expected 1 resolution event, got %d", n)
	}
}

func TestPayPenalty_UnblocksRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.penalise(t, "1")

	if err := f.assets.Mint("2", owner, ""); err != nil {
		t.Fatalf("mint: %v", err)
	}
	params := rental.RegisterParams{
		Asset:           custody.AssetRef{Collection: "art", AssetID: "2"},
		MinRentalPeriod: 1,
		MaxRentalPeriod: 5,
		DailyRate:       10,
	}
	_, err := f.rentals.Register(ctx, owner, params)
	expectErr(t, err, rental.ErrOwnerHasPenalty)

	expectErr(t, f.resolver.PayPenalty(ctx, owner, 199), ledger.ErrWrongPenaltyAmount)
	if err := f.resolver.PayPenalty(ctx, owner, 200); err != nil {
		t.Fatalf("pay penalty: %v", err)
	}
	expectAmount(t, "owner penalty", f.ledger.PenaltyOf(owner), 0)
	expectAmount(t, "arbiter wallet", f.payer.Balance(arbiter), 200)
	if n := len(f.events.OfType(timeline.EventOwnerPenaltyPaid)); n != 1 {
		t.Errorf("expected 1 penalty paid event, got %d", n)
	}

	if _, err := f.rentals.Register(ctx, owner, params); err != nil {
		t.Fatalf("register after repayment: %v", err)
	}
	expectErr(t, f.resolver.PayPenalty(ctx, owner, 0), ledger.ErrWrongPenaltyAmount)
}

func TestPenalty_BlocksNewRentalsOfExistingPositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	idle := f.free(t, "1")
	f.penalise(t, "2")
	escrowed := f.ledger.Escrowed()

	_, err := f.rentals.RequestRent(ctx, carol, idle, 5, 500)
	expectErr(t, err, rental.ErrOwnerHasPenalty)
	expectAmount(t, "escrow", f.ledger.Escrowed(), escrowed)
	if s := f.status(t, idle); s != rental.StatusFree {
		t.Errorf("expected FREE, got %s", s)
	}

	if err := f.resolver.PayPenalty(ctx, owner, 200); err != nil {
		t.Fatalf("pay penalty: %v", err)
	}
	if _, err := f.rentals.RequestRent(ctx, carol, idle, 5, 500); err != nil {
		t.Fatalf("request after repayment: %v", err)
	}
	expectAmount(t, "escrow", f.ledger.Escrowed(), escrowed+500)
}

func TestPenalty_BlocksApprovalOfPendingRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := f.free(t, "1")
	if _, err := f.rentals.RequestRent(ctx, carol, pending, 5, 500); err != nil {
		t.Fatalf("request rent: %v", err)
	}
	f.penalise(t, "2")

	_, err := f.rentals.ApproveRentRequest(ctx, owner, pending, true)
	expectErr(t, err, rental.ErrOwnerHasPenalty)
	if s := f.status(t, pending); s != rental.StatusRequestPending {
		t.Fatalf("expected REQUEST_PENDING, got %s", s)
	}
	expectAmount(t, "escrow", f.ledger.Escrowed(), 500)

	if _, err := f.rentals.ApproveRentRequest(ctx, owner, pending, false); err != nil {
		t.Fatalf("deny: %v", err)
	}
	expectAmount(t, "carol refund", f.payer.Balance(carol), 500)
	expectAmount(t, "escrow", f.ledger.Escrowed(), 0)
}

func TestDisposeDispute_SeriousViolationDestroysPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.violated(t, "1", renter)

	out, err := f.resolver.DisposeDispute(ctx, arbiter, DisposeParams{
		PositionID:           id,
		Judgment:             JudgmentOwnerSeriousViolation,
		DecisionPaymentRatio: 0,
		OwnerPenaltyRatio:    50,
	})
	if err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if !out.Destroyed {
		t.Errorf("expected position destroyed")
	}
	expectAmount(t, "renter wallet", f.payer.Balance(renter), 1000)
	expectAmount(t, "owner penalty", f.ledger.PenaltyOf(owner), 500)

	holder, err := f.assets.OwnerOf(ctx, "1")
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if holder != renter {
		t.Errorf("expected renter to receive asset, got %s", holder)
	}

	_, err = f.rentals.Get(ctx, id)
	expectErr(t, err, rental.ErrInvalidPosition)
}

func TestDisposeDispute_RenterViolationParksFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.violated(t, "1", owner)

	out, err := f.resolver.DisposeDispute(ctx, arbiter, DisposeParams{PositionID: id, Judgment: JudgmentRenterViolation, DecisionPaymentRatio: 100})
	if err != nil {
		t.Fatalf("dispose: %v", err)
	}
	expectAmount(t, "unallocated", out.Unallocated, 1000)
	expectAmount(t, "allocated", out.OwnerPayout+out.RenterPayout+out.ServiceFee, 0)
	expectAmount(t, "escrow", f.ledger.Escrowed(), 0)
	expectAmount(t, "parked", f.ledger.Parked(), 1000)
	expectAmount(t, "owner wallet", f.payer.Balance(owner), 0)
	expectAmount(t, "renter wallet", f.payer.Balance(renter), 0)
}

func TestDisposeDispute_SurfacesRejectedPayouts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.violated(t, "1", owner)
	f.payer.Block(owner)
	f.payer.Block(renter)

	out, err := f.resolver.DisposeDispute(ctx, arbiter, DisposeParams{
		PositionID:           id,
		Judgment:             JudgmentNoViolation,
		DecisionPaymentRatio: 50,
	})
	expectErr(t, err, ledger.ErrPaymentFailed)
	expectAmount(t, "owner payout", out.OwnerPayout, 500)
	expectAmount(t, "renter payout", out.RenterPayout, 500)

	var payErr *ledger.PaymentError
	if !errors.As(err, &payErr) {
		t.Fatalf("expected *ledger.PaymentError, got %T", err)
	}
	if s := f.status(t, id); s != rental.StatusFree {
		t.Errorf("expected FREE despite failed payouts, got %s", s)
	}
	expectAmount(t, "escrow", f.ledger.Escrowed(), 0)
}

func TestDisposeDispute_RequiresViolation(t *testing.T) {
	f := newFixture(t)
	id := f.free(t, "1")

	_, err := f.resolver.DisposeDispute(context.Background(), arbiter, DisposeParams{PositionID: id, Judgment: JudgmentNoViolation})
	expectErr(t, err, ErrNotViolated)
}
