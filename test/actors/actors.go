package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"rentflow/dispute"
	"rentflow/ledger"
	"rentflow/receipt"
	"rentflow/rental"
	"rentflow/timeline"
)

// contention lists the errors a well-behaved actor can hit because another
// actor got there first. Anything else fails the run.
var contention = []error{
	rental.ErrInvalidPosition,
	rental.ErrNotFree,
	rental.ErrNotPending,
	rental.ErrNotRented,
	rental.ErrNotParty,
	rental.ErrNotLapsed,
	rental.ErrNotViolated,
	rental.ErrOwnerHasPenalty,
	dispute.ErrInvalidJudgment,
	ledger.ErrWrongPenaltyAmount,
	ledger.ErrPaymentFailed,
	receipt.ErrTransferGuard,
	receipt.ErrNotHolder,
	receipt.ErrNotFound,
}

func tolerate(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, target := range contention {
		if errors.Is(err, target) {
			return nil
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func done(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(rng *rand.Rand) {
	time.Sleep(time.Duration(rng.Intn(2000)) * time.Microsecond)
}

func pick(rng *rand.Rand, items []rental.Wrap) (rental.Wrap, bool) {
	if len(items) == 0 {
		return rental.Wrap{}, false
	}
	return items[rng.Intn(len(items))], true
}

// Owner escrows its assets, answers requests on its positions, withdraws
// its balance, repays penalties and now and then closes or disputes a position.
func Owner(ctx context.Context, w *World, self ledger.Address, rng *rand.Rand, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		var err error
		switch n := rng.Intn(100); {
		case n < 25:
			err = ownerRegister(ctx, w, self, rng)
		case n < 60:
			err = ownerAnswer(ctx, w, self, rng)
		case n < 70:
			_, err = w.Ledger.WithdrawOwnerBalance(ctx, self)
			err = tolerate("withdraw owner balance", err)
		case n < 80:
			err = ownerRepay(ctx, w, self)
		case n < 90:
			err = ownerUnregister(ctx, w, self, rng)
		default:
			err = raiseOn(ctx, w, self, rental.Filters{Owner: self, Status: rental.StatusRented}, rng)
		}
		if err != nil {
			return err
		}
		pause(rng)
	}
	return nil
}

func ownerRegister(ctx context.Context, w *World, self ledger.Address, rng *rand.Rand) error {
	held := w.Assets.HoldingsOf(self)
	if len(held) == 0 {
		return nil
	}
	minPeriod := uint32(1 + rng.Intn(3))
	_, err := w.Rentals.Register(ctx, self, rental.RegisterParams{
		Asset:                custodyRef(held[rng.Intn(len(held))]),
		MinRentalPeriod:      minPeriod,
		MaxRentalPeriod:      minPeriod + 2 + uint32(rng.Intn(8)),
		DailyRate:            ledger.Amount(1 + rng.Intn(100)),
		SecurityDepositRatio: uint8(rng.Intn(50)),
	})
	return tolerate("register", err)
}

func ownerAnswer(ctx context.Context, w *World, self ledger.Address, rng *rand.Rand) error {
	pending, err := w.Positions(ctx, rental.Filters{Owner: self, Status: rental.StatusRequestPending})
	if err != nil {
		return err
	}
	pos, ok := pick(rng, pending)
	if !ok {
		return nil
	}
	_, err = w.Rentals.ApproveRentRequest(ctx, self, pos.ID, rng.Intn(10) < 7)
	w.recordFailures(err)
	return tolerate("answer request", err)
}

func ownerRepay(ctx context.Context, w *World, self ledger.Address) error {
	owed := w.Ledger.PenaltyOf(self)
	if owed == 0 {
		return nil
	}
	err := w.Disputes.PayPenalty(ctx, self, owed)
	if err == nil || errors.Is(err, ledger.ErrPaymentFailed) {
		w.accept(owed)
	}
	w.recordFailures(err)
	return tolerate("pay penalty", err)
}

func ownerUnregister(ctx context.Context, w *World, self ledger.Address, rng *rand.Rand) error {
	free, err := w.Positions(ctx, rental.Filters{Owner: self, Status: rental.StatusFree})
	if err != nil {
		return err
	}
	pos, ok := pick(rng, free)
	if !ok {
		return nil
	}
	_, err = w.Rentals.Unregister(ctx, self, pos.ID)
	return tolerate("unregister", err)
}

func raiseOn(ctx context.Context, w *World, self ledger.Address, filters rental.Filters, rng *rand.Rand) error {
	rented, err := w.Positions(ctx, filters)
	if err != nil {
		return err
	}
	pos, ok := pick(rng, rented)
	if !ok {
		return nil
	}
	_, err = w.Rentals.RaiseViolation(ctx, self, pos.ID)
	return tolerate("raise violation", err)
}

// Renter requests free positions, ends its rentals early, returns lapsed
// receipts by hand and occasionally disputes a rental.
func Renter(ctx context.Context, w *World, self ledger.Address, rng *rand.Rand, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		var err error
		switch n := rng.Intn(100); {
		case n < 45:
			err = renterRequest(ctx, w, self, rng)
		case n < 70:
			err = renterComplete(ctx, w, self, rng)
		case n < 85:
			err = renterReturnReceipt(ctx, w, self, rng)
		default:
			err = raiseOn(ctx, w, self, rental.Filters{Renter: self, Status: rental.StatusRented}, rng)
		}
		if err != nil {
			return err
		}
		pause(rng)
	}
	return nil
}

func renterRequest(ctx context.Context, w *World, self ledger.Address, rng *rand.Rand) error {
	free, err := w.Positions(ctx, rental.Filters{Status: rental.StatusFree})
	if err != nil {
		return err
	}
	pos, ok := pick(rng, free)
	if !ok {
		return nil
	}
	period := pos.MinRentalPeriod + 1 + uint32(rng.Intn(int(pos.MaxRentalPeriod-pos.MinRentalPeriod-1)))
	payment := ledger.Amount(period) * pos.DailyRate
	if _, err := w.Rentals.RequestRent(ctx, self, pos.ID, period, payment); err != nil {
		return tolerate("request rent", err)
	}
	w.accept(payment)
	return nil
}

func renterComplete(ctx context.Context, w *World, self ledger.Address, rng *rand.Rand) error {
	rented, err := w.Positions(ctx, rental.Filters{Renter: self, Status: rental.StatusRented})
	if err != nil {
		return err
	}
	pos, ok := pick(rng, rented)
	if !ok {
		return nil
	}
	_, err = w.Rentals.CompleteRent(ctx, self, pos.ID)
	return tolerate("complete rent", err)
}

// renterReturnReceipt hands a held receipt back to the registry, which the
// guard allows only once the rental window has elapsed.
func renterReturnReceipt(ctx context.Context, w *World, self ledger.Address, rng *rand.Rand) error {
	held := w.Receipts.HoldingsOf(self)
	if len(held) == 0 {
		return nil
	}
	id := held[rng.Intn(len(held))]
	err := w.Receipts.Transfer(ctx, self, Registry, fmt.Sprint(id))
	return tolerate("return receipt", err)
}

// Arbiter disposes of violated positions with judgments that fit the side
// that raised them, collects service fees and retunes the fee ratio.
func Arbiter(ctx context.Context, w *World, rng *rand.Rand, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		var err error
		switch n := rng.Intn(100); {
		case n < 70:
			err = arbiterDispose(ctx, w, rng)
		case n < 90:
			_, err = w.Ledger.WithdrawServiceFeeBalance(ctx, Authority, Treasury)
			err = tolerate("withdraw service fee", err)
		default:
			err = w.Ledger.SetServiceFeeRatio(ctx, Authority, uint8(rng.Intn(25)))
		}
		if err != nil {
			return err
		}
		pause(rng)
	}
	return nil
}

func arbiterDispose(ctx context.Context, w *World, rng *rand.Rand) error {
	violated, err := w.Positions(ctx, rental.Filters{Status: rental.StatusViolated})
	if err != nil {
		return err
	}
	pos, ok := pick(rng, violated)
	if !ok {
		return nil
	}
	judgments := []dispute.Judgment{dispute.JudgmentNoViolation, dispute.JudgmentRenterViolation}
	if pos.DisputeBy == pos.Renter {
		judgments = []dispute.Judgment{dispute.JudgmentNoViolation, dispute.JudgmentOwnerViolation, dispute.JudgmentOwnerSeriousViolation}
	}
	_, err = w.Disputes.DisposeDispute(ctx, Authority, dispute.DisposeParams{
		PositionID:           pos.ID,
		Judgment:             judgments[rng.Intn(len(judgments))],
		DecisionPaymentRatio: uint8(rng.Intn(101)),
		OwnerPenaltyRatio:    uint8(rng.Intn(101)),
	})
	w.recordFailures(err)
	return tolerate("dispose dispute", err)
}

// Settler closes the books of every lapsed rental it finds.
func Settler(ctx context.Context, w *World, rng *rand.Rand, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		positions, err := w.Positions(ctx, rental.Filters{Status: rental.StatusFree})
		if err != nil {
			return err
		}
		for _, pos := range positions {
			if pos.Renter == "" {
				continue
			}
			_, err := w.Rentals.Settle(ctx, pos.ID)
			if err := tolerate("settle", err); err != nil {
				return err
			}
		}
		pause(rng)
	}
	return nil
}

// TimeKeeper moves the shared clock forward so rentals lapse mid-run.
func TimeKeeper(ctx context.Context, w *World, rng *rand.Rand, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		w.Clock.Advance(time.Duration(1+rng.Intn(36)) * time.Hour)
		time.Sleep(time.Duration(1+rng.Intn(5)) * time.Millisecond)
	}
	return nil
}

// FlakyRecipients blocks and unblocks payees so that payments fail at
// arbitrary points of the lifecycle.
func FlakyRecipients(ctx context.Context, w *World, rng *rand.Rand, stop <-chan struct{}) error {
	parties := w.Parties()
	for !done(ctx, stop) {
		addr := parties[rng.Intn(len(parties))]
		if rng.Intn(2) == 0 {
			w.Payer.Block(addr)
		} else {
			w.Payer.Unblock(addr)
		}
		time.Sleep(time.Duration(1+rng.Intn(10)) * time.Millisecond)
	}
	return nil
}

var errDownstream = errors.New("downstream unavailable")

// OutboxRelay drains the outbox through a publisher that refuses one
// message in five. Several relays may run against the same pool.
func OutboxRelay(ctx context.Context, pool timeline.TxBeginner, maxAttempts int, log logrus.FieldLogger, rng *rand.Rand, stop <-chan struct{}) error {
	publisher := timeline.PublisherFunc(func(context.Context, timeline.Message) error {
		if rng.Intn(5) == 0 {
			return errDownstream
		}
		return nil
	})
	relay := timeline.NewRelay(pool, publisher, log).WithBatchSize(5).WithMaxAttempts(maxAttempts)
	for !done(ctx, stop) {
		if _, err := relay.DispatchOnce(ctx); err != nil {
			return fmt.Errorf("dispatch outbox: %w", err)
		}
		time.Sleep(time.Duration(5+rng.Intn(10)) * time.Millisecond)
	}
	return nil
}
