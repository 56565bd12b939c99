// Package ledger keeps the withdrawable balances, the aggregate service-fee
// balance, owner penalties and the upfront funds held in escrow.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"rentflow/metrics"
	"rentflow/timeline"
)

// Ledger is pure bookkeeping plus outbound payment delivery. It never
// decides who is entitled to funds; callers post the results of their
// transitions into it.
type Ledger struct {
	mu         sync.Mutex
	authority  Address
	feeRatio   uint8
	owners     map[Address]Amount
	penalties  map[Address]Amount
	serviceFee Amount
	escrow     Amount
	parked     Amount

	guard   Guard
	payer   Payer
	journal *timeline.Journal
	log     logrus.FieldLogger
}

func New(authority Address, payer Payer, journal *timeline.Journal, log logrus.FieldLogger) *Ledger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{
		authority: authority,
		owners:    make(map[Address]Amount),
		penalties: make(map[Address]Amount),
		payer:     payer,
		journal:   journal,
		log:       log.WithField("component", "ledger"),
	}
}

// Guard returns the reentrancy guard shared by every paying entry point.
func (l *Ledger) Guard() *Guard {
	return &l.guard
}

func (l *Ledger) Authority() Address {
	return l.authority
}

func (l *Ledger) IsAuthority(addr Address) bool {
	return addr != "" && addr == l.authority
}

func (l *Ledger) ServiceFeeRatio() uint8 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.feeRatio
}

// SetServiceFeeRatio changes the percentage retained on every rental fee.
func (l *Ledger) SetServiceFeeRatio(ctx context.Context, caller Address, pct uint8) error {
	if !l.IsAuthority(caller) {
		return ErrNotAuthority
	}
	if pct >= 100 {
		return fmt.Errorf("%w: service fee ratio %d", ErrInvalidRatio, pct)
	}

	l.mu.Lock()
	previous := l.feeRatio
	l.feeRatio = pct
	l.mu.Unlock()

	l.journal.Emit(ctx, timeline.Event{
		Type:  timeline.EventServiceFeeRatioSet,
		Actor: string(caller),
		Payload: map[string]any{
			"previous_ratio": previous,
			"ratio":          pct,
		},
	})
	return nil
}

func (l *Ledger) OwnerBalance(owner Address) Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owners[owner]
}

func (l *Ledger) ServiceFeeBalance() Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.serviceFee
}

func (l *Ledger) PenaltyOf(owner Address) Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.penalties[owner]
}

func (l *Ledger) HasPenalty(owner Address) bool {
	return l.PenaltyOf(owner) > 0
}

// Escrowed returns the sum of upfront payments currently held.
func (l *Ledger) Escrowed() Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.escrow
}

// HoldUpfront takes a renter's upfront payment into escrow.
func (l *Ledger) HoldUpfront(amount Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.escrow+amount < l.escrow {
		return ErrOverflow
	}
	l.escrow += amount
	return nil
}

// ReleaseUpfront removes amount from escrow so it can be paid or credited.
func (l *Ledger) ReleaseUpfront(amount Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked(amount)
}

func (l *Ledger) releaseLocked(amount Amount) error {
	if amount > l.escrow {
		return fmt.Errorf("%w: release %d of %d", ErrEscrowUnderflow, amount, l.escrow)
	}
	l.escrow -= amount
	return nil
}

// Park keeps released funds that no judgment allocated to anyone.
func (l *Ledger) Park(amount Amount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.parked += amount
}

// Parked returns the funds kept by Park.
func (l *Ledger) Parked() Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.parked
}

// SettleRental releases a finished rental's upfront and credits it to the
// owner's withdrawable balance and the service-fee balance.
func (l *Ledger) SettleRental(owner Address, fee Amount) (ownerCredit, serviceFee Amount, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.releaseLocked(fee); err != nil {
		return 0, 0, err
	}
	ownerCredit, serviceFee = SplitServiceFee(fee, l.feeRatio)
	l.owners[owner] += ownerCredit
	l.serviceFee += serviceFee
	return ownerCredit, serviceFee, nil
}

// AddPenalty increases the outstanding penalty of owner.
func (l *Ledger) AddPenalty(owner Address, amount Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.penalties[owner]
	if current+amount < current {
		return ErrOverflow
	}
	if amount > 0 {
		l.penalties[owner] = current + amount
	}
	return nil
}

// RepayPenalty clears owner's penalty when payment matches it exactly.
func (l *Ledger) RepayPenalty(owner Address, payment Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	owed := l.penalties[owner]
	if owed == 0 || payment != owed {
		return fmt.Errorf("%w: owed %d, paid %d", ErrWrongPenaltyAmount, owed, payment)
	}
	delete(l.penalties, owner)
	return nil
}

// Pay delivers amount to recipient. A zero amount is not sent.
func (l *Ledger) Pay(ctx context.Context, operation string, to Address, amount Amount) error {
	if amount == 0 {
		return nil
	}
	if err := l.payer.Pay(ctx, to, amount); err != nil {
		metrics.RecordPaymentFailure(operation)
		l.log.WithError(err).
			WithField("operation", operation).
			WithField("recipient", to).
			WithField("amount", amount).
			Warn("payment not delivered")
		return &PaymentError{Operation: operation, Recipient: to, Amount: amount, Err: err}
	}
	metrics.RecordPayment(operation, uint64(amount))
	return nil
}

// WithdrawOwnerBalance pays out owner's accrued balance. The balance is
// zeroed before the payment is sent; if delivery fails it is restored so
// the claim stays available.
func (l *Ledger) WithdrawOwnerBalance(ctx context.Context, owner Address) (Amount, error) {
	ctx, release, err := l.guard.Enter(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	l.mu.Lock()
	amount := l.owners[owner]
	delete(l.owners, owner)
	l.mu.Unlock()

	if amount == 0 {
		return 0, nil
	}

	if err := l.Pay(ctx, "withdraw_owner_balance", owner, amount); err != nil {
		l.mu.Lock()
		l.owners[owner] += amount
		l.mu.Unlock()
		return 0, err
	}

	l.journal.Emit(ctx, timeline.Event{
		Type:  timeline.EventOwnerBalanceWithdrawn,
		Actor: string(owner),
		Payload: map[string]any{
			"owner":  owner,
			"amount": amount,
		},
	})
	return amount, nil
}

// WithdrawServiceFeeBalance pays the aggregate service-fee balance to
// recipient. Only the authority may call it.
func (l *Ledger) WithdrawServiceFeeBalance(ctx context.Context, caller, recipient Address) (Amount, error) {
	if !l.IsAuthority(caller) {
		return 0, ErrNotAuthority
	}
	if recipient == "" {
		return 0, fmt.Errorf("ledger: missing recipient")
	}

	ctx, release, err := l.guard.Enter(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	l.mu.Lock()
	amount := l.serviceFee
	l.serviceFee = 0
	l.mu.Unlock()

	if amount == 0 {
		return 0, nil
	}

	if err := l.Pay(ctx, "withdraw_service_fee", recipient, amount); err != nil {
		l.mu.Lock()
		l.serviceFee += amount
		l.mu.Unlock()
		return 0, err
	}

	l.journal.Emit(ctx, timeline.Event{
		Type:  timeline.EventServiceFeeWithdrawn,
		Actor: string(caller),
		Payload: map[string]any{
			"recipient": recipient,
			"amount":    amount,
		},
	})
	return amount, nil
}
