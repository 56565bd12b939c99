package actors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"rentflow/custody"
	"rentflow/dispute"
	"rentflow/ledger"
	"rentflow/receipt"
	"rentflow/rental"
	"rentflow/timeline"
)

const (
	Collection = "art"

	Authority ledger.Address = "arbiter"
	Registry  ledger.Address = "registry"
	Treasury  ledger.Address = "treasury"
)

// Clock is the shared, manually advanced time source of a World.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// WorldConfig sizes a World.
type WorldConfig struct {
	Owners         int
	Renters        int
	AssetsPerOwner int
	// Journal, when set, receives every event next to the in-memory copy.
	Journal timeline.Recorder
	Log     logrus.FieldLogger
}

// World is a fully wired rental system plus the tallies the oracles need
// to account for every unit of currency that entered it.
type World struct {
	Clock    *Clock
	Payer    *ledger.WalletPayer
	Ledger   *ledger.Ledger
	Assets   *custody.MemoryRegistry
	Receipts *receipt.Book
	Rentals  *rental.Service
	Disputes *dispute.Resolver
	Events   *timeline.MemoryRecorder

	Owners  []ledger.Address
	Renters []ledger.Address

	inflow atomic.Uint64
	lost   atomic.Uint64
}

func NewWorld(cfg WorldConfig) (*World, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	clock := NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	events := timeline.NewMemoryRecorder()

	var recorder timeline.Recorder = events
	if cfg.Journal != nil {
		recorder = tee{events, cfg.Journal}
	}
	journal := timeline.NewJournal(recorder, log).WithClock(clock.Now)

	payer := ledger.NewWalletPayer()
	led := ledger.New(Authority, payer, journal, log)
	if err := led.SetServiceFeeRatio(context.Background(), Authority, 10); err != nil {
		return nil, err
	}

	assets := custody.NewMemoryRegistry()
	receipts := receipt.NewBook("receipts")
	directory := custody.NewDirectory()
	directory.Add(Collection, assets)
	directory.Add(receipts.Name(), receipts)

	rentals := rental.NewService(custody.NewAdapter(directory, Registry), receipts, led, journal, log).
		WithClock(clock.Now)

	w := &World{
		Clock:    clock,
		Payer:    payer,
		Ledger:   led,
		Assets:   assets,
		Receipts: receipts,
		Rentals:  rentals,
		Disputes: dispute.NewResolver(rentals, led, journal, log),
		Events:   events,
	}
	for i := 0; i < cfg.Owners; i++ {
		owner := ledger.Address(fmt.Sprintf("owner-%d", i))
		w.Owners = append(w.Owners, owner)
		for j := 0; j < cfg.AssetsPerOwner; j++ {
			id := fmt.Sprintf("%d-%d", i, j)
			if err := assets.Mint(id, owner, "ipfs://"+id); err != nil {
				return nil, err
			}
		}
	}
	for i := 0; i < cfg.Renters; i++ {
		w.Renters = append(w.Renters, ledger.Address(fmt.Sprintf("renter-%d", i)))
	}
	return w, nil
}

// Inflow is the total the system has accepted: upfronts and penalty repayments.
func (w *World) Inflow() ledger.Amount {
	return ledger.Amount(w.inflow.Load())
}

// Lost is the total released by a committed transition whose payment was
// never delivered. Failed withdrawals are restored and never count.
func (w *World) Lost() ledger.Amount {
	return ledger.Amount(w.lost.Load())
}

func (w *World) accept(amount ledger.Amount) {
	w.inflow.Add(uint64(amount))
}

func (w *World) recordFailures(err error) {
	for _, pe := range ledger.PaymentErrors(err) {
		if strings.HasPrefix(pe.Operation, "withdraw_") {
			continue
		}
		w.lost.Add(uint64(pe.Amount))
	}
}

// Parties lists every address that can receive a payment.
func (w *World) Parties() []ledger.Address {
	out := make([]ledger.Address, 0, len(w.Owners)+len(w.Renters)+2)
	out = append(out, w.Owners...)
	out = append(out, w.Renters...)
	return append(out, Authority, Treasury)
}

// Positions returns every live position in ID order.
func (w *World) Positions(ctx context.Context, filters rental.Filters) ([]rental.Wrap, error) {
	filters.PageSize = 100
	var out []rental.Wrap
	for page := 1; ; page++ {
		filters.Page = page
		items, total, err := w.Rentals.List(ctx, filters)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if len(items) == 0 || len(out) >= total {
			return out, nil
		}
	}
}

func custodyRef(assetID string) custody.AssetRef {
	return custody.AssetRef{Collection: Collection, AssetID: assetID}
}

type tee []timeline.Recorder

func (t tee) Record(ctx context.Context, ev timeline.Event) error {
	var errs []error
	for _, r := range t {
		errs = append(errs, r.Record(ctx, ev))
	}
	return errors.Join(errs...)
}
