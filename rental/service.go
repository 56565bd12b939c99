// Package rental implements the wrap registry and the rental lifecycle:
// FREE, REQUEST_PENDING, RENTED and VIOLATED, with funds posted into the
// ledger at every transition that disposes of an upfront.
package rental

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rentflow/custody"
	"rentflow/ledger"
	"rentflow/receipt"
	"rentflow/timeline"
)

// Service owns every position. A single mutex gives all mutations one
// global order; payments leave the system only after the lock is released.
type Service struct {
	mu        sync.Mutex
	positions map[PositionID]*Wrap
	lastID    PositionID

	registry ledger.Address
	custody  *custody.Adapter
	receipts *receipt.Book
	ledger   *ledger.Ledger
	journal  *timeline.Journal
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewService wires the registry. The custody adapter's custodian address
// doubles as the registry address receipts are minted to. NewService
// installs its transfer guard and metadata resolver on receipts.
func NewService(adapter *custody.Adapter, receipts *receipt.Book, led *ledger.Ledger, journal *timeline.Journal, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Service{
		positions: make(map[PositionID]*Wrap),
		registry:  adapter.Custodian(),
		custody:   adapter,
		receipts:  receipts,
		ledger:    led,
		journal:   journal,
		log:       log.WithField("component", "rental"),
		now:       time.Now,
	}
	receipts.SetGuard(s.authorizeReceiptTransfer)
	receipts.SetMetadataResolver(s.receiptMetadata)
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RegistryAddress is the holder of every receipt not lent to a renter.
func (s *Service) RegistryAddress() ledger.Address {
	return s.registry
}

func (s *Service) lookupLocked(id PositionID) (*Wrap, error) {
	w, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPosition, id)
	}
	return w, nil
}

func (s *Service) emit(ctx context.Context, t timeline.EventType, id PositionID, actor ledger.Address, payload map[string]any) {
	s.journal.Emit(ctx, timeline.Event{
		PositionID: uint64(id),
		Type:       t,
		Actor:      string(actor),
		Payload:    payload,
	})
}

// authorizeReceiptTransfer guards transfers requested from outside the
// lifecycle. The registry's own receipts only move through transitions.
func (s *Service) authorizeReceiptTransfer(_ context.Context, id uint64, from, to ledger.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.lookupLocked(PositionID(id))
	if err != nil {
		return err
	}
	if from == s.registry {
		return ErrReceiptLocked
	}
	status := DeriveStatus(*w, s.now())
	if !receiptEdgeAllowed(status, s.registry, w.Renter, from, to) {
		return fmt.Errorf("%w: %s", ErrReceiptLocked, status)
	}
	return nil
}

func (s *Service) receiptMetadata(ctx context.Context, id uint64) (string, error) {
	s.mu.Lock()
	w, err := s.lookupLocked(PositionID(id))
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	ref := w.Asset
	s.mu.Unlock()

	return s.custody.MetadataURI(ctx, ref)
}

// moveReceiptLocked validates the edge against the status w has right now
// and moves the receipt.
func (s *Service) moveReceiptLocked(w *Wrap, renter, from, to ledger.Address) error {
	status := DeriveStatus(*w, s.now())
	if !receiptEdgeAllowed(status, s.registry, renter, from, to) {
		return fmt.Errorf("%w: %s -> %s in %s", ErrReceiptLocked, from, to, status)
	}
	return s.receipts.Move(uint64(w.ID), from, to)
}

func positionField(id PositionID) string {
	return strconv.FormatUint(uint64(id), 10)
}
