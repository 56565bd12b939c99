// Package receipt tracks custody receipts: one transferable token per
// escrowed position whose holder is either the registry or the renter.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"rentflow/ledger"
)

var (
	ErrNotFound      = errors.New("receipt: not found")
	ErrExists        = errors.New("receipt: already minted")
	ErrNotHolder     = errors.New("receipt: sender does not hold receipt")
	ErrInvalidID     = errors.New("receipt: invalid id")
	ErrTransferGuard = errors.New("receipt: transfer not permitted")
)

// Guard decides whether a receipt may move from one holder to another.
type Guard func(ctx context.Context, id uint64, from, to ledger.Address) error

// MetadataResolver returns the metadata URI of the asset behind a receipt.
type MetadataResolver func(ctx context.Context, id uint64) (string, error)

// Book is the receipt ledger. It satisfies custody.AssetRegistry so that a
// receipt can be recognised, and refused, when offered for escrow.
type Book struct {
	mu       sync.Mutex
	name     string
	holders  map[uint64]ledger.Address
	guard    Guard
	metadata MetadataResolver
}

func NewBook(name string) *Book {
	return &Book{name: name, holders: make(map[uint64]ledger.Address)}
}

// Name is the collection name receipts are listed under.
func (b *Book) Name() string {
	return b.name
}

// SetGuard installs the check applied to Transfer.
func (b *Book) SetGuard(g Guard) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.guard = g
}

func (b *Book) SetMetadataResolver(r MetadataResolver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metadata = r
}

// Mint issues receipt id to to.
func (b *Book) Mint(id uint64, to ledger.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.holders[id]; ok {
		return fmt.Errorf("%w: %d", ErrExists, id)
	}
	b.holders[id] = to
	return nil
}

// Burn destroys receipt id.
func (b *Book) Burn(id uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.holders[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	delete(b.holders, id)
	return nil
}

// Move changes the holder of id without consulting the guard. It is meant
// for the state machine that owns the receipts and has already validated
// the edge.
func (b *Book) Move(id uint64, from, to ledger.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.moveLocked(id, from, to)
}

func (b *Book) moveLocked(id uint64, from, to ledger.Address) error {
	holder, ok := b.holders[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if holder != from {
		return fmt.Errorf("%w: %d held by %s", ErrNotHolder, id, holder)
	}
	b.holders[id] = to
	return nil
}

// HolderOf returns the current holder of id.
func (b *Book) HolderOf(id uint64) (ledger.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	holder, ok := b.holders[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return holder, nil
}

// HoldingsOf lists the receipts held by addr in ascending order.
func (b *Book) HoldingsOf(addr ledger.Address) []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []uint64
	for id, holder := range b.holders {
		if holder == addr {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Count returns the number of live receipts.
func (b *Book) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.holders)
}

func (b *Book) OwnerOf(_ context.Context, assetID string) (ledger.Address, error) {
	id, err := parseID(assetID)
	if err != nil {
		return "", err
	}
	return b.HolderOf(id)
}

// Transfer is the externally reachable move. The guard runs before the
// book lock is taken so it may consult other state.
func (b *Book) Transfer(ctx context.Context, from, to ledger.Address, assetID string) error {
	id, err := parseID(assetID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	guard := b.guard
	b.mu.Unlock()

	if guard != nil {
		if err := guard(ctx, id, from, to); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferGuard, err)
		}
	}
	return b.Move(id, from, to)
}

func (b *Book) MetadataURI(ctx context.Context, assetID string) (string, error) {
	id, err := parseID(assetID)
	if err != nil {
		return "", err
	}
	if _, err := b.HolderOf(id); err != nil {
		return "", err
	}

	b.mu.Lock()
	resolver := b.metadata
	b.mu.Unlock()

	if resolver == nil {
		return "", nil
	}
	return resolver(ctx, id)
}

func parseID(assetID string) (uint64, error) {
	id, err := strconv.ParseUint(assetID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, assetID)
	}
	return id, nil
}
