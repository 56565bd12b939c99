package custody

import (
	"context"
	"sort"
	"sync"

	"rentflow/ledger"
)

// MemoryRegistry is an in-process asset registry.
type MemoryRegistry struct {
	mu     sync.Mutex
	owners map[string]ledger.Address
	uris   map[string]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		owners: make(map[string]ledger.Address),
		uris:   make(map[string]string),
	}
}

// Mint creates assetID held by owner.
func (m *MemoryRegistry) Mint(assetID string, owner ledger.Address, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.owners[assetID]; ok {
		return ErrAssetExists
	}
	m.owners[assetID] = owner
	m.uris[assetID] = uri
	return nil
}

func (m *MemoryRegistry) OwnerOf(_ context.Context, assetID string) (ledger.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[assetID]
	if !ok {
		return "", ErrAssetNotFound
	}
	return owner, nil
}

func (m *MemoryRegistry) Transfer(_ context.Context, from, to ledger.Address, assetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[assetID]
	if !ok {
		return ErrAssetNotFound
	}
	if owner != from {
		return ErrNotHolder
	}
	m.owners[assetID] = to
	return nil
}

func (m *MemoryRegistry) MetadataURI(_ context.Context, assetID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.owners[assetID]; !ok {
		return "", ErrAssetNotFound
	}
	return m.uris[assetID], nil
}

// HoldingsOf lists the assets held by addr in ascending order.
func (m *MemoryRegistry) HoldingsOf(addr ledger.Address) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, owner := range m.owners {
		if owner == addr {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
