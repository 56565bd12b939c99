// Package custody adapts external asset registries: ownership queries,
// transfers in and out of escrow, and metadata lookup.
package custody

import (
	"context"
	"errors"

	"rentflow/ledger"
)

var (
	// ErrUnknownCollection signals no registry is known under the collection name.
	ErrUnknownCollection = errors.New("custody: unknown collection")
	// ErrAssetNotFound signals the registry has no such asset.
	ErrAssetNotFound = errors.New("custody: asset not found")
	// ErrNotHolder signals a transfer from a party that does not hold the asset.
	ErrNotHolder = errors.New("custody: sender does not hold asset")
	// ErrAssetExists signals an asset ID is already minted.
	ErrAssetExists = errors.New("custody: asset already exists")
)

// AssetRegistry is the capability every escrowable asset type exposes.
type AssetRegistry interface {
	OwnerOf(ctx context.Context, assetID string) (ledger.Address, error)
	Transfer(ctx context.Context, from, to ledger.Address, assetID string) error
	MetadataURI(ctx context.Context, assetID string) (string, error)
}

// AssetRef identifies an escrowed item: the registry it lives in and its ID there.
type AssetRef struct {
	Collection string
	AssetID    string
}

func (r AssetRef) String() string {
	return r.Collection + "/" + r.AssetID
}
