package custody

import (
	"context"
	"fmt"

	"rentflow/ledger"
)

// Adapter moves assets between their holders and the custodian address.
type Adapter struct {
	directory *Directory
	custodian ledger.Address
}

func NewAdapter(directory *Directory, custodian ledger.Address) *Adapter {
	return &Adapter{directory: directory, custodian: custodian}
}

// Custodian is the address escrowed assets are held by.
func (a *Adapter) Custodian() ledger.Address {
	return a.custodian
}

// OwnerOf reports the current holder of ref.
func (a *Adapter) OwnerOf(ctx context.Context, ref AssetRef) (ledger.Address, error) {
	reg, err := a.directory.Lookup(ref.Collection)
	if err != nil {
		return "", err
	}
	holder, err := reg.OwnerOf(ctx, ref.AssetID)
	if err != nil {
		return "", fmt.Errorf("custody: owner of %s: %w", ref, err)
	}
	return holder, nil
}

// Deposit pulls ref from its holder into custody.
func (a *Adapter) Deposit(ctx context.Context, ref AssetRef, from ledger.Address) error {
	reg, err := a.directory.Lookup(ref.Collection)
	if err != nil {
		return err
	}
	if err := reg.Transfer(ctx, from, a.custodian, ref.AssetID); err != nil {
		return fmt.Errorf("custody: deposit %s: %w", ref, err)
	}
	return nil
}

// Release hands ref from custody to to.
func (a *Adapter) Release(ctx context.Context, ref AssetRef, to ledger.Address) error {
	reg, err := a.directory.Lookup(ref.Collection)
	if err != nil {
		return err
	}
	if err := reg.Transfer(ctx, a.custodian, to, ref.AssetID); err != nil {
		return fmt.Errorf("custody: release %s: %w", ref, err)
	}
	return nil
}

// Resolves reports whether collection is served by registry itself,
// whatever name it was added under.
func (a *Adapter) Resolves(collection string, registry AssetRegistry) bool {
	reg, err := a.directory.Lookup(collection)
	return err == nil && reg == registry
}

func (a *Adapter) MetadataURI(ctx context.Context, ref AssetRef) (string, error) {
	reg, err := a.directory.Lookup(ref.Collection)
	if err != nil {
		return "", err
	}
	uri, err := reg.MetadataURI(ctx, ref.AssetID)
	if err != nil {
		return "", fmt.Errorf("custody: metadata of %s: %w", ref, err)
	}
	return uri, nil
}
