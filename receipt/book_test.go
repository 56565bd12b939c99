package receipt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentflow/ledger"
)

func TestBook_MintMoveBurn(t *testing.T) {
	b := NewBook("receipts")

	require.NoError(t, b.Mint(1, "registry"))
	require.ErrorIs(t, b.Mint(1, "registry"), ErrExists)

	require.ErrorIs(t, b.Move(1, "renter", "registry"), ErrNotHolder)
	require.NoError(t, b.Move(1, "registry", "renter"))

	holder, err := b.HolderOf(1)
	require.NoError(t, err)
	assert.Equal(t, ledger.Address("renter"), holder)
	assert.Equal(t, []uint64{1}, b.HoldingsOf("renter"))

	require.NoError(t, b.Burn(1))
	require.ErrorIs(t, b.Burn(1), ErrNotFound)
	assert.Zero(t, b.Count())
}

func TestBook_TransferConsultsGuard(t *testing.T) {
	b := NewBook("receipts")
	require.NoError(t, b.Mint(7, "registry"))

	denied := errors.New("position is rented")
	b.SetGuard(func(_ context.Context, id uint64, from, to ledger.Address) error {
		if to == "thief" {
			return denied
		}
		return nil
	})

	ctx := context.Background()
	err := b.Transfer(ctx, "registry", "thief", "7")
	require.ErrorIs(t, err, ErrTransferGuard)
	holder, _ := b.HolderOf(7)
	assert.Equal(t, ledger.Address("registry"), holder)

	require.NoError(t, b.Transfer(ctx, "registry", "renter", "7"))
	owner, err := b.OwnerOf(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, ledger.Address("renter"), owner)

	require.ErrorIs(t, b.Transfer(ctx, "renter", "registry", "x7"), ErrInvalidID)
}

func TestBook_MetadataDelegates(t *testing.T) {
	b := NewBook("receipts")
	require.NoError(t, b.Mint(3, "registry"))
	b.SetMetadataResolver(func(_ context.Context, id uint64) (string, error) {
		return "ipfs://asset-for-3", nil
	})

	uri, err := b.MetadataURI(context.Background(), "3")
	require.NoError(t, err)
	assert.Equal(t, "ipfs://asset-for-3", uri)

	_, err = b.MetadataURI(context.Background(), "4")
	require.ErrorIs(t, err, ErrNotFound)
}
