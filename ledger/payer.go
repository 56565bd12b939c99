package ledger

import (
	"context"
	"errors"
	"sync"
)

// Payer delivers funds held by the system to an external party.
type Payer interface {
	Pay(ctx context.Context, to Address, amount Amount) error
}

// PayerFunc adapts a function to the Payer interface.
type PayerFunc func(ctx context.Context, to Address, amount Amount) error

func (f PayerFunc) Pay(ctx context.Context, to Address, amount Amount) error {
	return f(ctx, to, amount)
}

// ErrRecipientRejected is returned by WalletPayer for blocked recipients.
var ErrRecipientRejected = errors.New("ledger: recipient rejected payment")

// WalletPayer settles payments into in-process wallets. Recipients can be
// blocked to simulate a receiving side that refuses funds.
type WalletPayer struct {
	mu      sync.Mutex
	wallets map[Address]Amount
	blocked map[Address]bool
}

func NewWalletPayer() *WalletPayer {
	return &WalletPayer{
		wallets: make(map[Address]Amount),
		blocked: make(map[Address]bool),
	}
}

func (w *WalletPayer) Pay(_ context.Context, to Address, amount Amount) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.blocked[to] {
		return ErrRecipientRejected
	}
	w.wallets[to] += amount
	return nil
}

// Block makes every later payment to addr fail until Unblock.
func (w *WalletPayer) Block(addr Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.blocked[addr] = true
}

func (w *WalletPayer) Unblock(addr Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.blocked, addr)
}

// Balance returns the total delivered to addr.
func (w *WalletPayer) Balance(addr Address) Amount {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wallets[addr]
}

// Delivered returns the total paid into every wallet.
func (w *WalletPayer) Delivered() Amount {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total Amount
	for _, amount := range w.wallets {
		total += amount
	}
	return total
}
