package ledger

import (
	"context"
	"errors"
	"sync"
)

// ErrReentrantCall is returned when a guarded entry point is entered again
// from inside a payment it is making.
var ErrReentrantCall = errors.New("ledger: reentrant call")

type guardKey struct{}

// Guard serialises the entry points that pay out. The context returned by
// Enter is handed to the Payer; a payee that calls back into a guarded entry
// point with it is rejected instead of deadlocking.
type Guard struct {
	mu sync.Mutex
}

// Enter acquires the guard. The release func must be called on every path.
func (g *Guard) Enter(ctx context.Context) (context.Context, func(), error) {
	if held, _ := ctx.Value(guardKey{}).(*Guard); held == g {
		return ctx, func() {}, ErrReentrantCall
	}
	g.mu.Lock()
	var once sync.Once
	return context.WithValue(ctx, guardKey{}, g), func() { once.Do(g.mu.Unlock) }, nil
}
