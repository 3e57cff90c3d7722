package service

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MarketMutex serializes mutations per prediction within this process
// instance. It is advisory only: horizontal scaling needs row-level DB
// locking or a distributed lock before a second instance may mutate the
// same market.
type MarketMutex struct {
	mu    sync.Mutex
	slots map[uint64]chan struct{}
}

func NewMarketMutex() *MarketMutex {
	return &MarketMutex{slots: make(map[uint64]chan struct{})}
}

func (m *MarketMutex) slot(predictionID uint64) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[predictionID]
	if !ok {
		s = make(chan struct{}, 1)
		m.slots[predictionID] = s
	}
	return s
}

// Acquire blocks until the market slot is free, the timeout elapses or ctx
// is cancelled. On success the returned release func must be called on every
// exit path.
func (m *MarketMutex) Acquire(ctx context.Context, predictionID uint64, timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := m.slot(predictionID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-s })
		}, nil
	case <-timer.C:
		return nil, fmt.Errorf("market %d mutation lock: acquire timed out", predictionID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
