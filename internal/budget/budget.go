// Package budget caps the number of chunk-transfer lanes active at once
// across every transfer in the process.
package budget

import (
	"context"
	"fmt"
	"sync"

	"distributed-prover/internal/metrics"

	"golang.org/x/sync/semaphore"
)

// DefaultCapacity is used when configuration does not supply a capacity.
const DefaultCapacity = 32

// Budget is a fixed-capacity permit pool shared by all transfers.
type Budget struct {
	capacity int
	sem      *semaphore.Weighted

	mu        sync.Mutex
	active    int
	highWater int
}

// New creates a budget with the given capacity.
func New(capacity int) (*Budget, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("concurrency budget capacity must be positive, got %d", capacity)
	}
	return &Budget{
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
	}, nil
}

// Capacity returns the configured number of permits.
func (b *Budget) Capacity() int {
	return b.capacity
}

// Acquire blocks until a permit is available or ctx is done. There is no
// timeout of its own; a saturated budget queues callers.
func (b *Budget) Acquire(ctx context.Context) error {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire transfer permit: %w", err)
	}
	b.mu.Lock()
	b.active++
	if b.active > b.highWater {
		b.highWater = b.active
	}
	b.mu.Unlock()
	metrics.TransferLanesActive.Inc()
	return nil
}

// Release returns a permit taken by Acquire.
func (b *Budget) Release() {
	b.mu.Lock()
	b.active--
	b.mu.Unlock()
	metrics.TransferLanesActive.Dec()
	b.sem.Release(1)
}

// Active returns the number of permits currently held.
func (b *Budget) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// HighWater returns the largest number of permits ever held at once.
func (b *Budget) HighWater() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.highWater
}
