// Package worker holds the worker process's runtime pieces: the compute
// offload pool, prover warm-up and the gRPC health endpoint.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"

	"distributed-prover/internal/metrics"
)

// ErrOffloaderClosed is returned by Do after Close.
var ErrOffloaderClosed = errors.New("offloader is closed")

type task struct {
	fn   func() error
	done chan error
}

// Offloader runs CPU-bound calls on a fixed set of goroutines, each locked
// to its own OS thread, so that long proofs never occupy the goroutines
// serving requests.
type Offloader struct {
	tasks  chan task
	quit   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewOffloader starts slots pool goroutines.
func NewOffloader(slots int, logger *slog.Logger) (*Offloader, error) {
	if slots <= 0 {
		return nil, fmt.Errorf("compute slots must be positive, got %d", slots)
	}
	o := &Offloader{
		tasks:  make(chan task),
		quit:   make(chan struct{}),
		logger: logger.With("component", "offloader"),
	}
	o.wg.Add(slots)
	for i := 0; i < slots; i++ {
		go o.loop(i)
	}
	o.logger.Info("offloader started", "slots", slots)
	return o, nil
}

func (o *Offloader) loop(slot int) {
	defer o.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case t := <-o.tasks:
			t.done <- o.run(slot, t.fn)
		case <-o.quit:
			return
		}
	}
}

func (o *Offloader) run(slot int, fn func() error) (err error) {
	metrics.ComputeInFlight.Inc()
	defer metrics.ComputeInFlight.Dec()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("compute panicked", "slot", slot, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("compute panicked: %v", r)
		}
	}()
	return fn()
}

// Do runs fn on a pool goroutine and waits for it. If ctx ends first, Do
// returns ctx.Err() at once; fn still runs to completion and its result is
// dropped, so fn must not touch state the caller owns afterwards.
func (o *Offloader) Do(ctx context.Context, fn func() error) error {
	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case o.tasks <- t:
	case <-o.quit:
		return ErrOffloaderClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits for running calls to finish.
func (o *Offloader) Close() {
	o.once.Do(func() { close(o.quit) })
	o.wg.Wait()
}
