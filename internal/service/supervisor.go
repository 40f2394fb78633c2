package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/timmy/papershelf/internal/logger"
	"golang.org/x/sync/semaphore"
)

// ErrShuttingDown is returned when work is submitted after Shutdown began.
var ErrShuttingDown = errors.New("supervisor is shutting down")

// Supervisor runs background jobs detached from the request that started
// them. It tracks every job for graceful shutdown and bounds the number of
// concurrent extractions.
type Supervisor struct {
	wg     sync.WaitGroup
	slots  *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewSupervisor creates a supervisor allowing workers concurrent extractions.
// Values below 1 are treated as 1.
func NewSupervisor(workers int) *Supervisor {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		slots:  semaphore.NewWeighted(int64(workers)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs fn on its own goroutine. The job context keeps the logger of
// parent but not its cancellation; it is cancelled only when Shutdown gives
// up waiting. A panic in fn is recovered and passed to onPanic.
func (s *Supervisor) Go(parent context.Context, fn func(ctx context.Context), onPanic func(recovered interface{})) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	ctx := logger.FromContext(parent).WithContext(s.ctx)

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.FromContext(ctx).WithFields(logger.Fields{
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("Background job panicked")
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn(ctx)
	}()
	return nil
}

// Acquire blocks until an extraction slot is free. The returned release
// function must be called exactly once.
func (s *Supervisor) Acquire(ctx context.Context) (release func(), err error) {
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { s.slots.Release(1) }) }, nil
}

// Wait blocks until all submitted jobs have returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Shutdown stops accepting jobs and waits for running ones. When ctx ends
// first, running jobs are cancelled and ctx.Err() is returned once they exit.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
