// Package limiter implements the resource limiter: two independently
// resizable counting semaphores (one-shot and persistent process permits)
// and the maybe-idle guard used to avoid write-ordering deadlocks.
package limiter

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Unlimited, when passed to SetLimit, removes the cap entirely.
const Unlimited = -1

// ErrTimeout is returned by Acquire when the timeout elapses first.
var ErrTimeout = errors.New("limiter: acquire timed out")

// Semaphore is a dynamically resizable counting semaphore. Unlike
// golang.org/x/sync/semaphore, SetLimit can grow (or unlimit) the
// capacity at runtime and wakes every blocked waiter when it does, which
// the engine needs when a caller changes execution_permits mid-run.
type Semaphore struct {
	mu      sync.Mutex
	cond    *sync.Cond
	limit   int // Unlimited means no cap.
	inUse   int
}

// NewSemaphore creates a semaphore with the given initial limit (use
// Unlimited for no cap).
func NewSemaphore(limit int) *Semaphore {
	s := &Semaphore{limit: limit}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Acquire blocks until a permit is available, the timeout elapses (timeout
// <= 0 means wait forever), or ctx is canceled.
func (s *Semaphore) Acquire(ctx context.Context, timeout time.Duration) error {
	done := make(chan struct{})
	var timedOut bool
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			timedOut = true
			s.cond.Broadcast()
		})
		defer timer.Stop()
	}
	go func() {
		select {
		case <-ctx.Done():
			s.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.limit == Unlimited || s.inUse < s.limit {
			s.inUse++
			return nil
		}
		if timedOut {
			return ErrTimeout
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.cond.Wait()
	}
}

// Release returns one permit, waking a waiter if any are blocked.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse == 0 {
		panic("limiter: release called with no permits in use")
	}
	s.inUse--
	s.cond.Broadcast()
}

// SetLimit changes the semaphore's capacity. Increasing the limit (or
// setting it to Unlimited) wakes every blocked waiter.
func (s *Semaphore) SetLimit(limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grew := limit == Unlimited || limit > s.limit
	s.limit = limit
	if grew {
		s.cond.Broadcast()
	}
}

// MaybeIdle releases the held permit, runs fn (presumably a blocking wait
// on another task's progress), then reacquires a permit before returning.
// This is the engine's only deadlock-avoidance mechanism for
// write-ordering deadlocks: a task that would otherwise hold a permit
// while waiting forever on a sibling frees it up for that sibling to make
// progress.
func (s *Semaphore) MaybeIdle(ctx context.Context, fn func() error) error {
	s.Release()
	err := fn()
	if acqErr := s.Acquire(ctx, 0); acqErr != nil && err == nil {
		err = acqErr
	}
	return err
}

// Limiter bundles the engine's two independent permit pools.
type Limiter struct {
	OneShot    *Semaphore
	Persistent *Semaphore
}

// New creates a Limiter with the given initial permit counts.
func New(oneShot, persistent int) *Limiter {
	return &Limiter{OneShot: NewSemaphore(oneShot), Persistent: NewSemaphore(persistent)}
}
