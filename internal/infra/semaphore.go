package infra

import (
	"context"
	"sync"
	"time"
)

// Semaphore is a weighted semaphore for limiting concurrent access to
// resources. Unlike a simple mutex, it allows multiple concurrent
// acquisitions up to a limit, and each acquisition can request a different
// number of permits (weight).
type Semaphore struct {
	mu       sync.Mutex
	cond     *sync.Cond
	max      int64
	current  int64
	waiters  int
	acquired int64
	released int64
	timedOut int64
}

// NewSemaphore creates a new semaphore with the given maximum permits.
func NewSemaphore(max int64) *Semaphore {
	if max <= 0 {
		max = 1
	}
	s := &Semaphore{max: max}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Acquire blocks until n permits are available or ctx is cancelled.
func (s *Semaphore) Acquire(ctx context.Context, n int64) error {
	if n <= 0 {
		return nil
	}
	if n > s.max {
		n = s.max
	}

	s.mu.Lock()
	if s.tryTakeLocked(n) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.waitForLocked(ctx, n)
}

// tryTakeLocked takes n permits if currently available. Callers must hold s.mu.
func (s *Semaphore) tryTakeLocked(n int64) bool {
	if s.waiters > 0 || s.current+n > s.max {
		return false
	}
	s.current += n
	s.acquired++
	return true
}

// waitForLocked parks the caller on s.cond until n permits free up or ctx is
// cancelled. A goroutine watches ctx and broadcasts the condition on
// cancellation so the waiting loop wakes up and exits instead of blocking
// forever past the deadline.
func (s *Semaphore) waitForLocked(ctx context.Context, n int64) error {
	s.mu.Lock()
	s.waiters++

	done := make(chan struct{})
	cancelled := false
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			cancelled = true
			s.timedOut++
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()

	for {
		if cancelled {
			s.waiters--
			s.mu.Unlock()
			close(done)
			return ctx.Err()
		}
		if s.current+n <= s.max {
			s.current += n
			s.acquired++
			s.waiters--
			s.mu.Unlock()
			close(done)
			return nil
		}
		s.cond.Wait()
	}
}

// TryAcquire attempts to acquire n permits without blocking.
func (s *Semaphore) TryAcquire(n int64) bool {
	if n <= 0 {
		return true
	}
	if n > s.max {
		n = s.max
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current+n <= s.max {
		s.current += n
		s.acquired++
		return true
	}
	return false
}

// AcquireWithTimeout attempts to acquire n permits with a timeout.
func (s *Semaphore) AcquireWithTimeout(n int64, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Acquire(ctx, n)
}

// Release releases n permits back to the semaphore. It is safe to call
// Release more times than Acquire; the semaphore floors at zero.
func (s *Semaphore) Release(n int64) {
	if n <= 0 {
		return
	}

	s.mu.Lock()
	s.current -= n
	if s.current < 0 {
		s.current = 0
	}
	s.released++
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Available returns the number of permits currently available.
func (s *Semaphore) Available() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max - s.current
}

// InUse returns the number of permits currently in use.
func (s *Semaphore) InUse() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Waiters returns the number of goroutines currently waiting to acquire.
func (s *Semaphore) Waiters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters
}

// Stats returns statistics about the semaphore.
func (s *Semaphore) Stats() SemaphoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SemaphoreStats{
		Max:       s.max,
		InUse:     s.current,
		Available: s.max - s.current,
		Waiters:   s.waiters,
		Acquired:  s.acquired,
		Released:  s.released,
		TimedOut:  s.timedOut,
	}
}

// SemaphoreStats contains statistics about a semaphore.
type SemaphoreStats struct {
	Max       int64
	InUse     int64
	Available int64
	Waiters   int
	Acquired  int64
	Released  int64
	TimedOut  int64
}

// SemaphorePool manages named semaphores for different resources, creating
// each lazily on first Get/GetOrCreate.
type SemaphorePool struct {
	mu         sync.RWMutex
	semaphores map[string]*Semaphore
	defaultMax int64
}

// NewSemaphorePool creates a new semaphore pool with a default max permits.
func NewSemaphorePool(defaultMax int64) *SemaphorePool {
	if defaultMax <= 0 {
		defaultMax = 10
	}
	return &SemaphorePool{
		semaphores: make(map[string]*Semaphore),
		defaultMax: defaultMax,
	}
}

// Get returns the semaphore for the given name, creating it with the pool's
// default max if necessary.
func (p *SemaphorePool) Get(name string) *Semaphore {
	p.mu.RLock()
	sem, ok := p.semaphores[name]
	p.mu.RUnlock()
	if ok {
		return sem
	}
	return p.GetOrCreate(name, p.defaultMax)
}

// GetOrCreate returns the semaphore for the given name with a specific max,
// which only takes effect on first creation.
func (p *SemaphorePool) GetOrCreate(name string, max int64) *Semaphore {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sem, ok := p.semaphores[name]; ok {
		return sem
	}
	sem := NewSemaphore(max)
	p.semaphores[name] = sem
	return sem
}

// Acquire acquires n permits from the named semaphore.
func (p *SemaphorePool) Acquire(ctx context.Context, name string, n int64) error {
	return p.Get(name).Acquire(ctx, n)
}

// Release releases n permits to the named semaphore, if it exists.
func (p *SemaphorePool) Release(name string, n int64) {
	p.mu.RLock()
	sem, ok := p.semaphores[name]
	p.mu.RUnlock()
	if ok {
		sem.Release(n)
	}
}

// Stats returns statistics for all semaphores in the pool.
func (p *SemaphorePool) Stats() map[string]SemaphoreStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := make(map[string]SemaphoreStats, len(p.semaphores))
	for name, sem := range p.semaphores {
		stats[name] = sem.Stats()
	}
	return stats
}
