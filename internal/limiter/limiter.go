// Package limiter bounds the number of concurrently served generation
// requests. Supports both in-memory (single instance) and Redis
// (shared budget across instances) backends.
package limiter

import (
	"context"
	"sync"

	"github.com/talentai/llm-gateway/internal/domain"
)

// Limiter admits requests up to a fixed concurrency budget. Acquire
// either returns a release function or ErrTooManyRequests; it never
// queues, because a queued generation request would only add latency
// the caller can see anyway.
type Limiter interface {
	Acquire(ctx context.Context) (release func(), err error)
	InFlight() int
}

// Semaphore is the in-memory implementation.
type Semaphore struct {
	mu       sync.Mutex
	max      int
	inFlight int
}

func NewSemaphore(maxConcurrent int) *Semaphore {
	return &Semaphore{max: maxConcurrent}
}

func (s *Semaphore) Acquire(ctx context.Context) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight >= s.max {
		return nil, domain.ErrTooManyRequests
	}
	s.inFlight++

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.inFlight--
			s.mu.Unlock()
		})
	}, nil
}

func (s *Semaphore) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}
