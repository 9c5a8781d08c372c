// Package limiter bounds the number of cells executing at once.
package limiter

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter admits work while fewer than Limit() slots are held. Every successful
// TryAdmit must be paired with exactly one Release, on every exit path.
type Limiter struct {
	sem      *semaphore.Weighted
	limit    int
	inFlight atomic.Int64
}

func New(limit int) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// TryAdmit takes a slot without blocking.
func (l *Limiter) TryAdmit() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.inFlight.Add(1)
	return true
}

// Release returns a slot. Releasing more slots than were admitted panics.
func (l *Limiter) Release() {
	if l.inFlight.Add(-1) < 0 {
		l.inFlight.Add(1)
		panic("limiter: release without matching admit")
	}
	l.sem.Release(1)
}

func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

func (l *Limiter) Limit() int {
	return l.limit
}
