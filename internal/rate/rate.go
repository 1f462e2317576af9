// Package rate implements the per-client request throttle the event loop
// consults before dispatching a decoded request (spec §1 ADD), replacing
// the teacher's hand-rolled token buckets (internal/single/limits,
// internal/shared/limits) with golang.org/x/time/rate.
package rate

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter tracks one token-bucket limiter per client fd. Its only caller is
// the single-threaded event loop (spec §5), so no internal locking is needed
// on that path; the mutex makes Allow and Remove safe for concurrent use
// regardless.
type Limiter struct {
	rps   rate.Limit
	burst int

	mu    sync.Mutex
	perFD map[int]*rate.Limiter
}

// New builds a per-client limiter allowing rps requests/sec with the given
// burst, applied independently to every client fd.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		rps:   rate.Limit(rps),
		burst: burst,
		perFD: make(map[int]*rate.Limiter),
	}
}

// Allow reports whether fd may dispatch one more request right now.
func (l *Limiter) Allow(fd int) bool {
	l.mu.Lock()
	lim, ok := l.perFD[fd]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.perFD[fd] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Remove drops fd's limiter on disconnect, matching the client table's
// eviction lifecycle (spec §4.4).
func (l *Limiter) Remove(fd int) {
	l.mu.Lock()
	delete(l.perFD, fd)
	l.mu.Unlock()
}
