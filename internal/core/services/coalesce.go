package services

import (
	"sync"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
)

// outcome is what every waiter on a coalesced operation receives.
type outcome struct {
	rec domain.FeatureRecord
	err error
}

// coalescer shares one in-flight resolution per track id among concurrent
// callers. The first caller for a key becomes the owner and must call
// complete exactly once; every caller, owner included, receives the outcome
// on its own buffered channel. Keys are released on completion.
type coalescer struct {
	mu       sync.Mutex
	inflight map[string][]chan outcome
}

func newCoalescer() *coalescer {
	return &coalescer{inflight: make(map[string][]chan outcome)}
}

// join registers interest in trackID. owner is true for the first caller.
func (c *coalescer) join(trackID string) (owner bool, ch <-chan outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	waiters, exists := c.inflight[trackID]
	out := make(chan outcome, 1)
	c.inflight[trackID] = append(waiters, out)
	return !exists, out
}

// complete delivers the outcome to every waiter and releases the key.
func (c *coalescer) complete(trackID string, o outcome) {
	c.mu.Lock()
	waiters := c.inflight[trackID]
	delete(c.inflight, trackID)
	c.mu.Unlock()

	for _, w := range waiters {
		w <- o
	}
}

// pending reports how many keys are currently in flight.
func (c *coalescer) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}
