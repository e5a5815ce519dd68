package services

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryPolicy is the single bounded-retry-with-backoff utility used across
// the core: the search engine uses it to absorb the store's read-after-write
// lag, collaborator calls use it for transient unavailability. An empty
// delay list means exactly one attempt.
type RetryPolicy struct {
	Delays []time.Duration
}

// DefaultSearchBackoff bounds worst-case search latency to ~3.5s before a
// player falls back to hosting their own waiting room.
var DefaultSearchBackoff = RetryPolicy{
	Delays: []time.Duration{500 * time.Millisecond, 1 * time.Second, 2 * time.Second},
}

// Attempts returns the total number of tries the policy allows.
func (p RetryPolicy) Attempts() int { return len(p.Delays) + 1 }

// Run calls fn up to Attempts() times, sleeping the configured delay between
// tries. Only errors retryable says yes to are retried; everything else,
// including success, returns immediately. The final error is returned as-is
// so callers keep their typed result semantics.
func (p RetryPolicy) Run(ctx context.Context, clock clockwork.Clock, retryable func(error) bool, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !retryable(err) || attempt >= len(p.Delays) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(p.Delays[attempt]):
		}
	}
}
