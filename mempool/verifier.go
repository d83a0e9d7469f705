package mempool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Verifier bounds concurrent signature-verification work to at most
// concurrency in flight at once, generalizing the teacher's
// TxSenderCacher (core/tx_cacher.go, a fixed pool of goroutines recovering
// tx senders) to a semaphore-gated synchronous call so admit() can be
// called directly from arbitrarily many goroutines in AddMany's fan-out
// without spawning its own unbounded worker pool.
type Verifier struct {
	sem *semaphore.Weighted
}

// NewVerifier returns a Verifier admitting at most concurrency callers to
// Verify at once. concurrency <= 0 is treated as 1.
func NewVerifier(concurrency int) *Verifier {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Verifier{sem: semaphore.NewWeighted(int64(concurrency))}
}

// Verify checks env's signature, blocking until a worker slot is free.
func (v *Verifier) Verify(env *envelope) error {
	ctx := context.Background()
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer v.sem.Release(1)
	return env.verify()
}
