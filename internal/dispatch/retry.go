package dispatch

import (
	"FlowSentinel/internal/model"
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// RetryPolicy bounds the attempts made for one batch.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Retrying retries a dispatcher with exponential backoff until it answers every
// record of the batch or the attempts run out.
type Retrying struct {
	next   model.Dispatcher
	policy RetryPolicy
	clock  clock.Clock
}

func NewRetrying(next model.Dispatcher, policy RetryPolicy) *Retrying {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = 500 * time.Millisecond
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	return &Retrying{next: next, policy: policy, clock: clock.RealClock{}}
}

// WithClock replaces the clock that times the backoff.
func (r *Retrying) WithClock(c clock.Clock) *Retrying {
	r.clock = c
	return r
}

// Classify returns the longest label list any attempt produced. The error is
// nil only when that list covers every record.
func (r *Retrying) Classify(ctx context.Context, vectors [][]float64) ([]float64, error) {
	var best []float64
	var lastErr error
	backoff := r.policy.InitialBackoff

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		labels, err := r.next.Classify(ctx, vectors)
		if len(labels) > len(best) {
			best = labels
		}
		if err == nil && len(labels) >= len(vectors) {
			return labels, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: %d of %d", ErrShortResult, len(labels), len(vectors))
		}
		lastErr = err

		if attempt == r.policy.MaxAttempts {
			break
		}
		log.WithField("attempt", attempt).Warnf("Classification failed, retrying in %v: %v", backoff, err)
		select {
		case <-ctx.Done():
			return best, fmt.Errorf("classification abandoned: %w", ctx.Err())
		case <-r.clock.After(backoff):
		}
		backoff *= 2
		if backoff > r.policy.MaxBackoff {
			backoff = r.policy.MaxBackoff
		}
	}
	return best, fmt.Errorf("classification failed after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}

func (r *Retrying) Close() error { return r.next.Close() }
