package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfeed/tweettrader/internal/observ"
	"github.com/quantfeed/tweettrader/internal/position"
)

// FillResult is the execution sink's answer to an order intent.
type FillResult struct {
	IntentID  string    `json:"intent_id"`
	FillPrice float64   `json:"fill_price"`
	FilledAt  time.Time `json:"filled_at"`
}

// Sink executes order intents: a live broker, a paper journal, or the
// deterministic replay simulator. now is the pipeline's logical time so
// simulated fills stay reproducible under replay.
type Sink interface {
	Submit(ctx context.Context, intent position.OrderIntent, now time.Time) (FillResult, error)
}

// DuplicateIntentError reports a second submission attempt for an
// idempotency key the dispatcher has already accepted. The sink is never
// contacted for duplicates.
type DuplicateIntentError struct {
	IntentID string
}

func (e *DuplicateIntentError) Error() string {
	return fmt.Sprintf("intent %s already submitted", e.IntentID)
}

// PermanentError wraps a sink failure retrying cannot fix, such as an
// order the venue rejected outright. The dispatcher gives up immediately
// instead of burning the remaining attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// DispatchFailedError reports retry exhaustion against the sink. The caller
// must roll the position's pending state back via RevertIntent.
type DispatchFailedError struct {
	IntentID string
	Attempts int
	Last     error
}

func (e *DispatchFailedError) Error() string {
	return fmt.Sprintf("dispatch of intent %s failed after %d attempts: %v", e.IntentID, e.Attempts, e.Last)
}

func (e *DispatchFailedError) Unwrap() error { return e.Last }

// RetryPolicy is the explicit bounded-backoff schedule applied to sink
// failures. Keeping it a value makes it trivially testable against a fake
// failing sink.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Jitter         time.Duration `yaml:"jitter"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Jitter:         50 * time.Millisecond,
	}
}

// Backoff returns the delay before the given retry (attempt is 1-based:
// the delay after the attempt-th failure). Exponential, capped, jittered.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			d = p.MaxBackoff
			break
		}
	}
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return d
}

// Dispatcher is the single choke point between the position manager and
// the execution sink. It guarantees at most one submission per intent id.
type Dispatcher struct {
	sink   Sink
	policy RetryPolicy

	mu   sync.Mutex
	seen map[string]bool
}

func NewDispatcher(sink Sink, policy RetryPolicy) *Dispatcher {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Dispatcher{sink: sink, policy: policy, seen: make(map[string]bool)}
}

// Submit executes one intent with bounded retries. A previously seen
// intent id is rejected locally; retry exhaustion surfaces as
// DispatchFailedError.
func (d *Dispatcher) Submit(ctx context.Context, intent position.OrderIntent, now time.Time) (FillResult, error) {
	d.mu.Lock()
	if d.seen[intent.IntentID] {
		d.mu.Unlock()
		observ.IncCounter("dispatch_duplicates_total", map[string]string{"symbol": intent.Symbol})
		return FillResult{}, &DuplicateIntentError{IntentID: intent.IntentID}
	}
	d.seen[intent.IntentID] = true
	d.mu.Unlock()

	var lastErr error
	var attempts int
	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return FillResult{}, err
		}
		attempts = attempt

		fill, err := d.sink.Submit(ctx, intent, now)
		if err == nil {
			observ.IncCounter("dispatch_fills_total", map[string]string{
				"symbol": intent.Symbol, "action": string(intent.Action),
			})
			return fill, nil
		}
		lastErr = err
		observ.IncCounter("dispatch_errors_total", map[string]string{"symbol": intent.Symbol})
		log.Warn().Err(err).Str("intent_id", intent.IntentID).Int("attempt", attempt).
			Msg("sink submission failed")

		var perm *PermanentError
		if errors.As(err, &perm) {
			log.Warn().Str("intent_id", intent.IntentID).Msg("permanent sink failure, not retrying")
			break
		}
		if attempt == d.policy.MaxAttempts {
			break
		}
		select {
		case <-time.After(d.policy.Backoff(attempt)):
		case <-ctx.Done():
			return FillResult{}, ctx.Err()
		}
	}

	observ.IncCounter("dispatch_exhausted_total", map[string]string{"symbol": intent.Symbol})
	return FillResult{}, &DispatchFailedError{
		IntentID: intent.IntentID,
		Attempts: attempts,
		Last:     lastErr,
	}
}
