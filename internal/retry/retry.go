package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is the one retry abstraction shared by the deposit watcher and the
// settlement relayer: bounded attempts over an exponential curve. Callers
// handle terminal failure themselves (dead-letter, failed job record).
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Initial <= 0 {
		p.Initial = 500 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 30 * time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	return p
}

// Do runs op until it succeeds, the attempt budget is spent, or ctx is
// cancelled. It returns the last error and the number of attempts made.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	p = p.normalized()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.Initial
	expo.MaxInterval = p.Max
	expo.Multiplier = p.Multiplier
	expo.MaxElapsedTime = 0
	expo.Reset()

	attempts := 0
	var lastErr error
	for attempts < p.MaxAttempts {
		attempts++
		lastErr = op(ctx)
		if lastErr == nil {
			return attempts, nil
		}
		if attempts >= p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(expo.NextBackOff()):
		}
	}
	return attempts, lastErr
}
