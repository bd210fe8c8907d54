package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hamed0406/netwatch/internal/domain"
)

// RetryChecker repeats the inner check while it fails with a transient kind.
type RetryChecker struct {
	Inner   Checker
	Retries int
	Initial time.Duration
	Max     time.Duration
}

func (r *RetryChecker) Check(ctx context.Context, def domain.ServiceDefinition) CheckResult {
	var (
		last     CheckResult
		attempts int
	)
	op := func() error {
		attempts++
		last = r.Inner.Check(ctx, def)
		if last.Success {
			return nil
		}
		err := errors.New(string(last.Kind))
		if !last.Kind.Transient() {
			return backoff.Permanent(err)
		}
		return err
	}
	_ = backoff.Retry(op, r.policy(ctx))

	last.Attempts = attempts
	if !last.Success && attempts > 1 {
		last.Message = fmt.Sprintf("%s (after %d attempts)", last.Message, attempts)
	}
	return last
}

func (r *RetryChecker) policy(ctx context.Context) backoff.BackOff {
	if r.Retries <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.Initial
	if b.InitialInterval <= 0 {
		b.InitialInterval = 100 * time.Millisecond
	}
	b.MaxInterval = r.Max
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Second
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.Retries)), ctx)
}
