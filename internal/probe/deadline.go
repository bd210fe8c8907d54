package probe

import (
	"context"
	"time"

	"github.com/hamed0406/netwatch/internal/domain"
)

// DeadlineChecker bounds a probe by its context even when the inner checker
// ignores cancellation. Once ctx is done the inner checker gets Slack to
// return; after that a timeout (or canceled) result is synthesized and the
// inner goroutine is abandoned.
type DeadlineChecker struct {
	Inner Checker
	Slack time.Duration
}

func (d *DeadlineChecker) Check(ctx context.Context, def domain.ServiceDefinition) CheckResult {
	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		done <- safeCheck(ctx, d.Inner, def)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
	}

	slack := time.NewTimer(d.Slack)
	defer slack.Stop()
	select {
	case res := <-done:
		return res
	case <-slack.C:
	}

	kind := Classify(ctx.Err())
	return failed(kind, time.Since(start), "probe abandoned after deadline: "+string(kind))
}
