package probe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hamed0406/netwatch/internal/domain"
)

// fake checker you can control
type fakeChecker struct {
	mu      sync.Mutex
	results []CheckResult
	i       int
}

func (f *fakeChecker) Check(ctx context.Context, def domain.ServiceDefinition) CheckResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.i >= len(f.results) {
		return CheckResult{Success: false, Kind: domain.ErrNetwork, Message: "no more"}
	}
	r := f.results[f.i]
	f.i++
	return r
}

func (f *fakeChecker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.i
}

var anyDef = domain.ServiceDefinition{ID: "svc", Protocol: domain.ProtocolHTTP, Target: "https://example.com"}

func TestRetryChecker_SucceedsAfterRetry(t *testing.T) {
	f := &fakeChecker{
		results: []CheckResult{
			{Success: false, Kind: domain.ErrTimeout, Message: "first fail"},
			{Success: true, Message: "ok"},
		},
	}
	rc := &RetryChecker{Inner: f, Retries: 2, Initial: time.Millisecond}
	out := rc.Check(context.Background(), anyDef)
	if !out.Success {
		t.Fatalf("expected success after retry, got %+v", out)
	}
	if out.Attempts != 2 {
		t.Fatalf("want 2 attempts, got %d", out.Attempts)
	}
}

func TestRetryChecker_AllFailAnnotates(t *testing.T) {
	f := &fakeChecker{
		results: []CheckResult{
			{Kind: domain.ErrConnReset, Message: "fail1"},
			{Kind: domain.ErrConnReset, Message: "fail2"},
			{Kind: domain.ErrConnReset, Message: "fail3"},
		},
	}
	rc := &RetryChecker{Inner: f, Retries: 2, Initial: time.Millisecond}
	out := rc.Check(context.Background(), anyDef)
	if out.Success {
		t.Fatalf("expected failure, got success")
	}
	if out.Attempts != 3 || f.calls() != 3 {
		t.Fatalf("want 3 attempts, got %d (calls %d)", out.Attempts, f.calls())
	}
	if out.Message != "fail3 (after 3 attempts)" {
		t.Fatalf("unexpected message %q", out.Message)
	}
}

func TestRetryChecker_DefinitiveFailureNotRetried(t *testing.T) {
	for _, kind := range []domain.ErrorKind{domain.ErrConnRefused, domain.ErrHTTPStatus, domain.ErrDNSNotFound, domain.ErrAssertion} {
		f := &fakeChecker{results: []CheckResult{{Kind: kind}, {Success: true}}}
		rc := &RetryChecker{Inner: f, Retries: 3, Initial: time.Millisecond}
		out := rc.Check(context.Background(), anyDef)
		if out.Success || f.calls() != 1 {
			t.Fatalf("%s: want single failed attempt, got %+v after %d calls", kind, out, f.calls())
		}
	}
}

func TestRetryChecker_ZeroRetries(t *testing.T) {
	f := &fakeChecker{results: []CheckResult{{Kind: domain.ErrTimeout}, {Success: true}}}
	rc := &RetryChecker{Inner: f}
	if out := rc.Check(context.Background(), anyDef); out.Success || out.Attempts != 1 {
		t.Fatalf("want one failed attempt, got %+v", out)
	}
}

func TestRetryChecker_StopsWhenContextDone(t *testing.T) {
	f := &fakeChecker{results: []CheckResult{{Kind: domain.ErrTimeout}, {Kind: domain.ErrTimeout}, {Success: true}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rc := &RetryChecker{Inner: f, Retries: 5, Initial: 50 * time.Millisecond}
	out := rc.Check(ctx, anyDef)
	if out.Success || f.calls() != 1 {
		t.Fatalf("want one attempt under a done context, got %+v after %d calls", out, f.calls())
	}
}
