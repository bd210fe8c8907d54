// Package probe runs a single availability check against one service and
// classifies the outcome. Checkers never return errors: every failure is a
// CheckResult with a Kind.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/hamed0406/netwatch/internal/domain"
)

// CheckResult is the outcome of one Check call.
//
// StatusCode is only set by the HTTP checker; 0 for transport/DNS errors.
type CheckResult struct {
	Success    bool
	Latency    time.Duration
	Kind       domain.ErrorKind
	Message    string
	StatusCode int
	Attempts   int
}

// Checker performs a single check for a service definition.
type Checker interface {
	Check(ctx context.Context, def domain.ServiceDefinition) CheckResult
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, def domain.ServiceDefinition) CheckResult

func (f CheckerFunc) Check(ctx context.Context, def domain.ServiceDefinition) CheckResult {
	return f(ctx, def)
}

func failed(kind domain.ErrorKind, latency time.Duration, msg string) CheckResult {
	return CheckResult{Kind: kind, Latency: latency, Message: msg, Attempts: 1}
}

// safeCheck turns a panicking checker into a failed result.
func safeCheck(ctx context.Context, c Checker, def domain.ServiceDefinition) (res CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			res = failed(domain.ErrNetwork, 0, fmt.Sprintf("checker panic: %v", r))
		}
	}()
	return c.Check(ctx, def)
}

// Options tune the checker stack built by NewSet.
type Options struct {
	Retries    int           // extra attempts after the first, transient failures only
	Backoff    time.Duration // first wait between attempts
	MaxBackoff time.Duration
	Slack      time.Duration // grace after the deadline before a timeout is synthesized
}

func DefaultOptions() Options {
	return Options{Retries: 2, Backoff: 100 * time.Millisecond, MaxBackoff: time.Second, Slack: 25 * time.Millisecond}
}

// Set dispatches on the service protocol.
type Set struct {
	checkers map[domain.Protocol]Checker
}

// NewSet wires the HTTP, TCP and DNS checkers, each wrapped in retry and
// hard-deadline handling.
func NewSet(o Options) *Set {
	s := &Set{checkers: make(map[domain.Protocol]Checker, 3)}
	s.Register(domain.ProtocolHTTP, Wrap(NewHTTPChecker(), o))
	s.Register(domain.ProtocolTCP, Wrap(NewTCPChecker(), o))
	s.Register(domain.ProtocolDNS, Wrap(NewDNSChecker(), o))
	return s
}

// NewEmptySet returns a Set with no checkers; use Register to fill it.
func NewEmptySet() *Set {
	return &Set{checkers: make(map[domain.Protocol]Checker)}
}

// Wrap applies the retry and deadline layers to a base checker.
func Wrap(base Checker, o Options) Checker {
	return &DeadlineChecker{
		Inner: &RetryChecker{Inner: base, Retries: o.Retries, Initial: o.Backoff, Max: o.MaxBackoff},
		Slack: o.Slack,
	}
}

// Register replaces the checker for p. Not safe to call while Execute runs.
func (s *Set) Register(p domain.Protocol, c Checker) {
	s.checkers[p] = c
}

// Execute runs the checker for def.Protocol and stamps the result.
func (s *Set) Execute(ctx context.Context, def domain.ServiceDefinition) domain.ProbeResult {
	started := time.Now()
	var res CheckResult
	if c, ok := s.checkers[def.Protocol]; ok {
		res = safeCheck(ctx, c, def)
	} else {
		res = failed(domain.ErrInvalidTarget, 0, fmt.Sprintf("no checker for protocol %q", def.Protocol))
	}
	if res.Success {
		res.Kind = domain.ErrNone
	}
	if res.Attempts < 1 {
		res.Attempts = 1
	}
	return domain.ProbeResult{
		ServiceID:  def.ID,
		StartedAt:  started,
		Success:    res.Success,
		Latency:    res.Latency,
		ErrorKind:  res.Kind,
		Message:    res.Message,
		StatusCode: res.StatusCode,
		Attempts:   res.Attempts,
	}
}
