package probe

import (
	"context"
	"net"
	"time"

	"github.com/hamed0406/netwatch/internal/domain"
)

// TCPChecker reports whether a TCP handshake to host:port completes.
type TCPChecker struct {
	Dialer *net.Dialer
}

func NewTCPChecker() *TCPChecker {
	return &TCPChecker{Dialer: &net.Dialer{}}
}

func (t *TCPChecker) Check(ctx context.Context, def domain.ServiceDefinition) CheckResult {
	if _, _, err := net.SplitHostPort(def.Target); err != nil {
		return failed(domain.ErrInvalidTarget, 0, err.Error())
	}

	start := time.Now()
	conn, err := t.Dialer.DialContext(ctx, "tcp", def.Target)
	latency := time.Since(start)
	if err != nil {
		return failed(Classify(err), latency, err.Error())
	}
	_ = conn.Close()
	return CheckResult{Success: true, Latency: latency, Message: "port open", Attempts: 1}
}
