package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hamed0406/netwatch/internal/domain"
)

// Resolver is the subset of *net.Resolver the DNS checker needs.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type DNSChecker struct {
	Resolver   Resolver                    // used when the service names no nameserver
	Nameserver func(addr string) Resolver // builds a resolver bound to one server
}

func NewDNSChecker() *DNSChecker {
	return &DNSChecker{
		Resolver:   &net.Resolver{PreferGo: true},
		Nameserver: nameserverResolver,
	}
}

func nameserverResolver(addr string) Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
}

func (d *DNSChecker) Check(ctx context.Context, def domain.ServiceDefinition) CheckResult {
	host := strings.TrimSpace(def.Target)
	if host == "" || strings.Contains(host, "://") {
		return failed(domain.ErrInvalidTarget, 0, fmt.Sprintf("invalid hostname %q", def.Target))
	}

	r := d.Resolver
	if def.DNS.Resolver != "" && d.Nameserver != nil {
		r = d.Nameserver(def.DNS.Resolver)
	}

	start := time.Now()
	addrs, err := r.LookupIPAddr(ctx, host)
	latency := time.Since(start)
	if err != nil {
		return failed(Classify(err), latency, err.Error())
	}
	if len(addrs) == 0 {
		return failed(domain.ErrDNSNotFound, latency, "no A/AAAA records")
	}

	if def.DNS.ExpectedIP != "" {
		want := net.ParseIP(def.DNS.ExpectedIP)
		found := false
		got := make([]string, 0, len(addrs))
		for _, a := range addrs {
			got = append(got, a.IP.String())
			if a.IP.Equal(want) {
				found = true
			}
		}
		if !found {
			return failed(domain.ErrUnexpectedAnswer, latency,
				fmt.Sprintf("expected %s, got %s", def.DNS.ExpectedIP, strings.Join(got, ",")))
		}
	}

	return CheckResult{Success: true, Latency: latency, Message: fmt.Sprintf("resolved %d addresses", len(addrs)), Attempts: 1}
}
