package registry

import (
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"

	"github.com/hamed0406/netwatch/internal/config"
	"github.com/hamed0406/netwatch/internal/domain"
)

func secs(v float64) *float64 { return &v }

func validServices() []config.ServiceConfig {
	return []config.ServiceConfig{
		{ID: "api", Protocol: "http", Target: "https://example.com/health", IntervalSeconds: 30, TimeoutSeconds: secs(5), LatencyThresholdMS: 200},
		{ID: "db", Protocol: "tcp", Target: "db.internal:5432", IntervalSeconds: 10},
		{ID: "dns", Protocol: "DNS", Target: "example.com", IntervalSeconds: 60, ExpectedIP: "93.184.216.34"},
	}
}

func TestLoad_Valid(t *testing.T) {
	r, err := Load(validServices(), DefaultDefaults())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Len() != 3 {
		t.Fatalf("want 3 services, got %d", r.Len())
	}
	ids := r.IDs()
	if ids[0] != "api" || ids[1] != "db" || ids[2] != "dns" {
		t.Fatalf("order not preserved: %v", ids)
	}

	api, ok := r.Get("api")
	if !ok {
		t.Fatalf("api missing")
	}
	if api.Name != "api" || api.Timeout != 5*time.Second || api.LatencyThreshold != 200*time.Millisecond {
		t.Fatalf("unexpected api def: %+v", api)
	}
	if api.HTTP.ExpectedStatusMin != 200 || api.HTTP.ExpectedStatusMax != 399 {
		t.Fatalf("want default status range 200-399, got %+v", api.HTTP)
	}

	db, _ := r.Get("db")
	if db.Timeout != 5*time.Second || db.FailureThreshold != 3 || db.RecoveryThreshold != 2 {
		t.Fatalf("defaults not applied: %+v", db)
	}

	dns, _ := r.Get("dns")
	if dns.Protocol != domain.ProtocolDNS || dns.DNS.ExpectedIP != "93.184.216.34" {
		t.Fatalf("unexpected dns def: %+v", dns)
	}

	if _, ok := r.Get("nope"); ok {
		t.Fatalf("unknown id should not be found")
	}
}

func TestLoad_DuplicateID(t *testing.T) {
	in := validServices()
	in = append(in, config.ServiceConfig{ID: "db", Protocol: "tcp", Target: "other:5432", IntervalSeconds: 5})

	_, err := Load(in, DefaultDefaults())
	if err == nil {
		t.Fatalf("expected duplicate error")
	}
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Field != "id" || ce.Index != 3 {
		t.Fatalf("want id error at index 3, got %v", err)
	}
}

func TestLoad_RejectsBadIntervalAndTimeout(t *testing.T) {
	cases := []struct {
		name  string
		sc    config.ServiceConfig
		field string
	}{
		{"zero interval", config.ServiceConfig{ID: "a", Protocol: "tcp", Target: "h:1"}, "interval_seconds"},
		{"negative interval", config.ServiceConfig{ID: "a", Protocol: "tcp", Target: "h:1", IntervalSeconds: -1}, "interval_seconds"},
		{"zero timeout", config.ServiceConfig{ID: "a", Protocol: "tcp", Target: "h:1", IntervalSeconds: 1, TimeoutSeconds: secs(0)}, "timeout_seconds"},
		{"negative timeout", config.ServiceConfig{ID: "a", Protocol: "tcp", Target: "h:1", IntervalSeconds: 1, TimeoutSeconds: secs(-2)}, "timeout_seconds"},
		{"interval below a nanosecond", config.ServiceConfig{ID: "a", Protocol: "tcp", Target: "h:1", IntervalSeconds: 1e-10}, "interval_seconds"},
		{"interval overflowing a duration", config.ServiceConfig{ID: "a", Protocol: "tcp", Target: "h:1", IntervalSeconds: 1e11}, "interval_seconds"},
		{"timeout below a nanosecond", config.ServiceConfig{ID: "a", Protocol: "tcp", Target: "h:1", IntervalSeconds: 1, TimeoutSeconds: secs(1e-10)}, "timeout_seconds"},
		{"timeout overflowing a duration", config.ServiceConfig{ID: "a", Protocol: "tcp", Target: "h:1", IntervalSeconds: 1, TimeoutSeconds: secs(1e11)}, "timeout_seconds"},
		{"zero thresholds fall back but negative fails", config.ServiceConfig{ID: "a", Protocol: "tcp", Target: "h:1", IntervalSeconds: 1, FailureThreshold: -1}, "failure_threshold"},
		{"negative latency threshold", config.ServiceConfig{ID: "a", Protocol: "tcp", Target: "h:1", IntervalSeconds: 1, LatencyThresholdMS: -5}, "latency_threshold_ms"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load([]config.ServiceConfig{tc.sc}, DefaultDefaults())
			if !hasField(err, tc.field) {
				t.Fatalf("want %s error, got %v", tc.field, err)
			}
		})
	}
}

func TestLoad_RejectsMalformedTargets(t *testing.T) {
	cases := []struct {
		proto, target string
	}{
		{"http", ""},
		{"http", "example.com/health"},
		{"http", "ftp://example.com"},
		{"http", "http://"},
		{"tcp", "db.internal"},
		{"tcp", "db.internal:0"},
		{"tcp", "db.internal:70000"},
		{"tcp", ":5432"},
		{"dns", "exa mple.com"},
		{"dns", "-bad.example.com"},
		{"dns", "a..b"},
	}
	for _, tc := range cases {
		sc := config.ServiceConfig{ID: "x", Protocol: tc.proto, Target: tc.target, IntervalSeconds: 1}
		_, err := Load([]config.ServiceConfig{sc}, DefaultDefaults())
		if !hasField(err, "target") {
			t.Fatalf("%s %q: want target error, got %v", tc.proto, tc.target, err)
		}
	}
}

func TestLoad_RejectsUnknownProtocol(t *testing.T) {
	sc := config.ServiceConfig{ID: "x", Protocol: "icmp", Target: "host", IntervalSeconds: 1}
	_, err := Load([]config.ServiceConfig{sc}, DefaultDefaults())
	if !hasField(err, "protocol") {
		t.Fatalf("want protocol error, got %v", err)
	}
	if hasField(err, "target") {
		t.Fatalf("target should not be checked for unknown protocol: %v", err)
	}
}

func TestLoad_HTTPOptionsValidation(t *testing.T) {
	sc := config.ServiceConfig{
		ID: "api", Protocol: "http", Target: "http://localhost:8080/", IntervalSeconds: 1,
		ExpectedStatusMin: 500, ExpectedStatusMax: 200,
		Assertions: []domain.JSONAssertion{{Path: "", Operator: "=="}, {Path: "status", Operator: "~="}},
	}
	_, err := Load([]config.ServiceConfig{sc}, DefaultDefaults())
	for _, f := range []string{"expected_status", "assertions[0].path", "assertions[1].operator"} {
		if !hasField(err, f) {
			t.Fatalf("want %s error, got %v", f, err)
		}
	}

	single := config.ServiceConfig{ID: "api", Protocol: "http", Target: "http://localhost/", IntervalSeconds: 1, ExpectedStatusMin: 204}
	r, err := Load([]config.ServiceConfig{single}, DefaultDefaults())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def, _ := r.Get("api")
	if def.HTTP.ExpectedStatusMin != 204 || def.HTTP.ExpectedStatusMax != 204 {
		t.Fatalf("want exact 204, got %+v", def.HTTP)
	}
}

func TestLoad_DNSOptionsValidation(t *testing.T) {
	sc := config.ServiceConfig{ID: "d", Protocol: "dns", Target: "example.com", IntervalSeconds: 1, ExpectedIP: "not-an-ip", Resolver: "8.8.8.8"}
	_, err := Load([]config.ServiceConfig{sc}, DefaultDefaults())
	if !hasField(err, "expected_ip") || !hasField(err, "resolver") {
		t.Fatalf("want expected_ip and resolver errors, got %v", err)
	}
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	in := []config.ServiceConfig{
		{ID: "", Protocol: "tcp", Target: "h:1", IntervalSeconds: 1},
		{ID: "b", Protocol: "tcp", Target: "h:1", IntervalSeconds: 0},
	}
	_, err := Load(in, DefaultDefaults())
	if !IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Fatalf("want 2 errors, got %d: %v", n, err)
	}
	if !strings.Contains(err.Error(), "service #0") {
		t.Fatalf("missing index fallback in %q", err.Error())
	}
}

func TestIsConfigError(t *testing.T) {
	if IsConfigError(errors.New("boom")) {
		t.Fatalf("plain error is not a config error")
	}
	if IsConfigError(nil) {
		t.Fatalf("nil is not a config error")
	}
}

func TestWithInterval(t *testing.T) {
	r, err := Load(validServices(), DefaultDefaults())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	fast := r.WithInterval(2 * time.Second)
	for _, d := range fast.Services() {
		if d.Interval != 2*time.Second {
			t.Fatalf("interval not overridden: %+v", d)
		}
	}
	orig, _ := r.Get("api")
	if orig.Interval != 30*time.Second {
		t.Fatalf("receiver mutated: %v", orig.Interval)
	}
}

func TestServicesReturnsCopy(t *testing.T) {
	r := New([]domain.ServiceDefinition{{ID: "a", Name: "A"}})
	s := r.Services()
	s[0].Name = "changed"
	if d, _ := r.Get("a"); d.Name != "A" {
		t.Fatalf("registry mutated through Services(): %+v", d)
	}
}

func TestValidHostname(t *testing.T) {
	for _, h := range []string{"example.com", "example.com.", "a-b.c_d.io", "localhost"} {
		if !ValidHostname(h) {
			t.Fatalf("%q should be valid", h)
		}
	}
	for _, h := range []string{"", ".", "a..b", "-a.com", "a-.com", "a b.com", strings.Repeat("a", 64) + ".com"} {
		if ValidHostname(h) {
			t.Fatalf("%q should be invalid", h)
		}
	}
}

func hasField(err error, field string) bool {
	for _, e := range multierr.Errors(err) {
		var ce *ConfigError
		if errors.As(e, &ce) && ce.Field == field {
			return true
		}
	}
	return false
}
