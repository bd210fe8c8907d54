// Package registry turns the user's service list into an immutable,
// validated snapshot for one monitoring session.
package registry

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/hamed0406/netwatch/internal/config"
	"github.com/hamed0406/netwatch/internal/domain"
)

// ConfigError names the offending service and field.
type ConfigError struct {
	Index     int
	ServiceID string
	Field     string
	Reason    string
}

func (e *ConfigError) Error() string {
	id := e.ServiceID
	if id == "" {
		id = "#" + strconv.Itoa(e.Index)
	}
	return fmt.Sprintf("service %s: %s: %s", id, e.Field, e.Reason)
}

// IsConfigError reports whether err carries at least one *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Defaults fill optional fields left empty in the services file.
type Defaults struct {
	Timeout           time.Duration
	FailureThreshold  int
	RecoveryThreshold int
}

func DefaultDefaults() Defaults {
	return Defaults{
		Timeout:           5 * time.Second,
		FailureThreshold:  3,
		RecoveryThreshold: 2,
	}
}

type Registry struct {
	services []domain.ServiceDefinition
	index    map[domain.ServiceID]int
}

// Load validates every entry and reports all problems at once.
func Load(in []config.ServiceConfig, d Defaults) (*Registry, error) {
	var errs error
	defs := make([]domain.ServiceDefinition, 0, len(in))
	seen := make(map[domain.ServiceID]int, len(in))

	for i, sc := range in {
		def, err := buildDefinition(i, sc, d)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if prev, dup := seen[def.ID]; dup {
			errs = multierr.Append(errs, &ConfigError{
				Index: i, ServiceID: sc.ID, Field: "id",
				Reason: fmt.Sprintf("duplicate of service #%d", prev),
			})
			continue
		}
		seen[def.ID] = i
		defs = append(defs, def)
	}
	if errs != nil {
		return nil, errs
	}
	return New(defs), nil
}

// New wraps already validated definitions.
func New(defs []domain.ServiceDefinition) *Registry {
	r := &Registry{
		services: make([]domain.ServiceDefinition, len(defs)),
		index:    make(map[domain.ServiceID]int, len(defs)),
	}
	copy(r.services, defs)
	for i, d := range r.services {
		r.index[d.ID] = i
	}
	return r
}

// Services returns a copy of the definitions in configuration order.
func (r *Registry) Services() []domain.ServiceDefinition {
	out := make([]domain.ServiceDefinition, len(r.services))
	copy(out, r.services)
	return out
}

func (r *Registry) Get(id domain.ServiceID) (domain.ServiceDefinition, bool) {
	i, ok := r.index[id]
	if !ok {
		return domain.ServiceDefinition{}, false
	}
	return r.services[i], true
}

func (r *Registry) Len() int { return len(r.services) }

func (r *Registry) IDs() []domain.ServiceID {
	out := make([]domain.ServiceID, len(r.services))
	for i, d := range r.services {
		out[i] = d.ID
	}
	return out
}

// WithInterval returns a new registry with every check interval replaced.
// The receiver is left untouched.
func (r *Registry) WithInterval(d time.Duration) *Registry {
	defs := r.Services()
	for i := range defs {
		defs[i].Interval = d
	}
	return New(defs)
}

func buildDefinition(i int, sc config.ServiceConfig, d Defaults) (domain.ServiceDefinition, error) {
	var errs error
	bad := func(field, reason string) {
		errs = multierr.Append(errs, &ConfigError{Index: i, ServiceID: sc.ID, Field: field, Reason: reason})
	}

	id := strings.TrimSpace(sc.ID)
	if id == "" {
		bad("id", "must not be empty")
	}
	name := strings.TrimSpace(sc.Name)
	if name == "" {
		name = id
	}

	proto := domain.Protocol(strings.ToLower(strings.TrimSpace(sc.Protocol)))
	if !proto.Valid() {
		bad("protocol", fmt.Sprintf("unknown protocol %q (want http, tcp or dns)", sc.Protocol))
	}

	interval, err := seconds(sc.IntervalSeconds)
	if err != nil {
		bad("interval_seconds", err.Error())
	}

	timeout := d.Timeout
	if sc.TimeoutSeconds != nil {
		if timeout, err = seconds(*sc.TimeoutSeconds); err != nil {
			bad("timeout_seconds", err.Error())
		}
	}

	failTh := orDefault(sc.FailureThreshold, d.FailureThreshold)
	if failTh < 1 {
		bad("failure_threshold", "must be at least 1")
	}
	recTh := orDefault(sc.RecoveryThreshold, d.RecoveryThreshold)
	if recTh < 1 {
		bad("recovery_threshold", "must be at least 1")
	}
	if sc.LatencyThresholdMS < 0 {
		bad("latency_threshold_ms", "must not be negative")
	}

	target := strings.TrimSpace(sc.Target)
	if proto.Valid() {
		if err := validateTarget(proto, target); err != nil {
			bad("target", err.Error())
		}
	}

	def := domain.ServiceDefinition{
		ID:                domain.ServiceID(id),
		Name:              name,
		Protocol:          proto,
		Target:            target,
		Interval:          interval,
		Timeout:           timeout,
		FailureThreshold:  failTh,
		RecoveryThreshold: recTh,
		LatencyThreshold:  time.Duration(sc.LatencyThresholdMS) * time.Millisecond,
	}

	switch proto {
	case domain.ProtocolHTTP:
		def.HTTP = domain.HTTPOptions{
			Method:            strings.ToUpper(strings.TrimSpace(sc.Method)),
			ExpectedStatusMin: sc.ExpectedStatusMin,
			ExpectedStatusMax: sc.ExpectedStatusMax,
			Assertions:        sc.Assertions,
		}
		if def.HTTP.ExpectedStatusMin == 0 && def.HTTP.ExpectedStatusMax == 0 {
			def.HTTP.ExpectedStatusMin, def.HTTP.ExpectedStatusMax = 200, 399
		} else if def.HTTP.ExpectedStatusMax == 0 {
			def.HTTP.ExpectedStatusMax = def.HTTP.ExpectedStatusMin
		}
		if !validStatus(def.HTTP.ExpectedStatusMin) || !validStatus(def.HTTP.ExpectedStatusMax) ||
			def.HTTP.ExpectedStatusMin > def.HTTP.ExpectedStatusMax {
			bad("expected_status", fmt.Sprintf("invalid range %d-%d", def.HTTP.ExpectedStatusMin, def.HTTP.ExpectedStatusMax))
		}
		for j, a := range sc.Assertions {
			if strings.TrimSpace(a.Path) == "" {
				bad(fmt.Sprintf("assertions[%d].path", j), "must not be empty")
			}
			if !knownOperator(a.Operator) {
				bad(fmt.Sprintf("assertions[%d].operator", j), fmt.Sprintf("unknown operator %q", a.Operator))
			}
		}
	case domain.ProtocolDNS:
		def.DNS = domain.DNSOptions{ExpectedIP: strings.TrimSpace(sc.ExpectedIP), Resolver: strings.TrimSpace(sc.Resolver)}
		if def.DNS.ExpectedIP != "" && net.ParseIP(def.DNS.ExpectedIP) == nil {
			bad("expected_ip", fmt.Sprintf("%q is not an IP address", def.DNS.ExpectedIP))
		}
		if def.DNS.Resolver != "" {
			if err := validateHostPort(def.DNS.Resolver); err != nil {
				bad("resolver", err.Error())
			}
		}
	}

	return def, errs
}

func validateTarget(p domain.Protocol, target string) error {
	if target == "" {
		return errors.New("must not be empty")
	}
	switch p {
	case domain.ProtocolHTTP:
		u, err := url.ParseRequestURI(target)
		if err != nil {
			return fmt.Errorf("malformed URL: %v", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("scheme %q is not http or https", u.Scheme)
		}
		if u.Hostname() == "" {
			return errors.New("URL has no host")
		}
	case domain.ProtocolTCP:
		return validateHostPort(target)
	case domain.ProtocolDNS:
		if !ValidHostname(target) {
			return fmt.Errorf("%q is not a valid hostname", target)
		}
	}
	return nil
}

func validateHostPort(s string) error {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("want host:port: %v", err)
	}
	if host == "" {
		return errors.New("host must not be empty")
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port %q out of range 1-65535", port)
	}
	return nil
}

// ValidHostname checks RFC 1123 syntax; a trailing dot is accepted.
func ValidHostname(h string) bool {
	h = strings.TrimSuffix(h, ".")
	if h == "" || len(h) > 253 {
		return false
	}
	for _, label := range strings.Split(h, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			default:
				return false
			}
		}
	}
	return true
}

func knownOperator(op string) bool {
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "==", "equals", "!=", "not_equals", ">", "<", ">=", "<=", "contains", "exists":
		return true
	}
	return false
}

func validStatus(code int) bool { return code >= 100 && code <= 599 }

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// maxSeconds keeps a converted duration inside int64 nanoseconds.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// seconds converts a positive number of seconds. The check runs on the
// converted value so sub-nanosecond inputs do not truncate to zero.
func seconds(s float64) (time.Duration, error) {
	if math.IsNaN(s) || s > float64(maxSeconds) {
		return 0, fmt.Errorf("must be at most %d", maxSeconds)
	}
	d := time.Duration(s * float64(time.Second))
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}
