package domain

import "time"

type ServiceID string

// Protocol is the probe variant a service is checked with.
type Protocol string

const (
	ProtocolHTTP Protocol = "http"
	ProtocolTCP  Protocol = "tcp"
	ProtocolDNS  Protocol = "dns"
)

// Valid reports whether p is one of the supported probe variants.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolHTTP, ProtocolTCP, ProtocolDNS:
		return true
	}
	return false
}

// JSONAssertion checks a value in an HTTP response body (gjson path syntax).
type JSONAssertion struct {
	Path     string `json:"path" yaml:"path"`
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
}

type HTTPOptions struct {
	Method            string          `json:"method,omitempty"`
	ExpectedStatusMin int             `json:"expected_status_min,omitempty"`
	ExpectedStatusMax int             `json:"expected_status_max,omitempty"`
	Assertions        []JSONAssertion `json:"assertions,omitempty"`
}

type DNSOptions struct {
	ExpectedIP string `json:"expected_ip,omitempty"`
	Resolver   string `json:"resolver,omitempty"` // host:port of a dedicated nameserver
}

// ServiceDefinition is a validated, immutable description of one monitored service.
type ServiceDefinition struct {
	ID                ServiceID     `json:"id"`
	Name              string        `json:"name"`
	Protocol          Protocol      `json:"protocol"`
	Target            string        `json:"target"`
	Interval          time.Duration `json:"interval"`
	Timeout           time.Duration `json:"timeout"`
	FailureThreshold  int           `json:"failure_threshold"`
	RecoveryThreshold int           `json:"recovery_threshold"`
	LatencyThreshold  time.Duration `json:"latency_threshold,omitempty"` // 0 disables DEGRADED
	HTTP              HTTPOptions   `json:"http,omitempty"`
	DNS               DNSOptions    `json:"dns,omitempty"`
}

// ErrorKind classifies why a probe failed. Empty means success.
type ErrorKind string

const (
	ErrNone             ErrorKind = ""
	ErrTimeout          ErrorKind = "timeout"
	ErrConnRefused      ErrorKind = "connection_refused"
	ErrConnReset        ErrorKind = "connection_reset"
	ErrDNSNotFound      ErrorKind = "dns_not_found"
	ErrDNSFailure       ErrorKind = "dns_failure"
	ErrHTTPStatus       ErrorKind = "http_status"
	ErrAssertion        ErrorKind = "assertion_failed"
	ErrUnexpectedAnswer ErrorKind = "unexpected_answer"
	ErrInvalidTarget    ErrorKind = "invalid_target"
	ErrNetwork          ErrorKind = "network"
	ErrCanceled         ErrorKind = "canceled"
)

// Transient reports whether a retry has a reasonable chance of a different outcome.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrTimeout, ErrConnReset, ErrDNSFailure:
		return true
	}
	return false
}

// ProbeResult is the outcome of exactly one probe execution.
type ProbeResult struct {
	ServiceID  ServiceID     `json:"service_id"`
	StartedAt  time.Time     `json:"started_at"`
	Success    bool          `json:"success"`
	Latency    time.Duration `json:"latency"`
	ErrorKind  ErrorKind     `json:"error_kind,omitempty"`
	Message    string        `json:"message,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Attempts   int           `json:"attempts"`
}

// LatencyMS is the latency in fractional milliseconds.
func (r ProbeResult) LatencyMS() float64 {
	return float64(r.Latency) / float64(time.Millisecond)
}
