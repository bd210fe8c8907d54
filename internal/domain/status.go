package domain

import "time"

type Status string

const (
	StatusUnknown  Status = "UNKNOWN"
	StatusUp       Status = "UP"
	StatusDown     Status = "DOWN"
	StatusDegraded Status = "DEGRADED"
)

// Severity orders statuses from best to worst. UNKNOWN ranks best so that
// leaving it for DOWN or DEGRADED counts as a deterioration.
func (s Status) Severity() int {
	switch s {
	case StatusUp:
		return 1
	case StatusDegraded:
		return 2
	case StatusDown:
		return 3
	}
	return 0
}

// ServiceState is the debounced view of one service.
//
// ConsecutiveSuccesses counts every success regardless of latency; the Fast
// and Slow counters split that streak by the latency threshold.
type ServiceState struct {
	Status               Status        `json:"status"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	ConsecutiveFast      int           `json:"consecutive_fast"`
	ConsecutiveSlow      int           `json:"consecutive_slow"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	LastTransition       time.Time     `json:"last_transition"`
	LastLatency          time.Duration `json:"last_latency"`
	LastCheck            time.Time     `json:"last_check"`
	LastError            ErrorKind     `json:"last_error,omitempty"`
}

type TransitionEvent struct {
	ID        string    `json:"id"`
	ServiceID ServiceID `json:"service_id"`
	From      Status    `json:"old_status"`
	To        Status    `json:"new_status"`
	At        time.Time `json:"timestamp"`
}

// HistoryRecord is the persisted form of a ProbeResult plus the status in
// effect after it was applied.
type HistoryRecord struct {
	ServiceID  ServiceID        `json:"service_id"`
	Timestamp  time.Time        `json:"timestamp"`
	Success    bool             `json:"success"`
	LatencyMS  float64          `json:"latency_ms"`
	ErrorKind  ErrorKind        `json:"error_kind,omitempty"`
	Status     Status           `json:"resulting_status"`
	Transition *TransitionEvent `json:"transition,omitempty"`
}

// StatusView is one entry of the dashboard snapshot.
type StatusView struct {
	ServiceID           ServiceID `json:"service_id"`
	Name                string    `json:"name"`
	Protocol            Protocol  `json:"protocol"`
	Status              Status    `json:"status"`
	LastLatencyMS       float64   `json:"last_latency"`
	LastChange          time.Time `json:"last_change_timestamp"`
	ConsecutiveFailures int       `json:"consecutive_failure_count"`
	LastCheck           time.Time `json:"last_check"`
	LastError           ErrorKind `json:"last_error,omitempty"`
}

// UptimeAggregate is derived from history on read, never stored.
type UptimeAggregate struct {
	ServiceID     ServiceID     `json:"service_id"`
	From          time.Time     `json:"from"`
	To            time.Time     `json:"to"`
	Total         int           `json:"total"`
	Successes     int           `json:"successes"`
	UptimePercent float64       `json:"uptime_percent"`
	Failures      int           `json:"failures"`
	MTBF          time.Duration `json:"mtbf"`
	AvgLatencyMS  float64       `json:"avg_latency_ms"`
}
