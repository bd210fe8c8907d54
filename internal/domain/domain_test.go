package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHistoryRecord_JSONFieldNames(t *testing.T) {
	rec := HistoryRecord{
		ServiceID: "api",
		Timestamp: time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC),
		Success:   false,
		LatencyMS: 12.5,
		ErrorKind: ErrTimeout,
		Status:    StatusDown,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"service_id", "timestamp", "success", "latency_ms", "error_kind", "resulting_status"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("missing %q in %s", k, b)
		}
	}
	if _, ok := m["transition"]; ok {
		t.Fatalf("transition should be omitted when nil: %s", b)
	}
}

func TestErrorKind_Transient(t *testing.T) {
	cases := map[ErrorKind]bool{
		ErrTimeout:     true,
		ErrConnReset:   true,
		ErrDNSFailure:  true,
		ErrConnRefused: false,
		ErrDNSNotFound: false,
		ErrHTTPStatus:  false,
		ErrNone:        false,
	}
	for k, want := range cases {
		if got := k.Transient(); got != want {
			t.Fatalf("%q.Transient()=%v want %v", k, got, want)
		}
	}
}

func TestStatus_SeverityOrder(t *testing.T) {
	if !(StatusUnknown.Severity() < StatusUp.Severity() &&
		StatusUp.Severity() < StatusDegraded.Severity() &&
		StatusDegraded.Severity() < StatusDown.Severity()) {
		t.Fatalf("unexpected severity order")
	}
}

func TestProbeResult_LatencyMS(t *testing.T) {
	r := ProbeResult{Latency: 1500 * time.Microsecond}
	if got := r.LatencyMS(); got != 1.5 {
		t.Fatalf("want 1.5 got %v", got)
	}
}
