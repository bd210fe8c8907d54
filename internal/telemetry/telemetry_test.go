package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/hamed0406/netwatch/internal/domain"
)

func newTestMetrics(t *testing.T) (*Metrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m, err := New(mp.Meter("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *metric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

func sum(t *testing.T, rm *metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("%s not found", name)
	}
	data, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
	}
	var total int64
	for _, dp := range data.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_RecordsProbesAndTransitions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ProbeDone(ctx, domain.ProtocolHTTP, domain.ProbeResult{ServiceID: "a", Success: true, Latency: 20 * time.Millisecond})
	m.ProbeDone(ctx, domain.ProtocolHTTP, domain.ProbeResult{ServiceID: "a", ErrorKind: domain.ErrTimeout})
	m.ProbeDone(ctx, domain.ProtocolTCP, domain.ProbeResult{ServiceID: "b", Success: true, Latency: time.Millisecond})
	m.Transition(ctx, domain.TransitionEvent{ServiceID: "a", From: domain.StatusUp, To: domain.StatusDown})

	rm := collect(t, reader)
	if got := sum(t, rm, "netwatch.probe.executions"); got != 3 {
		t.Fatalf("want 3 probes, got %d", got)
	}
	probes := findMetric(rm, "netwatch.probe.executions").Data.(metricdata.Sum[int64])
	if len(probes.DataPoints) != 3 {
		t.Fatalf("want 3 attribute sets (service/outcome), got %d", len(probes.DataPoints))
	}
	if got := sum(t, rm, "netwatch.status.transitions"); got != 1 {
		t.Fatalf("want 1 transition, got %d", got)
	}

	lat := findMetric(rm, "netwatch.probe.latency")
	if lat == nil {
		t.Fatalf("latency histogram missing")
	}
	hist, ok := lat.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64], got %T", lat.Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Fatalf("want 3 latency samples, got %d", count)
	}
}

func TestMetrics_HistoryCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.HistoryWritten(ctx, 64)
	m.HistoryWritten(ctx, 10)
	m.HistoryDropped(ctx, 50)
	m.HistoryWriteError(ctx, 3)
	m.BusDropped(ctx, 2)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"netwatch.history.written":      74,
		"netwatch.history.dropped":      50,
		"netwatch.history.write_errors": 3,
		"netwatch.bus.dropped":          2,
	} {
		if got := sum(t, rm, name); got != want {
			t.Fatalf("%s: want %d, got %d", name, want, got)
		}
	}
}

func TestNop(t *testing.T) {
	m := Nop()
	m.ProbeDone(context.Background(), domain.ProtocolDNS, domain.ProbeResult{})
	m.HistoryDropped(context.Background(), 1)
}

func TestInstallStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InstallStdout(&buf, time.Hour)
	if err != nil {
		t.Fatalf("InstallStdout: %v", err)
	}
	m, err := FromGlobal()
	if err != nil {
		t.Fatalf("FromGlobal: %v", err)
	}
	m.HistoryWritten(context.Background(), 1)
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("netwatch.history.written")) {
		t.Fatalf("exporter output missing metric: %s", buf.String())
	}
}
