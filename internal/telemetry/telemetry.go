// Package telemetry records engine metrics through OpenTelemetry.
package telemetry

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/hamed0406/netwatch/internal/domain"
)

const meterName = "github.com/hamed0406/netwatch"

// Metrics holds the engine instruments.
type Metrics struct {
	probes        metric.Int64Counter
	probeLatency  metric.Float64Histogram
	transitions   metric.Int64Counter
	historyWrite  metric.Int64Counter
	historyDrop   metric.Int64Counter
	historyErrors metric.Int64Counter
	busDrops      metric.Int64Counter
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.probes, err = meter.Int64Counter("netwatch.probe.executions",
		metric.WithDescription("Number of probe executions"),
	); err != nil {
		return nil, err
	}
	if m.probeLatency, err = meter.Float64Histogram("netwatch.probe.latency",
		metric.WithDescription("Probe latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("netwatch.status.transitions",
		metric.WithDescription("Number of status transitions"),
	); err != nil {
		return nil, err
	}
	if m.historyWrite, err = meter.Int64Counter("netwatch.history.written",
		metric.WithDescription("History records persisted"),
	); err != nil {
		return nil, err
	}
	if m.historyDrop, err = meter.Int64Counter("netwatch.history.dropped",
		metric.WithDescription("History records dropped under backpressure"),
	); err != nil {
		return nil, err
	}
	if m.historyErrors, err = meter.Int64Counter("netwatch.history.write_errors",
		metric.WithDescription("History batches that could not be persisted"),
	); err != nil {
		return nil, err
	}
	if m.busDrops, err = meter.Int64Counter("netwatch.bus.dropped",
		metric.WithDescription("Transition events a slow subscriber missed"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// Nop returns instruments that record nothing.
func Nop() *Metrics {
	m, _ := New(noop.NewMeterProvider().Meter(meterName))
	return m
}

// FromGlobal builds instruments on the global meter provider.
func FromGlobal() (*Metrics, error) {
	return New(otel.Meter(meterName))
}

func (m *Metrics) ProbeDone(ctx context.Context, proto domain.Protocol, res domain.ProbeResult) {
	outcome := "success"
	if !res.Success {
		outcome = string(res.ErrorKind)
	}
	m.probes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", string(res.ServiceID)),
		attribute.String("protocol", string(proto)),
		attribute.String("outcome", outcome),
	))
	m.probeLatency.Record(ctx, res.LatencyMS(), metric.WithAttributes(
		attribute.String("service", string(res.ServiceID)),
		attribute.String("protocol", string(proto)),
	))
}

func (m *Metrics) Transition(ctx context.Context, ev domain.TransitionEvent) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", string(ev.ServiceID)),
		attribute.String("from", string(ev.From)),
		attribute.String("to", string(ev.To)),
	))
}

func (m *Metrics) HistoryWritten(ctx context.Context, n int) {
	m.historyWrite.Add(ctx, int64(n))
}

func (m *Metrics) HistoryDropped(ctx context.Context, n int) {
	m.historyDrop.Add(ctx, int64(n))
}

func (m *Metrics) HistoryWriteError(ctx context.Context, n int) {
	m.historyErrors.Add(ctx, int64(n))
}

func (m *Metrics) BusDropped(ctx context.Context, n uint64) {
	m.busDrops.Add(ctx, int64(n))
}

// InstallStdout sets a global meter provider that prints metrics to w every
// interval. The returned function flushes and shuts the provider down.
func InstallStdout(w io.Writer, every time.Duration) (func(context.Context) error, error) {
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(every))),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}
