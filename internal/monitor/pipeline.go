// Package monitor wires probe results through the state machines into the
// snapshot bus and the history writer.
package monitor

import (
	"context"

	"go.uber.org/zap"

	"github.com/hamed0406/netwatch/internal/domain"
	"github.com/hamed0406/netwatch/internal/snapshot"
	"github.com/hamed0406/netwatch/internal/state"
	"github.com/hamed0406/netwatch/internal/telemetry"
)

// Enqueuer accepts history records; history.Writer satisfies it.
type Enqueuer interface {
	Enqueue(rec domain.HistoryRecord) error
}

type Pipeline struct {
	log     *zap.Logger
	table   *state.Table
	bus     *snapshot.Bus
	history Enqueuer
	metrics *telemetry.Metrics
}

func NewPipeline(log *zap.Logger, table *state.Table, bus *snapshot.Bus, history Enqueuer, m *telemetry.Metrics) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = telemetry.Nop()
	}
	return &Pipeline{log: log, table: table, bus: bus, history: history, metrics: m}
}

// Handle applies one probe result. The snapshot is updated and any
// transition published before the record is queued for persistence.
func (p *Pipeline) Handle(ctx context.Context, def domain.ServiceDefinition, res domain.ProbeResult) {
	m, ok := p.table.Get(def.ID)
	if !ok {
		p.log.Warn("unknown_service_result", zap.String("service_id", string(def.ID)))
		return
	}
	rec, tr := m.Apply(res)
	p.bus.Update(state.View(def, m.State()))

	p.metrics.ProbeDone(ctx, def.Protocol, res)
	p.log.Debug("probe_done",
		zap.String("service_id", string(def.ID)),
		zap.String("protocol", string(def.Protocol)),
		zap.Bool("success", res.Success),
		zap.Float64("latency_ms", res.LatencyMS()),
		zap.String("error_kind", string(res.ErrorKind)),
		zap.String("message", res.Message),
		zap.Int("attempts", res.Attempts),
		zap.String("status", string(rec.Status)),
	)

	if tr != nil {
		p.bus.Publish(*tr)
		p.metrics.Transition(ctx, *tr)
		p.log.Info("status_transition",
			zap.String("service_id", string(tr.ServiceID)),
			zap.String("from", string(tr.From)),
			zap.String("to", string(tr.To)),
			zap.String("error_kind", string(res.ErrorKind)),
			zap.Time("at", tr.At),
		)
	}

	if err := p.history.Enqueue(rec); err != nil {
		p.log.Warn("history_enqueue_failed", zap.String("service_id", string(def.ID)), zap.Error(err))
	}
}
