package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hamed0406/netwatch/internal/domain"
)

var scheduleParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ParseSchedule accepts five-field cron expressions and descriptors such as
// "@every 5m" or "@hourly".
func ParseSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}
	s, err := scheduleParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return s, nil
}

// UptimeSource computes uptime; history.Reader satisfies it.
type UptimeSource interface {
	Uptime(ctx context.Context, id domain.ServiceID, from, to time.Time) (domain.UptimeAggregate, error)
}

// Summarizer periodically logs the uptime of every service over a trailing
// window.
type Summarizer struct {
	log    *zap.Logger
	src    UptimeSource
	ids    []domain.ServiceID
	window time.Duration
	now    func() time.Time
	cron   *cron.Cron
}

func NewSummarizer(log *zap.Logger, src UptimeSource, ids []domain.ServiceID, window time.Duration) *Summarizer {
	if log == nil {
		log = zap.NewNop()
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Summarizer{log: log, src: src, ids: ids, window: window, now: time.Now}
}

// Start runs the summary on expr until Stop.
func (s *Summarizer) Start(expr string) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return err
	}
	s.cron = cron.New(cron.WithParser(scheduleParser), cron.WithLocation(time.UTC))
	s.cron.Schedule(sched, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.RunOnce(ctx)
	}))
	s.cron.Start()
	s.log.Info("summarizer_started", zap.String("schedule", expr), zap.Duration("window", s.window))
	return nil
}

// Stop waits for a running summary to finish or ctx to end.
func (s *Summarizer) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce logs one summary line per service and returns the aggregates.
func (s *Summarizer) RunOnce(ctx context.Context) []domain.UptimeAggregate {
	to := s.now().UTC()
	from := to.Add(-s.window)
	out := make([]domain.UptimeAggregate, 0, len(s.ids))
	for _, id := range s.ids {
		agg, err := s.src.Uptime(ctx, id, from, to)
		if err != nil {
			s.log.Warn("uptime_summary_error", zap.String("service_id", string(id)), zap.Error(err))
			continue
		}
		out = append(out, agg)
		s.log.Info("uptime_summary",
			zap.String("service_id", string(id)),
			zap.Duration("window", s.window),
			zap.Int("checks", agg.Total),
			zap.Float64("uptime_percent", agg.UptimePercent),
			zap.Int("failures", agg.Failures),
			zap.Duration("mtbf", agg.MTBF),
			zap.Float64("avg_latency_ms", agg.AvgLatencyMS),
		)
	}
	return out
}
