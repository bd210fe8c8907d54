package history

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hamed0406/netwatch/internal/domain"
	"github.com/hamed0406/netwatch/internal/repo"
)

// Reader answers history queries from a HistoryStore.
type Reader struct {
	store repo.HistoryStore
}

func NewReader(store repo.HistoryStore) *Reader {
	return &Reader{store: store}
}

func (r *Reader) History(ctx context.Context, id domain.ServiceID, from, to time.Time, limit int) ([]domain.HistoryRecord, error) {
	return r.store.History(ctx, id, from, to, limit)
}

func (r *Reader) Transitions(ctx context.Context, id domain.ServiceID, from, to time.Time) ([]domain.TransitionEvent, error) {
	return r.store.Transitions(ctx, id, from, to)
}

// Uptime aggregates the records in [from, to].
//
// UptimePercent is successful probes over all probes (0 with no samples).
// Failures counts entries into DOWN and MTBF is the window length divided by
// that count. AvgLatencyMS averages successful probes only.
func (r *Reader) Uptime(ctx context.Context, id domain.ServiceID, from, to time.Time) (domain.UptimeAggregate, error) {
	recs, err := r.store.History(ctx, id, from, to, 0)
	if err != nil {
		return domain.UptimeAggregate{}, fmt.Errorf("uptime %s: %w", id, err)
	}
	agg := domain.UptimeAggregate{ServiceID: id, From: from, To: to, Total: len(recs)}
	var latency float64
	for _, rec := range recs {
		if rec.Success {
			agg.Successes++
			latency += rec.LatencyMS
		}
		if rec.Transition != nil && rec.Transition.To == domain.StatusDown {
			agg.Failures++
		}
	}
	if agg.Total > 0 {
		agg.UptimePercent = float64(agg.Successes) / float64(agg.Total) * 100
	}
	if agg.Successes > 0 {
		agg.AvgLatencyMS = math.Round(latency/float64(agg.Successes)*100) / 100
	}
	if agg.Failures > 0 && to.After(from) {
		agg.MTBF = to.Sub(from) / time.Duration(agg.Failures)
	}
	return agg, nil
}
