package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/netwatch/internal/domain"
	"github.com/hamed0406/netwatch/internal/repo"
)

//go:embed schema.sql
var schemaSQL string

var _ repo.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New connects, pings and applies the schema (idempotent).
func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

type serviceOptions struct {
	HTTP domain.HTTPOptions `json:"http"`
	DNS  domain.DNSOptions  `json:"dns"`
}

// ---- ServiceStore ----

func (s *Store) SaveServices(ctx context.Context, defs []domain.ServiceDefinition) error {
	b := &pgx.Batch{}
	for _, d := range defs {
		opts, err := json.Marshal(serviceOptions{HTTP: d.HTTP, DNS: d.DNS})
		if err != nil {
			return fmt.Errorf("encode options for %s: %w", d.ID, err)
		}
		b.Queue(`
			INSERT INTO services (id, name, protocol, target, interval_ms, timeout_ms,
			                      failure_threshold, recovery_threshold, latency_threshold_ms, options, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
			ON CONFLICT (id) DO UPDATE SET
			  name=EXCLUDED.name, protocol=EXCLUDED.protocol, target=EXCLUDED.target,
			  interval_ms=EXCLUDED.interval_ms, timeout_ms=EXCLUDED.timeout_ms,
			  failure_threshold=EXCLUDED.failure_threshold, recovery_threshold=EXCLUDED.recovery_threshold,
			  latency_threshold_ms=EXCLUDED.latency_threshold_ms, options=EXCLUDED.options,
			  updated_at=now()`,
			string(d.ID), d.Name, string(d.Protocol), d.Target,
			d.Interval.Milliseconds(), d.Timeout.Milliseconds(),
			d.FailureThreshold, d.RecoveryThreshold, d.LatencyThreshold.Milliseconds(), opts,
		)
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return fmt.Errorf("save services: %w", err)
	}
	return nil
}

func (s *Store) Services(ctx context.Context) ([]domain.ServiceDefinition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, protocol, target, interval_ms, timeout_ms,
		       failure_threshold, recovery_threshold, latency_threshold_ms, options
		  FROM services
		 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var out []domain.ServiceDefinition
	for rows.Next() {
		var (
			d                            domain.ServiceDefinition
			id, proto                    string
			intervalMS, timeoutMS, latMS int64
			opts                         []byte
		)
		if err := rows.Scan(&id, &d.Name, &proto, &d.Target, &intervalMS, &timeoutMS,
			&d.FailureThreshold, &d.RecoveryThreshold, &latMS, &opts); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		var so serviceOptions
		if err := json.Unmarshal(opts, &so); err != nil {
			return nil, fmt.Errorf("decode options for %s: %w", id, err)
		}
		d.ID = domain.ServiceID(id)
		d.Protocol = domain.Protocol(proto)
		d.Interval = time.Duration(intervalMS) * time.Millisecond
		d.Timeout = time.Duration(timeoutMS) * time.Millisecond
		d.LatencyThreshold = time.Duration(latMS) * time.Millisecond
		d.HTTP, d.DNS = so.HTTP, so.DNS
		out = append(out, d)
	}
	return out, rows.Err()
}

// ---- HistoryStore ----

func (s *Store) AppendHistory(ctx context.Context, recs []domain.HistoryRecord) error {
	if len(recs) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, r := range recs {
		var transitionID *string
		if t := r.Transition; t != nil {
			id := t.ID
			transitionID = &id
			b.Queue(`
				INSERT INTO status_transitions (id, service_id, old_status, new_status, timestamp)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO NOTHING`,
				t.ID, string(t.ServiceID), string(t.From), string(t.To), t.At)
		}
		b.Queue(`
			INSERT INTO probe_history (service_id, timestamp, success, latency_ms, error_kind, resulting_status, transition_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			string(r.ServiceID), r.Timestamp, r.Success, r.LatencyMS, string(r.ErrorKind), string(r.Status), transitionID)
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, id domain.ServiceID, from, to time.Time, limit int) ([]domain.HistoryRecord, error) {
	q := `
		SELECT h.service_id, h.timestamp, h.success, h.latency_ms, h.error_kind, h.resulting_status,
		       t.id, t.old_status, t.new_status, t.timestamp
		  FROM probe_history h
		  LEFT JOIN status_transitions t ON t.id = h.transition_id
		 WHERE h.service_id = $1 AND h.timestamp >= $2 AND h.timestamp <= $3
		 ORDER BY h.id DESC`
	args := []any{string(id), from, to}
	if limit > 0 {
		q += " LIMIT $4"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryRecord
	for rows.Next() {
		var (
			r                 domain.HistoryRecord
			sid, kind, status string
			ts                time.Time
			tID, tFrom, tTo   *string
			tAt               *time.Time
		)
		if err := rows.Scan(&sid, &ts, &r.Success, &r.LatencyMS, &kind, &status, &tID, &tFrom, &tTo, &tAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.ServiceID = domain.ServiceID(sid)
		r.Timestamp = ts.UTC()
		r.ErrorKind = domain.ErrorKind(kind)
		r.Status = domain.Status(status)
		if tID != nil && tFrom != nil && tTo != nil && tAt != nil {
			r.Transition = &domain.TransitionEvent{
				ID:        *tID,
				ServiceID: r.ServiceID,
				From:      domain.Status(*tFrom),
				To:        domain.Status(*tTo),
				At:        tAt.UTC(),
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) Transitions(ctx context.Context, id domain.ServiceID, from, to time.Time) ([]domain.TransitionEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, old_status, new_status, timestamp
		  FROM status_transitions
		 WHERE service_id = $1 AND timestamp >= $2 AND timestamp <= $3
		 ORDER BY timestamp, id`,
		string(id), from, to)
	if err != nil {
		return nil, fmt.Errorf("transitions: %w", err)
	}
	defer rows.Close()

	var out []domain.TransitionEvent
	for rows.Next() {
		var (
			ev           domain.TransitionEvent
			fromSt, toSt string
			at           time.Time
		)
		if err := rows.Scan(&ev.ID, &fromSt, &toSt, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		ev.ServiceID = id
		ev.From = domain.Status(fromSt)
		ev.To = domain.Status(toSt)
		ev.At = at.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
