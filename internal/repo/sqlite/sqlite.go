// Package sqlite is the default history backend: a single local database file
// in WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/netwatch/internal/domain"
	"github.com/hamed0406/netwatch/internal/repo"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

var _ repo.Store = (*Store)(nil)

type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (or creates) the database at path. ":memory:" gives a private
// in-process database.
func Open(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection: there is a single writer, and ":memory:" databases are
	// per connection.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: set WAL mode: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	log.Info("sqlite_opened", zap.String("path", path))
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type serviceOptions struct {
	HTTP domain.HTTPOptions `json:"http"`
	DNS  domain.DNSOptions  `json:"dns"`
}

// ---- ServiceStore ----

func (s *Store) SaveServices(ctx context.Context, defs []domain.ServiceDefinition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO services (id, name, protocol, target, interval_ms, timeout_ms,
		                      failure_threshold, recovery_threshold, latency_threshold_ms, options, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		  name=excluded.name, protocol=excluded.protocol, target=excluded.target,
		  interval_ms=excluded.interval_ms, timeout_ms=excluded.timeout_ms,
		  failure_threshold=excluded.failure_threshold, recovery_threshold=excluded.recovery_threshold,
		  latency_threshold_ms=excluded.latency_threshold_ms, options=excluded.options,
		  updated_at=excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare services: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixNano()
	for _, d := range defs {
		opts, err := json.Marshal(serviceOptions{HTTP: d.HTTP, DNS: d.DNS})
		if err != nil {
			return fmt.Errorf("sqlite: encode options for %s: %w", d.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			string(d.ID), d.Name, string(d.Protocol), d.Target,
			d.Interval.Milliseconds(), d.Timeout.Milliseconds(),
			d.FailureThreshold, d.RecoveryThreshold, d.LatencyThreshold.Milliseconds(),
			string(opts), now,
		); err != nil {
			return fmt.Errorf("sqlite: upsert service %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Services(ctx context.Context) ([]domain.ServiceDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, protocol, target, interval_ms, timeout_ms,
		       failure_threshold, recovery_threshold, latency_threshold_ms, options
		  FROM services
		 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list services: %w", err)
	}
	defer rows.Close()

	var out []domain.ServiceDefinition
	for rows.Next() {
		var (
			d                            domain.ServiceDefinition
			id, proto, opts              string
			intervalMS, timeoutMS, latMS int64
		)
		if err := rows.Scan(&id, &d.Name, &proto, &d.Target, &intervalMS, &timeoutMS,
			&d.FailureThreshold, &d.RecoveryThreshold, &latMS, &opts); err != nil {
			return nil, fmt.Errorf("sqlite: scan service: %w", err)
		}
		var so serviceOptions
		if err := json.Unmarshal([]byte(opts), &so); err != nil {
			return nil, fmt.Errorf("sqlite: decode options for %s: %w", id, err)
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	hist, err := tx.PrepareContext(ctx, `
		INSERT INTO probe_history (service_id, timestamp, success, latency_ms, error_kind, resulting_status, transition_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare history: %w", err)
	}
	defer hist.Close()

	trans, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO status_transitions (id, service_id, old_status, new_status, timestamp)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare transitions: %w", err)
	}
	defer trans.Close()

	for _, r := range recs {
		var transitionID sql.NullString
		if t := r.Transition; t != nil {
			transitionID = sql.NullString{String: t.ID, Valid: true}
			if _, err := trans.ExecContext(ctx, t.ID, string(t.ServiceID), string(t.From), string(t.To), t.At.UnixNano()); err != nil {
				return fmt.Errorf("sqlite: insert transition: %w", err)
			}
		}
		if _, err := hist.ExecContext(ctx,
			string(r.ServiceID), r.Timestamp.UnixNano(), r.Success, r.LatencyMS,
			string(r.ErrorKind), string(r.Status), transitionID,
		); err != nil {
			return fmt.Errorf("sqlite: insert history: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) History(ctx context.Context, id domain.ServiceID, from, to time.Time, limit int) ([]domain.HistoryRecord, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.service_id, h.timestamp, h.success, h.latency_ms, h.error_kind, h.resulting_status,
		       t.id, t.old_status, t.new_status, t.timestamp
		  FROM probe_history h
		  LEFT JOIN status_transitions t ON t.id = h.transition_id
		 WHERE h.service_id = ? AND h.timestamp >= ? AND h.timestamp <= ?
		 ORDER BY h.id DESC
		 LIMIT ?`,
		string(id), toNanos(from), toNanos(to), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryRecord
	for rows.Next() {
		var (
			r                 domain.HistoryRecord
			sid, kind, status string
			ts                int64
			tID, tFrom, tTo   sql.NullString
			tAt               sql.NullInt64
		)
		if err := rows.Scan(&sid, &ts, &r.Success, &r.LatencyMS, &kind, &status, &tID, &tFrom, &tTo, &tAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan history: %w", err)
		}
		r.ServiceID = domain.ServiceID(sid)
		r.Timestamp = fromNanos(ts)
		r.ErrorKind = domain.ErrorKind(kind)
		r.Status = domain.Status(status)
		if tID.Valid {
			r.Transition = &domain.TransitionEvent{
				ID:        tID.String,
				ServiceID: r.ServiceID,
				From:      domain.Status(tFrom.String),
				To:        domain.Status(tTo.String),
				At:        fromNanos(tAt.Int64),
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// newest first from the query; callers want insertion order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) Transitions(ctx context.Context, id domain.ServiceID, from, to time.Time) ([]domain.TransitionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, old_status, new_status, timestamp
		  FROM status_transitions
		 WHERE service_id = ? AND timestamp >= ? AND timestamp <= ?
		 ORDER BY timestamp, rowid`,
		string(id), toNanos(from), toNanos(to))
	if err != nil {
		return nil, fmt.Errorf("sqlite: transitions: %w", err)
	}
	defer rows.Close()

	var out []domain.TransitionEvent
	for rows.Next() {
		var (
			ev           domain.TransitionEvent
			fromSt, toSt string
			at           int64
		)
		if err := rows.Scan(&ev.ID, &fromSt, &toSt, &at); err != nil {
			return nil, fmt.Errorf("sqlite: scan transition: %w", err)
		}
		ev.ServiceID = id
		ev.From = domain.Status(fromSt)
		ev.To = domain.Status(toSt)
		ev.At = fromNanos(at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ---- AlertStore ----

func (s *Store) Get(ctx context.Context, id domain.ServiceID) (*repo.AlertRecord, error) {
	var (
		status   string
		lastSent sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_status, last_sent_at FROM alerts WHERE service_id = ?`, string(id),
	).Scan(&status, &lastSent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: get alert: %w", err)
	}
	r := &repo.AlertRecord{ServiceID: id, LastStatus: domain.Status(status)}
	if lastSent.Valid {
		ts := fromNanos(lastSent.Int64)
		r.LastSentAt = &ts
	}
	return r, nil
}

func (s *Store) Set(ctx context.Context, id domain.ServiceID, status domain.Status, sentAt time.Time) error {
	var ts sql.NullInt64
	if !sentAt.IsZero() {
		ts = sql.NullInt64{Int64: sentAt.UnixNano(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (service_id, last_status, last_sent_at)
		VALUES (?, ?, ?)
		ON CONFLICT (service_id)
		DO UPDATE SET last_status=excluded.last_status, last_sent_at=excluded.last_sent_at`,
		string(id), string(status), ts)
	if err != nil {
		return fmt.Errorf("sqlite: set alert: %w", err)
	}
	return nil
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// toNanos maps the zero time to the epoch; UnixNano is undefined for it.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
