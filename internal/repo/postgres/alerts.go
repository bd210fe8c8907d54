package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hamed0406/netwatch/internal/domain"
	"github.com/hamed0406/netwatch/internal/repo"
)

func (s *Store) Get(ctx context.Context, id domain.ServiceID) (*repo.AlertRecord, error) {
	const q = `SELECT last_status, last_sent_at FROM alerts WHERE service_id=$1`
	var (
		status   string
		lastSent *time.Time
	)
	err := s.pool.QueryRow(ctx, q, string(id)).Scan(&status, &lastSent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r := &repo.AlertRecord{ServiceID: id, LastStatus: domain.Status(status)}
	if lastSent != nil {
		ts := lastSent.UTC()
		r.LastSentAt = &ts
	}
	return r, nil
}

func (s *Store) Set(ctx context.Context, id domain.ServiceID, status domain.Status, sentAt time.Time) error {
	const q = `
		INSERT INTO alerts (service_id, last_status, last_sent_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (service_id)
		DO UPDATE SET last_status=EXCLUDED.last_status, last_sent_at=EXCLUDED.last_sent_at
	`
	var ts *time.Time
	if !sentAt.IsZero() {
		ts = &sentAt
	}
	_, err := s.pool.Exec(ctx, q, string(id), string(status), ts)
	return err
}
