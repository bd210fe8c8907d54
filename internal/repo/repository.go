package repo

import (
	"context"
	"time"

	"github.com/hamed0406/netwatch/internal/domain"
)

// Ports (interfaces); swap in any DB adapter later.

// ServiceStore keeps the definition metadata of the monitored services.
type ServiceStore interface {
	// SaveServices upserts every definition by id.
	SaveServices(ctx context.Context, defs []domain.ServiceDefinition) error
	Services(ctx context.Context) ([]domain.ServiceDefinition, error)
}

// HistoryStore is the append-only probe history.
type HistoryStore interface {
	ServiceStore
	// AppendHistory writes a batch atomically, in order. Records carrying a
	// Transition also add a row to the transition log.
	AppendHistory(ctx context.Context, recs []domain.HistoryRecord) error
	// History returns records with from <= Timestamp <= to in insertion order.
	// limit > 0 keeps only the newest limit records.
	History(ctx context.Context, id domain.ServiceID, from, to time.Time, limit int) ([]domain.HistoryRecord, error)
	Transitions(ctx context.Context, id domain.ServiceID, from, to time.Time) ([]domain.TransitionEvent, error)
	Close() error
}

// Store is what a backend offers as a whole.
type Store interface {
	HistoryStore
	AlertStore
}
