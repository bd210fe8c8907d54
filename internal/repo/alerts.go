package repo

import (
	"context"
	"time"

	"github.com/hamed0406/netwatch/internal/domain"
)

// AlertRecord holds the last status we alerted on and the last time we sent a
// notification for a service (used for cooldown).
type AlertRecord struct {
	ServiceID  domain.ServiceID
	LastStatus domain.Status
	LastSentAt *time.Time
}

// AlertStore is implemented by a persistence layer to store alert state.
type AlertStore interface {
	// Get returns nil, nil if there's no record yet.
	Get(ctx context.Context, id domain.ServiceID) (*AlertRecord, error)
	// Set upserts the record. If sentAt.IsZero() we store NULL for last_sent_at.
	Set(ctx context.Context, id domain.ServiceID, status domain.Status, sentAt time.Time) error
}
