package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/netwatch/internal/domain"
	"github.com/hamed0406/netwatch/internal/notify"
	"github.com/hamed0406/netwatch/internal/repo"
	"github.com/hamed0406/netwatch/internal/snapshot"
)

type AlerterConfig struct {
	AlertOnRecovery bool
	Cooldown        time.Duration
	Names           map[domain.ServiceID]string // display names, id is used when missing
}

// Alerter turns transition events into notifications.
type Alerter struct {
	log      *zap.Logger
	alertDB  repo.AlertStore
	notifier notify.Notifier
	cfg      AlerterConfig
	now      func() time.Time
}

func NewAlerter(log *zap.Logger, alertDB repo.AlertStore, notifier notify.Notifier, cfg AlerterConfig) *Alerter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Alerter{
		log:      log,
		alertDB:  alertDB,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run consumes sub until ctx ends or the subscription is closed.
func (a *Alerter) Run(ctx context.Context, sub *snapshot.Subscription) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := a.handle(ctx, ev); err != nil {
				a.log.Warn("alert_failed", zap.String("service_id", string(ev.ServiceID)), zap.Error(err))
			}
		}
	}
}

func (a *Alerter) handle(ctx context.Context, ev domain.TransitionEvent) error {
	rec, err := a.alertDB.Get(ctx, ev.ServiceID)
	if err != nil {
		return fmt.Errorf("load alert state: %w", err)
	}
	now := a.now()

	stateChanged := rec == nil || rec.LastStatus != ev.To

	// Cooldown only applies to bad-news alerts.
	cooled := true
	if rec != nil && rec.LastSentAt != nil {
		cooled = now.Sub(*rec.LastSentAt) >= a.cfg.Cooldown
	}

	bad := ev.To == domain.StatusDown || ev.To == domain.StatusDegraded
	wasBad := ev.From == domain.StatusDown || ev.From == domain.StatusDegraded
	badAlert := stateChanged && bad && cooled
	recoveryAlert := stateChanged && ev.To == domain.StatusUp && wasBad && a.cfg.AlertOnRecovery

	if !badAlert && !recoveryAlert {
		if !stateChanged {
			return nil
		}
		// keep the last send time so the cooldown survives flapping
		var lastSent time.Time
		if rec != nil && rec.LastSentAt != nil {
			lastSent = *rec.LastSentAt
		}
		return a.alertDB.Set(ctx, ev.ServiceID, ev.To, lastSent)
	}

	title, text := a.format(ev)
	sendErr := a.notifier.Send(ctx, title, text)
	if sendErr != nil {
		a.log.Warn("alert_send_failed", zap.String("service_id", string(ev.ServiceID)), zap.Error(sendErr))
	} else {
		a.log.Info("alert_sent", zap.String("service_id", string(ev.ServiceID)), zap.String("status", string(ev.To)))
	}
	return a.alertDB.Set(ctx, ev.ServiceID, ev.To, now)
}

func (a *Alerter) format(ev domain.TransitionEvent) (string, string) {
	var title string
	switch ev.To {
	case domain.StatusDown:
		title = "🔴 Service DOWN"
	case domain.StatusDegraded:
		title = "🟠 Service DEGRADED"
	default:
		title = "🟢 Service RECOVERED"
	}
	name := a.cfg.Names[ev.ServiceID]
	if name == "" {
		name = string(ev.ServiceID)
	}
	text := fmt.Sprintf("Service: %s (%s)\nStatus: %s -> %s\nAt: %s",
		name, ev.ServiceID, ev.From, ev.To, ev.At.Format(time.RFC3339))
	return title, text
}
