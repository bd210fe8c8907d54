package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hamed0406/netwatch/internal/domain"
	"github.com/hamed0406/netwatch/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	mu          sync.RWMutex
	services    map[domain.ServiceID]domain.ServiceDefinition
	order       []domain.ServiceID
	history     []domain.HistoryRecord
	transitions []domain.TransitionEvent
	alerts      map[domain.ServiceID]repo.AlertRecord
	failNext    int
}

func New() *Store {
	return &Store{
		services: make(map[domain.ServiceID]domain.ServiceDefinition),
		history:  make([]domain.HistoryRecord, 0, 128),
		alerts:   make(map[domain.ServiceID]repo.AlertRecord),
	}
}

// FailNext makes the next n AppendHistory calls return an error.
func (m *Store) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

func (m *Store) SaveServices(ctx context.Context, defs []domain.ServiceDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range defs {
		if _, ok := m.services[d.ID]; !ok {
			m.order = append(m.order, d.ID)
		}
		m.services[d.ID] = d
	}
	return nil
}

func (m *Store) Services(ctx context.Context) ([]domain.ServiceDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ServiceDefinition, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.services[id])
	}
	return out, nil
}

func (m *Store) AppendHistory(ctx context.Context, recs []domain.HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return errInjected
	}
	for _, r := range recs {
		m.history = append(m.history, r)
		if r.Transition != nil {
			m.transitions = append(m.transitions, *r.Transition)
		}
	}
	return nil
}

func (m *Store) History(ctx context.Context, id domain.ServiceID, from, to time.Time, limit int) ([]domain.HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.HistoryRecord
	for _, r := range m.history {
		if r.ServiceID == id && inWindow(r.Timestamp, from, to) {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Store) Transitions(ctx context.Context, id domain.ServiceID, from, to time.Time) ([]domain.TransitionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.TransitionEvent
	for _, t := range m.transitions {
		if t.ServiceID == id && inWindow(t.At, from, to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Store) Get(ctx context.Context, id domain.ServiceID) (*repo.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.alerts[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Store) Set(ctx context.Context, id domain.ServiceID, status domain.Status, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := repo.AlertRecord{ServiceID: id, LastStatus: status}
	if !sentAt.IsZero() {
		ts := sentAt
		r.LastSentAt = &ts
	}
	m.alerts[id] = r
	return nil
}

func (m *Store) Close() error { return nil }

func inWindow(ts, from, to time.Time) bool {
	return !ts.Before(from) && !ts.After(to)
}

var errInjected = errors.New("memory: injected append failure")
