// Package snapshot holds the live status of every service and fans out
// transition events.
package snapshot

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hamed0406/netwatch/internal/domain"
)

// Snapshot is an immutable view of all services at one point in time.
type Snapshot struct {
	Version  uint64
	TakenAt  time.Time
	Services map[domain.ServiceID]domain.StatusView
}

// List returns the views sorted by service id.
func (s *Snapshot) List() []domain.StatusView {
	out := make([]domain.StatusView, 0, len(s.Services))
	for _, v := range s.Services {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

// Bus publishes snapshots copy-on-write: writers serialize on a mutex and
// swap in a new map, readers load the pointer and never block.
type Bus struct {
	cur atomic.Pointer[Snapshot]

	writeMu sync.Mutex

	subMu  sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	bufSize int
}

func NewBus(initial []domain.StatusView, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	b := &Bus{subs: make(map[*Subscription]struct{}), bufSize: bufSize}
	m := make(map[domain.ServiceID]domain.StatusView, len(initial))
	for _, v := range initial {
		m[v.ServiceID] = v
	}
	b.cur.Store(&Snapshot{TakenAt: time.Now(), Services: m})
	return b
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (b *Bus) Snapshot() *Snapshot {
	return b.cur.Load()
}

// Update replaces the view of one service.
func (b *Bus) Update(v domain.StatusView) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	old := b.cur.Load()
	m := make(map[domain.ServiceID]domain.StatusView, len(old.Services)+1)
	for k, sv := range old.Services {
		m[k] = sv
	}
	m[v.ServiceID] = v
	b.cur.Store(&Snapshot{Version: old.Version + 1, TakenAt: time.Now(), Services: m})
}

// Publish delivers ev to every subscriber without blocking. A subscriber whose
// buffer is full misses the event and has its drop counter bumped.
func (b *Bus) Publish(ev domain.TransitionEvent) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		s.send(ev)
	}
}

// Subscribe registers a subscriber with the given buffer (bus default when
// buf <= 0). After Close the returned subscription is already closed.
func (b *Bus) Subscribe(buf int) *Subscription {
	if buf <= 0 {
		buf = b.bufSize
	}
	s := &Subscription{bus: b, ch: make(chan domain.TransitionEvent, buf)}

	b.subMu.Lock()
	defer b.subMu.Unlock()
	if b.closed {
		s.closeCh()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Close ends every subscription. Update keeps working.
func (b *Bus) Close() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.closeCh()
	}
	b.subs = map[*Subscription]struct{}{}
}

// Dropped sums the drops of all live subscriptions.
func (b *Bus) Dropped() uint64 {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	var n uint64
	for s := range b.subs {
		n += s.Dropped()
	}
	return n
}

type Subscription struct {
	bus     *Bus
	ch      chan domain.TransitionEvent
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

func (s *Subscription) Events() <-chan domain.TransitionEvent { return s.ch }

func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.subMu.Lock()
	delete(s.bus.subs, s)
	s.bus.subMu.Unlock()
	s.closeCh()
}

func (s *Subscription) closeCh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription) send(ev domain.TransitionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}
