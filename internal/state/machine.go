// Package state turns the raw probe stream of a service into a debounced
// status. A Machine has a single writer: the scheduler never runs two probes
// of one service at once, so Apply calls for a service are serialized.
package state

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hamed0406/netwatch/internal/domain"
)

type Machine struct {
	def   domain.ServiceDefinition
	newID func() string

	mu    sync.RWMutex
	state domain.ServiceState
}

func New(def domain.ServiceDefinition) *Machine {
	return &Machine{
		def:   def,
		newID: uuid.NewString,
		state: domain.ServiceState{Status: domain.StatusUnknown},
	}
}

func (m *Machine) Definition() domain.ServiceDefinition { return m.def }

func (m *Machine) State() domain.ServiceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Apply folds one probe result into the state. It returns the history record
// for the result and, when the status changed, the transition event (also
// attached to the record).
func (m *Machine) Apply(res domain.ProbeResult) (domain.HistoryRecord, *domain.TransitionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &m.state
	slow := res.Success && m.def.LatencyThreshold > 0 && res.Latency > m.def.LatencyThreshold

	switch {
	case !res.Success:
		st.ConsecutiveFailures++
		st.ConsecutiveSuccesses, st.ConsecutiveFast, st.ConsecutiveSlow = 0, 0, 0
	case slow:
		st.ConsecutiveFailures = 0
		st.ConsecutiveSuccesses++
		st.ConsecutiveSlow++
		st.ConsecutiveFast = 0
	default:
		st.ConsecutiveFailures = 0
		st.ConsecutiveSuccesses++
		st.ConsecutiveFast++
		st.ConsecutiveSlow = 0
	}
	st.LastLatency = res.Latency
	st.LastCheck = res.StartedAt
	st.LastError = res.ErrorKind

	target, streak := m.candidate(res.Success, slow)

	rec := domain.HistoryRecord{
		ServiceID: m.def.ID,
		Timestamp: res.StartedAt,
		Success:   res.Success,
		LatencyMS: res.LatencyMS(),
		ErrorKind: res.ErrorKind,
	}

	var ev *domain.TransitionEvent
	if target != st.Status && streak >= m.threshold(st.Status, target) {
		ev = &domain.TransitionEvent{
			ID:        m.newID(),
			ServiceID: m.def.ID,
			From:      st.Status,
			To:        target,
			At:        res.StartedAt,
		}
		st.Status = target
		st.LastTransition = res.StartedAt
		rec.Transition = ev
	}
	rec.Status = st.Status
	return rec, ev
}

// candidate returns the status the latest result argues for and how many
// consecutive results agree with it.
func (m *Machine) candidate(success, slow bool) (domain.Status, int) {
	st := m.state
	if !success {
		return domain.StatusDown, st.ConsecutiveFailures
	}
	target, streak := domain.StatusUp, st.ConsecutiveFast
	if slow {
		target, streak = domain.StatusDegraded, st.ConsecutiveSlow
	}
	// Leaving UNKNOWN or DOWN only needs proof of connectivity.
	if st.Status == domain.StatusUnknown || st.Status == domain.StatusDown {
		streak = st.ConsecutiveSuccesses
	}
	return target, streak
}

func (m *Machine) threshold(from, to domain.Status) int {
	n := m.def.RecoveryThreshold
	if to.Severity() > from.Severity() {
		n = m.def.FailureThreshold
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Table holds one Machine per service. The map is fixed at construction.
type Table struct {
	machines map[domain.ServiceID]*Machine
	order    []domain.ServiceID
}

func NewTable(defs []domain.ServiceDefinition) *Table {
	t := &Table{machines: make(map[domain.ServiceID]*Machine, len(defs))}
	for _, d := range defs {
		t.machines[d.ID] = New(d)
		t.order = append(t.order, d.ID)
	}
	return t
}

func (t *Table) Get(id domain.ServiceID) (*Machine, bool) {
	m, ok := t.machines[id]
	return m, ok
}

// Views returns the current status of every service in registry order.
func (t *Table) Views() []domain.StatusView {
	out := make([]domain.StatusView, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, View(t.machines[id].def, t.machines[id].State()))
	}
	return out
}

// View projects a state into the dashboard shape.
func View(def domain.ServiceDefinition, st domain.ServiceState) domain.StatusView {
	return domain.StatusView{
		ServiceID:           def.ID,
		Name:                def.Name,
		Protocol:            def.Protocol,
		Status:              st.Status,
		LastLatencyMS:       float64(st.LastLatency) / float64(time.Millisecond),
		LastChange:          st.LastTransition,
		ConsecutiveFailures: st.ConsecutiveFailures,
		LastCheck:           st.LastCheck,
		LastError:           st.LastError,
	}
}
