package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hamed0406/netwatch/internal/domain"
)

var ErrUnknownService = errors.New("unknown service")

// Executor runs one probe. probe.Set satisfies it.
type Executor interface {
	Execute(ctx context.Context, def domain.ServiceDefinition) domain.ProbeResult
}

// ResultHandler receives every completed probe. Calls for one service never
// overlap and arrive in probe order.
type ResultHandler interface {
	Handle(ctx context.Context, def domain.ServiceDefinition, res domain.ProbeResult)
}

type HandlerFunc func(ctx context.Context, def domain.ServiceDefinition, res domain.ProbeResult)

func (f HandlerFunc) Handle(ctx context.Context, def domain.ServiceDefinition, res domain.ProbeResult) {
	f(ctx, def, res)
}

type Config struct {
	MaxConcurrent int
	Tick          time.Duration
	MaxJitter     time.Duration
	Grace         time.Duration
}

type entry struct {
	def       domain.ServiceDefinition
	next      time.Time
	inFlight  bool
	triggered bool
}

type Scheduler struct {
	log     *zap.Logger
	exec    Executor
	handler ResultHandler
	cfg     Config
	sem     *semaphore.Weighted
	jitter  func(n int64) int64

	mu      sync.Mutex
	entries map[domain.ServiceID]*entry
	order   []domain.ServiceID
	wake    chan struct{}
	wg      sync.WaitGroup

	stopping atomic.Bool // probes still waiting for a slot give up
}

func New(log *zap.Logger, defs []domain.ServiceDefinition, exec Executor, h ResultHandler, cfg Config) *Scheduler {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 100 * time.Millisecond
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{
		log:     log,
		exec:    exec,
		handler: h,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		jitter:  rand.Int64N,
		entries: make(map[domain.ServiceID]*entry, len(defs)),
		wake:    make(chan struct{}, 1),
	}
	for _, d := range defs {
		s.entries[d.ID] = &entry{def: d}
		s.order = append(s.order, d.ID)
	}
	return s
}

// Run dispatches due probes until ctx is cancelled, then waits up to Grace
// for in-flight probes before cancelling them. It returns once every probe
// goroutine has exited.
func (s *Scheduler) Run(ctx context.Context) error {
	probeCtx, cancelProbes := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelProbes()
	handlerCtx := context.WithoutCancel(ctx)

	now := time.Now()
	s.mu.Lock()
	for _, id := range s.order {
		e := s.entries[id]
		e.next = now.Add(s.initialDelay(e.def.Interval))
	}
	s.mu.Unlock()
	s.log.Info("scheduler_started", zap.Int("services", len(s.order)), zap.Int("max_concurrent", s.cfg.MaxConcurrent))

	t := time.NewTicker(s.cfg.Tick)
	defer t.Stop()

	s.dispatch(probeCtx, handlerCtx, now)
	for {
		select {
		case <-ctx.Done():
			s.shutdown(cancelProbes)
			return nil
		case now := <-t.C:
			s.dispatch(probeCtx, handlerCtx, now)
		case <-s.wake:
			s.dispatch(probeCtx, handlerCtx, time.Now())
		}
	}
}

// Trigger asks for an immediate probe of id. A probe already in flight is
// not duplicated; the request is served once it completes.
func (s *Scheduler) Trigger(id domain.ServiceID) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		e.triggered = true
	}
	s.mu.Unlock()
	if !ok {
		return ErrUnknownService
	}
	s.nudge()
	return nil
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// InFlight is the number of probes currently running or waiting for a slot.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.inFlight {
			n++
		}
	}
	return n
}

func (s *Scheduler) initialDelay(interval time.Duration) time.Duration {
	bound := min(interval, s.cfg.MaxJitter)
	if bound <= 0 {
		return 0
	}
	return time.Duration(s.jitter(int64(bound)))
}

func (s *Scheduler) dispatch(probeCtx, handlerCtx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		e := s.entries[id]
		if e.inFlight {
			continue
		}
		if !e.triggered && now.Before(e.next) {
			continue
		}
		e.inFlight = true
		e.triggered = false
		e.next = now.Add(e.def.Interval)
		s.wg.Add(1)
		go s.probe(probeCtx, handlerCtx, e)
	}
}

func (s *Scheduler) probe(probeCtx, handlerCtx context.Context, e *entry) {
	defer s.wg.Done()
	def := e.def
	defer func() {
		s.mu.Lock()
		e.inFlight = false
		retrigger := e.triggered
		s.mu.Unlock()
		if retrigger {
			s.nudge()
		}
	}()

	if err := s.sem.Acquire(probeCtx, 1); err != nil {
		return
	}
	if s.stopping.Load() {
		s.sem.Release(1)
		return
	}
	ctx, cancel := context.WithTimeout(probeCtx, def.Timeout)
	res := s.exec.Execute(ctx, def)
	cancel()
	s.sem.Release(1)

	if probeCtx.Err() != nil && !res.Success {
		s.log.Debug("probe_canceled", zap.String("service_id", string(def.ID)))
		return
	}
	s.handler.Handle(handlerCtx, def, res)
}

func (s *Scheduler) shutdown(cancelProbes context.CancelFunc) {
	s.stopping.Store(true)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	s.log.Info("scheduler_stopping", zap.Int("in_flight", s.InFlight()), zap.Duration("grace", s.cfg.Grace))
	grace := time.NewTimer(s.cfg.Grace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		s.log.Warn("scheduler_grace_expired", zap.Int("in_flight", s.InFlight()))
		cancelProbes()
		<-done
	}
	s.log.Info("scheduler_stopped")
}
