// Package history moves probe records to durable storage off the probe path
// and derives uptime figures from what was stored.
package history

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/hamed0406/netwatch/internal/domain"
	"github.com/hamed0406/netwatch/internal/repo"
	"github.com/hamed0406/netwatch/internal/telemetry"
)

var ErrClosed = errors.New("history writer closed")

type Options struct {
	QueueSize     int
	BatchSize     int
	EnqueueWait   time.Duration // how long Enqueue waits on a full queue before dropping the oldest record
	WriteAttempts int
	WriteBackoff  time.Duration
}

func DefaultOptions() Options {
	return Options{
		QueueSize:     1024,
		BatchSize:     64,
		EnqueueWait:   50 * time.Millisecond,
		WriteAttempts: 3,
		WriteBackoff:  100 * time.Millisecond,
	}
}

type Stats struct {
	Queued  int    `json:"queued"`
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Writer is a bounded FIFO in front of a HistoryStore with a single
// goroutine persisting batches in enqueue order.
type Writer struct {
	store   repo.HistoryStore
	log     *zap.Logger
	metrics *telemetry.Metrics
	opts    Options

	mu     sync.Mutex
	buf    []domain.HistoryRecord // ring
	head   int
	n      int
	closed bool
	space  chan struct{} // closed and replaced whenever records leave the queue
	wake   chan struct{}

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64

	startOnce sync.Once
	done      chan struct{}
	ctx       context.Context // cancelled when Close gives up on the flush
	cancel    context.CancelFunc
}

// NewWriter builds a writer. Nothing is persisted until Start (or Close).
func NewWriter(store repo.HistoryStore, log *zap.Logger, m *telemetry.Metrics, o Options) *Writer {
	def := DefaultOptions()
	if o.QueueSize < 1 {
		o.QueueSize = def.QueueSize
	}
	if o.BatchSize < 1 {
		o.BatchSize = def.BatchSize
	}
	if o.EnqueueWait < 0 {
		o.EnqueueWait = 0
	}
	if o.WriteAttempts < 1 {
		o.WriteAttempts = def.WriteAttempts
	}
	if o.WriteBackoff <= 0 {
		o.WriteBackoff = def.WriteBackoff
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = telemetry.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		store:   store,
		log:     log,
		metrics: m,
		opts:    o,
		buf:     make([]domain.HistoryRecord, o.QueueSize),
		space:   make(chan struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the writer goroutine. Calling it again is a no-op.
func (w *Writer) Start() {
	w.startOnce.Do(func() { go w.loop() })
}

// Enqueue hands rec to the writer. On a full queue it waits up to
// EnqueueWait for room, then evicts the oldest queued record.
func (w *Writer) Enqueue(rec domain.HistoryRecord) error {
	var timer *time.Timer
	expired := w.opts.EnqueueWait == 0

	w.mu.Lock()
	for w.n == len(w.buf) && !w.closed && !expired {
		if timer == nil {
			timer = time.NewTimer(w.opts.EnqueueWait)
			defer timer.Stop()
		}
		space := w.space
		w.mu.Unlock()
		select {
		case <-space:
		case <-timer.C:
			expired = true
		}
		w.mu.Lock()
	}
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	var evicted *domain.HistoryRecord
	if w.n == len(w.buf) {
		old := w.buf[w.head]
		evicted = &old
		w.buf[w.head] = domain.HistoryRecord{}
		w.head = (w.head + 1) % len(w.buf)
		w.n--
	}
	w.buf[(w.head+w.n)%len(w.buf)] = rec
	w.n++
	w.mu.Unlock()

	w.signal()
	if evicted != nil {
		total := w.dropped.Add(1)
		w.metrics.HistoryDropped(context.Background(), 1)
		w.log.Warn("history_dropped",
			zap.String("service_id", string(evicted.ServiceID)),
			zap.Time("timestamp", evicted.Timestamp),
			zap.Uint64("dropped_total", total),
		)
	}
	return nil
}

// Close stops accepting records and flushes what is queued. If ctx ends
// first the remaining records are abandoned and ctx.Err is returned.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.space)
		w.space = make(chan struct{})
	}
	w.mu.Unlock()

	w.Start()
	w.signal()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.cancel()
		<-w.done
		w.log.Error("history_flush_incomplete", zap.Int("abandoned", w.Len()), zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// Len is the number of records waiting to be persisted.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

func (w *Writer) Stats() Stats {
	return Stats{
		Queued:  w.Len(),
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
	}
}

func (w *Writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) loop() {
	defer close(w.done)
	for {
		if w.ctx.Err() != nil {
			return
		}
		if batch := w.take(w.opts.BatchSize); len(batch) > 0 {
			w.persist(batch)
			continue
		}
		w.mu.Lock()
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return
		}
		select {
		case <-w.wake:
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Writer) take(max int) []domain.HistoryRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := min(w.n, max)
	if k == 0 {
		return nil
	}
	out := make([]domain.HistoryRecord, k)
	for i := range out {
		j := (w.head + i) % len(w.buf)
		out[i] = w.buf[j]
		w.buf[j] = domain.HistoryRecord{}
	}
	w.head = (w.head + k) % len(w.buf)
	w.n -= k
	close(w.space)
	w.space = make(chan struct{})
	return out
}

func (w *Writer) persist(batch []domain.HistoryRecord) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.opts.WriteBackoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(w.opts.WriteAttempts-1)), w.ctx)

	err := backoff.RetryNotify(
		func() error { return w.store.AppendHistory(w.ctx, batch) },
		b,
		func(err error, wait time.Duration) {
			w.log.Warn("history_write_retry", zap.Int("records", len(batch)), zap.Duration("wait", wait), zap.Error(err))
		},
	)
	if err != nil {
		w.failed.Add(uint64(len(batch)))
		w.metrics.HistoryWriteError(context.Background(), len(batch))
		w.log.Error("history_write_failed", zap.Int("records", len(batch)), zap.Error(err))
		return
	}
	w.written.Add(uint64(len(batch)))
	w.metrics.HistoryWritten(context.Background(), len(batch))
	w.log.Debug("history_written", zap.Int("records", len(batch)))
}
