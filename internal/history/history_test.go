package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/netwatch/internal/domain"
	"github.com/hamed0406/netwatch/internal/repo"
	"github.com/hamed0406/netwatch/internal/repo/memory"
)

var t0 = time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)

func rec(id domain.ServiceID, i int, success bool) domain.HistoryRecord {
	st := domain.StatusUp
	if !success {
		st = domain.StatusDown
	}
	return domain.HistoryRecord{
		ServiceID: id,
		Timestamp: t0.Add(time.Duration(i) * time.Second),
		Success:   success,
		LatencyMS: float64(i),
		Status:    st,
	}
}

func fastOpts() Options {
	return Options{QueueSize: 100, BatchSize: 16, EnqueueWait: time.Millisecond, WriteAttempts: 3, WriteBackoff: time.Millisecond}
}

func TestWriter_PersistsInOrder(t *testing.T) {
	store := memory.New()
	w := NewWriter(store, zap.NewNop(), nil, fastOpts())
	w.Start()

	for i := 0; i < 250; i++ {
		if err := w.Enqueue(rec("a", i, true)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, _ := store.History(context.Background(), "a", time.Time{}, t0.Add(time.Hour), 0)
	if uint64(len(got))+w.Dropped() != 250 {
		t.Fatalf("persisted %d + dropped %d != 250", len(got), w.Dropped())
	}
	for i := 1; i < len(got); i++ {
		if !got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Fatalf("records out of order at %d: %v then %v", i, got[i-1].Timestamp, got[i].Timestamp)
		}
	}
	if s := w.Stats(); s.Written != uint64(len(got)) || s.Queued != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestWriter_BackpressureDropsOldest(t *testing.T) {
	store := memory.New()
	w := NewWriter(store, zap.NewNop(), nil, fastOpts())

	// not started: nothing drains the queue
	for i := 0; i < 150; i++ {
		if err := w.Enqueue(rec("a", i, true)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if got := w.Dropped(); got != 50 {
		t.Fatalf("want 50 dropped, got %d", got)
	}
	if got := w.Len(); got != 100 {
		t.Fatalf("want 100 queued, got %d", got)
	}

	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, _ := store.History(context.Background(), "a", time.Time{}, t0.Add(time.Hour), 0)
	if len(got) != 100 {
		t.Fatalf("want the newest 100 persisted, got %d", len(got))
	}
	for i, r := range got {
		if want := t0.Add(time.Duration(50+i) * time.Second); !r.Timestamp.Equal(want) {
			t.Fatalf("record %d: want %v, got %v", i, want, r.Timestamp)
		}
	}
}

func TestWriter_EnqueueWaitsForSpace(t *testing.T) {
	store := memory.New()
	o := fastOpts()
	o.QueueSize = 1
	o.EnqueueWait = 5 * time.Second
	w := NewWriter(store, zap.NewNop(), nil, o)

	if err := w.Enqueue(rec("a", 0, true)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := make(chan struct{})
	go func() {
		_ = w.Enqueue(rec("a", 1, true))
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	w.Start()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Enqueue did not resume once the writer drained")
	}
	_ = w.Close(context.Background())
	if w.Dropped() != 0 {
		t.Fatalf("nothing should be dropped, got %d", w.Dropped())
	}
	got, _ := store.History(context.Background(), "a", time.Time{}, t0.Add(time.Hour), 0)
	if len(got) != 2 {
		t.Fatalf("want 2 records, got %d", len(got))
	}
}

func TestWriter_RetriesTransientWriteErrors(t *testing.T) {
	store := memory.New()
	store.FailNext(2)
	o := fastOpts()
	o.BatchSize = 10
	w := NewWriter(store, zap.NewNop(), nil, o)
	for i := 0; i < 10; i++ {
		_ = w.Enqueue(rec("a", i, true))
	}
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, _ := store.History(context.Background(), "a", time.Time{}, t0.Add(time.Hour), 0)
	if len(got) != 10 || w.Stats().Failed != 0 {
		t.Fatalf("want 10 records after retries, got %d (stats %+v)", len(got), w.Stats())
	}
}

func TestWriter_KeepsRunningAfterPersistentFailure(t *testing.T) {
	store := memory.New()
	store.FailNext(3)
	o := fastOpts()
	o.BatchSize = 5
	w := NewWriter(store, zap.NewNop(), nil, o)
	for i := 0; i < 10; i++ {
		_ = w.Enqueue(rec("a", i, true))
	}
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s := w.Stats()
	if s.Failed != 5 || s.Written != 5 {
		t.Fatalf("want 5 failed and 5 written, got %+v", s)
	}
	got, _ := store.History(context.Background(), "a", time.Time{}, t0.Add(time.Hour), 0)
	if len(got) != 5 || got[0].Timestamp != t0.Add(5*time.Second) {
		t.Fatalf("want the second batch persisted, got %+v", got)
	}
}

func TestWriter_EnqueueAfterClose(t *testing.T) {
	w := NewWriter(memory.New(), nil, nil, fastOpts())
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Enqueue(rec("a", 0, true)); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// blockingStore stalls AppendHistory until its context ends.
type blockingStore struct {
	repo.HistoryStore
	once    sync.Once
	entered chan struct{}
}

func (b *blockingStore) AppendHistory(ctx context.Context, _ []domain.HistoryRecord) error {
	b.once.Do(func() { close(b.entered) })
	<-ctx.Done()
	return ctx.Err()
}

func TestWriter_CloseGivesUpWhenContextEnds(t *testing.T) {
	store := &blockingStore{HistoryStore: memory.New(), entered: make(chan struct{})}
	w := NewWriter(store, zap.NewNop(), nil, fastOpts())
	w.Start()
	_ = w.Enqueue(rec("a", 0, true))
	<-store.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestReader_Uptime(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	recs := []domain.HistoryRecord{
		rec("a", 0, true),
		rec("a", 1, true),
		rec("a", 2, false),
		rec("a", 3, true),
	}
	recs[2].Transition = &domain.TransitionEvent{ID: "t1", ServiceID: "a", From: domain.StatusUp, To: domain.StatusDown, At: recs[2].Timestamp}
	recs[3].Transition = &domain.TransitionEvent{ID: "t2", ServiceID: "a", From: domain.StatusDown, To: domain.StatusUp, At: recs[3].Timestamp}
	if err := store.AppendHistory(ctx, recs); err != nil {
		t.Fatalf("append: %v", err)
	}

	r := NewReader(store)
	agg, err := r.Uptime(ctx, "a", t0, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Uptime: %v", err)
	}
	if agg.Total != 4 || agg.Successes != 3 || agg.UptimePercent != 75 {
		t.Fatalf("unexpected counts %+v", agg)
	}
	if agg.Failures != 1 || agg.MTBF != time.Hour {
		t.Fatalf("want 1 failure and MTBF 1h, got %+v", agg)
	}
	// latencies 0, 1 and 3 ms for the successes
	if agg.AvgLatencyMS != 1.33 {
		t.Fatalf("want avg latency 1.33, got %v", agg.AvgLatencyMS)
	}

	trs, err := r.Transitions(ctx, "a", t0, t0.Add(time.Hour))
	if err != nil || len(trs) != 2 {
		t.Fatalf("want 2 transitions, got %+v err=%v", trs, err)
	}
	last, err := r.History(ctx, "a", t0, t0.Add(time.Hour), 1)
	if err != nil || len(last) != 1 || !last[0].Timestamp.Equal(recs[3].Timestamp) {
		t.Fatalf("want newest record, got %+v err=%v", last, err)
	}
}

func TestReader_UptimeEmptyWindow(t *testing.T) {
	agg, err := NewReader(memory.New()).Uptime(context.Background(), "none", t0, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Uptime: %v", err)
	}
	if agg.Total != 0 || agg.UptimePercent != 0 || agg.MTBF != 0 {
		t.Fatalf("want zero aggregate, got %+v", agg)
	}
}
