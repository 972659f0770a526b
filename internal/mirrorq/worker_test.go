package mirrorq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type memQueue struct {
	mu       sync.Mutex
	items    []Payload
	enqueued chan Payload
	enqErr   error
}

func newMemQueue(seed ...Payload) *memQueue {
	return &memQueue{
		items:    seed,
		enqueued: make(chan Payload, 8),
	}
}

func (q *memQueue) Dequeue(ctx context.Context, timeout time.Duration) (Payload, bool, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		p := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return p, true, nil
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return Payload{}, false, ctx.Err()
	case <-time.After(timeout):
		return Payload{}, false, nil
	}
}

func (q *memQueue) Enqueue(ctx context.Context, p Payload) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.enqErr != nil {
		return q.enqErr
	}

	q.items = append(q.items, p)
	q.enqueued <- p
	return nil
}

func (q *memQueue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

type flakyMirror struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (m *flakyMirror) Insert(ctx context.Context, name, email, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls <= m.fails {
		return errors.New("mirror down")
	}
	return nil
}

func (m *flakyMirror) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type chanMetrics struct {
	results chan string
}

func newChanMetrics() *chanMetrics {
	return &chanMetrics{results: make(chan string, 16)}
}

func (m *chanMetrics) RetryResult(result string) { m.results <- result }
func (m *chanMetrics) QueueDepth(depth int64)    {}

func waitResult(t *testing.T, ch <-chan string, want string) {
	t.Helper()

	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("retry result: got %q want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q result", want)
	}
}

func startWorker(t *testing.T, cfg WorkerConfig, queue PayloadQueue, mirror MirrorWriter, metrics Metrics) (cancel func()) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWorker(cfg, queue, mirror, log, metrics)

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		w.Run(ctx)
		close(done)
	}()

	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not stop after cancellation")
		}
	}
}

func TestWorker_RetriesUntilReconciled(t *testing.T) {
	queue := newMemQueue(Payload{Name: "Ann", Email: "ann@x.com", PasswordHash: "$2a$10$abcdef"})
	mirror := &flakyMirror{fails: 1}
	metrics := newChanMetrics()

	cfg := WorkerConfig{
		PollTimeout: 5 * time.Millisecond,
		Backoff:     func(int) time.Duration { return 0 },
	}

	cancel := startWorker(t, cfg, queue, mirror, metrics)
	defer cancel()

	waitResult(t, metrics.results, "retry")
	waitResult(t, metrics.results, "done")

	if got := mirror.callCount(); got != 2 {
		t.Fatalf("mirror inserts: got %d want 2", got)
	}

	retried := <-queue.enqueued
	if retried.Attempt != 1 {
		t.Fatalf("re-enqueued attempt: got %d want 1", retried.Attempt)
	}
}

func TestWorker_DropsAfterMaxAttempts(t *testing.T) {
	queue := newMemQueue(Payload{Name: "Ann", Email: "ann@x.com", PasswordHash: "$2a$10$abcdef", Attempt: 2})
	mirror := &flakyMirror{fails: 100}
	metrics := newChanMetrics()

	cfg := WorkerConfig{
		PollTimeout: 5 * time.Millisecond,
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return 0 },
	}

	cancel := startWorker(t, cfg, queue, mirror, metrics)
	defer cancel()

	waitResult(t, metrics.results, "dropped")

	if depth, _ := queue.Depth(context.Background()); depth != 0 {
		t.Fatalf("dropped payload must not linger on the queue, depth=%d", depth)
	}
}

func TestWorker_ShutdownKeepsPendingWrite(t *testing.T) {
	queue := newMemQueue(Payload{Name: "Ann", Email: "ann@x.com", PasswordHash: "$2a$10$abcdef"})
	mirror := &flakyMirror{fails: 100}
	metrics := newChanMetrics()

	cfg := WorkerConfig{
		PollTimeout: 5 * time.Millisecond,
		Backoff:     func(int) time.Duration { return time.Hour },
	}

	cancel := startWorker(t, cfg, queue, mirror, metrics)

	// the failed write is back on the queue before the backoff pause starts
	retried := <-queue.enqueued
	if retried.Attempt != 1 {
		t.Fatalf("re-enqueued attempt: got %d want 1", retried.Attempt)
	}

	// shut down mid-backoff
	cancel()

	depth, _ := queue.Depth(context.Background())
	if depth != 1 {
		t.Fatalf("pending mirror write lost on shutdown, depth=%d", depth)
	}
}

func TestWorker_ReenqueueFailureIsReported(t *testing.T) {
	queue := newMemQueue(Payload{Name: "Ann", Email: "ann@x.com", PasswordHash: "$2a$10$abcdef"})
	queue.enqErr = errors.New("redis down")
	mirror := &flakyMirror{fails: 100}
	metrics := newChanMetrics()

	cfg := WorkerConfig{
		PollTimeout: 5 * time.Millisecond,
		Backoff:     func(int) time.Duration { return 0 },
	}

	cancel := startWorker(t, cfg, queue, mirror, metrics)
	defer cancel()

	waitResult(t, metrics.results, "retry")
	waitResult(t, metrics.results, "lost")
}
