package mirrorq

import (
	"context"
	"log/slog"
	"time"
)

// MirrorWriter is the slice of the secondary store the reconciler needs.
type MirrorWriter interface {
	Insert(ctx context.Context, name, email, passwordHash string) error
}

// PayloadQueue is the slice of the retry queue the worker loop needs.
type PayloadQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (Payload, bool, error)
	Enqueue(ctx context.Context, p Payload) error
	Depth(ctx context.Context) (int64, error)
}

type Metrics interface {
	RetryResult(result string)
	QueueDepth(depth int64)
}

type WorkerConfig struct {
	PollTimeout time.Duration
	MaxAttempts int

	// Backoff maps the attempt count to the pause before the next poll.
	// Defaults to ExponentialBackoff.
	Backoff func(attempt int) time.Duration
}

// Worker drains the mirror retry queue: secondary-store writes that failed
// during registration get replayed here until they land or exhaust their
// attempts. This is reconciliation, never a request-time guarantee.
type Worker struct {
	cfg     WorkerConfig
	queue   PayloadQueue
	mirror  MirrorWriter
	log     *slog.Logger
	metrics Metrics
}

func NewWorker(cfg WorkerConfig, queue PayloadQueue, mirror MirrorWriter, log *slog.Logger, metrics Metrics) *Worker {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 2 * time.Second
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}

	if cfg.Backoff == nil {
		cfg.Backoff = ExponentialBackoff
	}

	return &Worker{
		cfg:     cfg,
		queue:   queue,
		mirror:  mirror,
		log:     log,
		metrics: metrics,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Info("reconciler received shutdown signal")
			return nil
		default:
		}

		p, ok, err := w.queue.Dequeue(ctx, w.cfg.PollTimeout)

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			w.log.Error("dequeue failed", "err", err)

			// avoid a hot loop when redis is down
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.cfg.PollTimeout):
			}
			continue
		}

		if !ok {
			w.reportDepth(ctx)
			continue
		}

		w.process(ctx, p)
		w.reportDepth(ctx)
	}
}

func (w *Worker) process(ctx context.Context, p Payload) {
	err := w.mirror.Insert(ctx, p.Name, p.Email, p.PasswordHash)

	if err == nil {
		w.log.Info("mirror write reconciled", "email", p.Email, "attempt", p.Attempt)

		if w.metrics != nil {
			w.metrics.RetryResult("done")
		}
		return
	}

	p.Attempt++

	if p.Attempt >= w.cfg.MaxAttempts {
		// operator-visible drop; the primary store is still authoritative,
		// so the user remains authenticatable either way
		w.log.Error("mirror write dropped after max attempts", "email", p.Email, "attempts", p.Attempt, "err", err)

		if w.metrics != nil {
			w.metrics.RetryResult("dropped")
		}
		return
	}

	w.log.Warn("mirror write failed, will retry", "email", p.Email, "attempt", p.Attempt, "err", err)

	if w.metrics != nil {
		w.metrics.RetryResult("retry")
	}

	// the payload goes back on the queue before any waiting so that a
	// shutdown mid-backoff cannot lose it; the enqueue itself must not be
	// cut short by that same shutdown
	if err := w.queue.Enqueue(context.WithoutCancel(ctx), p); err != nil {
		w.log.Error("re-enqueue failed, mirror write lost", "email", p.Email, "attempt", p.Attempt, "err", err)

		if w.metrics != nil {
			w.metrics.RetryResult("lost")
		}
		return
	}

	// pace the loop; a mirror that just refused one write is likely to
	// refuse the next one too
	select {
	case <-ctx.Done():
	case <-time.After(w.cfg.Backoff(p.Attempt)):
	}
}

func (w *Worker) reportDepth(ctx context.Context) {
	if w.metrics == nil {
		return
	}

	depth, err := w.queue.Depth(ctx)

	if err != nil {
		return
	}

	w.metrics.QueueDepth(depth)
}
