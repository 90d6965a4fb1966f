// Package queue implements the dispatch bridge between accepted training
// jobs and the orchestrator's execution attempts.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"trainforge/internal/apperrors"
	"trainforge/internal/observability"
	"trainforge/internal/record"
	"trainforge/internal/training"
	"trainforge/pkg/backoff"
)

// DefaultMaxRetries caps retry attempts for transient failures.
const DefaultMaxRetries = 3

// Config holds bridge configuration.
type Config struct {
	Workers    int // Concurrent training slots (default 1)
	Buffer     int // Queued jobs before Enqueue rejects (default 16)
	MaxRetries int // Retries for transient failures (default 3)
	Backoff    backoff.Config
}

// Stats is a snapshot of bridge counters.
type Stats struct {
	Enqueued  int64
	Retried   int64
	Dropped   int64
	Completed int64
	Failed    int64
	Cancelled int64
}

// Bridge owns the job queue and the retry policy around execution attempts.
// It is also the single writer of durable terminal records: whatever happens
// during an attempt, exactly one SaveTerminal per job leaves this package.
type Bridge struct {
	jobs         chan *training.Config
	orchestrator *training.Orchestrator
	statuses     *training.StatusStore
	records      record.Store
	metrics      *observability.Metrics
	logger       *slog.Logger

	maxRetries int
	backoffCfg backoff.Config

	wg     sync.WaitGroup
	closed atomic.Bool

	enqueued  atomic.Int64
	retried   atomic.Int64
	dropped   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

// NewBridge creates a bridge and starts its workers.
func NewBridge(cfg Config, orchestrator *training.Orchestrator, statuses *training.StatusStore, records record.Store, metrics *observability.Metrics, logger *slog.Logger) *Bridge {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	b := &Bridge{
		jobs:         make(chan *training.Config, cfg.Buffer),
		orchestrator: orchestrator,
		statuses:     statuses,
		records:      records,
		metrics:      metrics,
		logger:       logger,
		maxRetries:   cfg.MaxRetries,
		backoffCfg:   cfg.Backoff,
	}
	b.startWorkers(cfg.Workers)
	return b
}

func (b *Bridge) startWorkers(n int) {
	for i := 0; i < n; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for cfg := range b.jobs {
				b.process(cfg)
				b.recordDepth()
			}
		}()
	}
}

// Enqueue implements training.Dispatcher. It never blocks: a full buffer
// rejects the job so the caller can surface backpressure immediately.
func (b *Bridge) Enqueue(cfg *training.Config) error {
	if b.closed.Load() {
		return apperrors.Environment("queue.enqueue", errors.New("dispatch queue is shut down"))
	}
	select {
	case b.jobs <- cfg:
		b.enqueued.Add(1)
		b.recordDepth()
		return nil
	default:
		b.dropped.Add(1)
		if b.metrics != nil {
			b.metrics.RecordQueueDropped(context.Background())
		}
		return apperrors.Environment("queue.enqueue", errors.New("dispatch queue is full"))
	}
}

// Depth returns the number of jobs waiting in the buffer.
func (b *Bridge) Depth() int {
	return len(b.jobs)
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Enqueued:  b.enqueued.Load(),
		Retried:   b.retried.Load(),
		Dropped:   b.dropped.Load(),
		Completed: b.completed.Load(),
		Failed:    b.failed.Load(),
		Cancelled: b.cancelled.Load(),
	}
}

// Close stops accepting jobs and drains the buffer: queued jobs still run to
// a terminal state before Close returns.
func (b *Bridge) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	close(b.jobs)
	b.wg.Wait()
}

// process drives one job to a terminal state, retrying transient failures
// with exponential backoff.
func (b *Bridge) process(cfg *training.Config) {
	ctx := context.Background()
	logger := b.logger.With("jobId", cfg.JobID)

	if st, err := b.statuses.Get(cfg.JobID); err != nil {
		logger.Warn("Dequeued unknown job", "error", err)
		return
	} else if training.IsTerminal(st.State) {
		// Already finished; nothing to run.
		return
	}

	if b.metrics != nil {
		b.metrics.RecordJobStarted(ctx, cfg.Architecture)
	}
	start := time.Now()

	for attempt := 0; ; attempt++ {
		err := b.orchestrator.Run(ctx, cfg)
		if err == nil {
			b.completed.Add(1)
			b.finish(ctx, cfg, start, true)
			return
		}

		if errors.Is(err, context.Canceled) {
			b.statuses.CommitTerminal(cfg.JobID, training.StateCancelled, nil, "stopped by user")
			b.cancelled.Add(1)
			b.finish(ctx, cfg, start, false)
			return
		}

		if apperrors.IsTransient(err) && attempt < b.maxRetries {
			b.retried.Add(1)
			if b.metrics != nil {
				b.metrics.RecordQueueRetry(ctx)
			}
			logger.Warn("Transient failure, retrying",
				"attempt", attempt+1, "maxRetries", b.maxRetries, "error", err)

			if requeueErr := b.statuses.MarkQueued(cfg.JobID); requeueErr != nil {
				// The job reached a terminal state between attempts.
				b.finish(ctx, cfg, start, false)
				return
			}
			if sleepErr := backoff.Sleep(ctx, attempt, &b.backoffCfg); sleepErr != nil {
				return
			}
			continue
		}

		logger.Error("Training job failed", "attempts", attempt+1, "error", err)
		b.statuses.CommitTerminal(cfg.JobID, training.StateFailed, nil, err.Error())
		b.failed.Add(1)
		b.finish(ctx, cfg, start, false)
		return
	}
}

// finish records metrics and writes the one durable terminal record.
func (b *Bridge) finish(ctx context.Context, cfg *training.Config, start time.Time, success bool) {
	if b.metrics != nil {
		b.metrics.RecordJobFinished(ctx, cfg.Architecture, success, time.Since(start).Seconds())
	}
	b.persistTerminal(ctx, cfg.JobID)
}

func (b *Bridge) persistTerminal(ctx context.Context, jobID string) {
	if b.records == nil {
		return
	}
	st, err := b.statuses.Get(jobID)
	if err != nil {
		return
	}
	rec := record.JobRecord{
		JobID:        st.JobID,
		Status:       st.State,
		CurrentEpoch: st.CurrentEpoch,
		TotalEpochs:  st.TotalEpochs,
		Metrics:      st.Metrics,
		WeightsPath:  st.WeightsPath,
		Error:        st.Error,
		CompletedAt:  st.CompletedAt,
	}
	if err := b.records.SaveTerminal(ctx, rec); err != nil {
		b.logger.Error("Failed to persist terminal job record", "jobId", jobID, "error", err)
	}
}

func (b *Bridge) recordDepth() {
	if b.metrics != nil {
		b.metrics.RecordQueueDepth(context.Background(), int64(len(b.jobs)))
	}
}

var _ training.Dispatcher = (*Bridge)(nil)
