package training

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"trainforge/internal/apperrors"
	"trainforge/internal/record"
)

// Orchestrator executes a single attempt of a training job: it resolves the
// execution strategy for the job's target, runs it, and relays progress into
// the status store and the durable record store. Retry policy and terminal
// persistence live in the queue bridge, not here.
type Orchestrator struct {
	selector StrategySelector
	statuses *StatusStore
	records  record.Store
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(selector StrategySelector, statuses *StatusStore, records record.Store, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		selector: selector,
		statuses: statuses,
		records:  records,
		logger:   logger,
		active:   make(map[string]context.CancelFunc),
	}
}

// Run executes one attempt of the job described by cfg. It blocks until the
// strategy finishes or the job is stopped. On success the job is committed
// completed in memory and Run returns nil; on failure the caller owns the
// terminal decision. Run never writes a durable terminal record.
func (o *Orchestrator) Run(ctx context.Context, cfg *Config) error {
	if err := o.statuses.MarkStarting(cfg.JobID); err != nil {
		return err
	}

	strategy, err := o.selector.Select(cfg)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.register(cfg.JobID, cancel)
	defer o.unregister(cfg.JobID)

	o.logger.Info("Starting training job",
		"jobId", cfg.JobID,
		"architecture", cfg.Architecture,
		"target", cfg.Target.Kind,
		"epochs", cfg.Epochs)

	result, err := strategy.Run(runCtx, cfg, func(p Progress) {
		o.statuses.UpdateProgress(cfg.JobID, p)
		o.persistProgress(cfg.JobID, p)
	})
	if err != nil {
		return err
	}

	// A concurrent stop can lose this race when the strategy finished anyway;
	// a produced artifact still counts as completion.
	o.statuses.CommitTerminal(cfg.JobID, StateCompleted, result, "")
	o.logger.Info("Training job completed",
		"jobId", cfg.JobID,
		"weightsPath", result.WeightsPath)
	return nil
}

// Stop cancels a running job by cancelling its strategy context. Returns
// false when no active handle is held for the job: unknown, still queued, or
// already finished. A stop never alters the state of a job it did not signal.
func (o *Orchestrator) Stop(jobID string) bool {
	o.mu.Lock()
	cancel, running := o.active[jobID]
	o.mu.Unlock()

	if !running {
		return false
	}
	cancel()
	o.logger.Info("Stopping running training job", "jobId", jobID)
	return true
}

// ActiveCount returns the number of jobs currently executing.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

func (o *Orchestrator) register(jobID string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active[jobID] = cancel
}

func (o *Orchestrator) unregister(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, jobID)
}

// persistProgress writes a progress snapshot. Failures are logged and
// swallowed: losing an intermediate epoch is acceptable, failing the job for
// it is not.
func (o *Orchestrator) persistProgress(jobID string, p Progress) {
	if o.records == nil {
		return
	}
	st, err := o.statuses.Get(jobID)
	if err != nil {
		return
	}
	err = o.records.SaveProgress(context.Background(), record.JobRecord{
		JobID:        jobID,
		Status:       st.State,
		CurrentEpoch: st.CurrentEpoch,
		TotalEpochs:  st.TotalEpochs,
		Metrics:      st.Metrics,
	})
	if err != nil && !errors.Is(err, apperrors.ErrConflict) {
		o.logger.Warn("Failed to persist job progress", "jobId", jobID, "error", err)
	}
}
