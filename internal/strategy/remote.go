package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trainforge/internal/apperrors"
	"trainforge/internal/nodeclient"
	"trainforge/internal/training"
)

// Remote hands a job to a node agent and polls the agent for its outcome.
//
// Failure classification is asymmetric on purpose. Before the agent accepts
// the job, transport failures are transient: nothing is running anywhere and
// a retry re-dispatches safely. After acceptance the job may be training on
// the node, so losing contact is fatal rather than transient; a transient
// error here would make the queue bridge dispatch the job a second time.
type Remote struct {
	client          *nodeclient.Client
	pollInterval    time.Duration
	maxPollFailures int
	logger          *slog.Logger
}

// NewRemote creates a remote strategy.
func NewRemote(client *nodeclient.Client, logger *slog.Logger) *Remote {
	return &Remote{
		client:          client,
		pollInterval:    5 * time.Second,
		maxPollFailures: 12,
		logger:          logger,
	}
}

// Run implements training.ExecutionStrategy.
func (r *Remote) Run(ctx context.Context, cfg *training.Config, onProgress training.ProgressFunc) (*training.Result, error) {
	baseURL := cfg.Target.BaseURL

	if _, err := r.client.Dispatch(ctx, baseURL, cfg); err != nil {
		return nil, err
	}
	r.logger.Info("Job accepted by node", "jobId", cfg.JobID, "node", baseURL)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			r.stopRemote(baseURL, cfg.JobID)
			return nil, ctx.Err()

		case <-ticker.C:
			st, err := r.client.JobStatus(ctx, baseURL, cfg.JobID)
			if err != nil {
				if ctx.Err() != nil {
					r.stopRemote(baseURL, cfg.JobID)
					return nil, ctx.Err()
				}
				failures++
				if failures >= r.maxPollFailures {
					return nil, apperrors.Execution("remote.poll",
						fmt.Errorf("lost contact with node %s after %d polls: %w", baseURL, failures, err))
				}
				r.logger.Warn("Node status poll failed",
					"jobId", cfg.JobID, "node", baseURL, "failures", failures, "error", err)
				continue
			}
			failures = 0

			if onProgress != nil && st.CurrentEpoch > 0 {
				onProgress(training.Progress{
					Epoch:       st.CurrentEpoch,
					TotalEpochs: st.TotalEpochs,
					Metrics:     st.Metrics,
				})
			}

			switch st.State {
			case training.StateCompleted:
				return &training.Result{WeightsPath: st.WeightsPath, Metrics: st.Metrics}, nil
			case training.StateFailed:
				return nil, apperrors.Execution("remote.train", errors.New(nonEmpty(st.Error, "node reported failure")))
			case training.StateCancelled:
				return nil, apperrors.Execution("remote.train", errors.New("job was cancelled on the node"))
			}
		}
	}
}

// stopRemote asks the agent to cancel the job. Best effort with a fresh
// context: the caller's is already cancelled.
func (r *Remote) stopRemote(baseURL, jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.client.StopJob(ctx, baseURL, jobID); err != nil {
		r.logger.Warn("Failed to stop job on node", "jobId", jobID, "node", baseURL, "error", err)
	}
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
