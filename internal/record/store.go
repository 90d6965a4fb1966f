// Package record persists the durable subset of training job state.
//
// The in-memory status store answers live polling; this package owns what
// must survive a process restart: status, metrics, error, artifact path,
// completion time. The orchestration layer is the only writer.
package record

import (
	"context"
	"time"
)

// JobRecord is the durable snapshot of a training job.
type JobRecord struct {
	JobID        string
	Status       string
	CurrentEpoch int
	TotalEpochs  int
	Metrics      map[string]float64
	WeightsPath  string
	Error        string
	CompletedAt  *time.Time
}

// Store persists job records.
//
// SaveProgress is a guarded write: it must never overwrite a record that has
// already reached a terminal status, so a late progress callback racing a
// final-result write cannot revert a committed outcome. SaveTerminal commits
// a terminal status; the queue bridge calls it exactly once per job.
type Store interface {
	SaveProgress(ctx context.Context, rec JobRecord) error
	SaveTerminal(ctx context.Context, rec JobRecord) error
	Get(ctx context.Context, jobID string) (*JobRecord, error)
	Close()
}

// terminal statuses; must match the training package's state machine.
func isTerminal(status string) bool {
	switch status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}
