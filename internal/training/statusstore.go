package training

import (
	"sync"
	"time"

	"trainforge/internal/apperrors"
)

// StatusStore is the in-memory source of truth for job lifecycle state.
// All transitions funnel through it so the terminal-state rule is enforced
// in exactly one place: once a job is completed, failed, or cancelled, no
// later event changes it.
type StatusStore struct {
	mu   sync.Mutex
	jobs map[string]*Status
}

// NewStatusStore creates an empty status store.
func NewStatusStore() *StatusStore {
	return &StatusStore{jobs: make(map[string]*Status)}
}

// Create registers a new job in the created state. Fails with a conflict if
// the job ID is already known.
func (s *StatusStore) Create(cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[cfg.JobID]; exists {
		return apperrors.Conflict("job", cfg.JobID, "job already exists: "+cfg.JobID)
	}

	s.jobs[cfg.JobID] = &Status{
		JobID:        cfg.JobID,
		State:        StateCreated,
		Architecture: cfg.Architecture,
		Target:       cfg.Target.Kind,
		TotalEpochs:  cfg.Epochs,
	}
	return nil
}

// MarkQueued moves a job from created (or back from a transient failure) into
// the queued state.
func (s *StatusStore) MarkQueued(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.jobs[jobID]
	if !ok {
		return apperrors.NotFound("job", jobID)
	}
	if IsTerminal(st.State) {
		return apperrors.Conflict("job", jobID, "job is already finished: "+jobID)
	}
	st.State = StateQueued
	return nil
}

// MarkStarting records that a worker picked the job up. The job stays in
// starting until the first progress event arrives.
func (s *StatusStore) MarkStarting(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.jobs[jobID]
	if !ok {
		return apperrors.NotFound("job", jobID)
	}
	if IsTerminal(st.State) {
		return apperrors.Conflict("job", jobID, "job is already finished: "+jobID)
	}
	now := time.Now()
	st.State = StateStarting
	st.StartedAt = &now
	return nil
}

// UpdateProgress applies a progress event. The first event for a starting job
// promotes it to training. Events arriving after a terminal state are
// silently dropped.
func (s *StatusStore) UpdateProgress(jobID string, p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.jobs[jobID]
	if !ok || IsTerminal(st.State) {
		return
	}
	if st.State == StateStarting {
		st.State = StateTraining
	}
	st.CurrentEpoch = p.Epoch
	if p.TotalEpochs > 0 {
		st.TotalEpochs = p.TotalEpochs
	}
	if len(p.Metrics) > 0 {
		st.Metrics = cloneMetrics(p.Metrics)
	}
}

// CommitTerminal attempts to move a job into a terminal state. It returns
// true if this call won the transition, false if the job was unknown or
// already terminal. result and errMsg are recorded only by the winner.
func (s *StatusStore) CommitTerminal(jobID, state string, result *Result, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.jobs[jobID]
	if !ok || IsTerminal(st.State) {
		return false
	}

	now := time.Now()
	st.State = state
	st.CompletedAt = &now
	st.Error = errMsg
	if result != nil {
		st.WeightsPath = result.WeightsPath
		if len(result.Metrics) > 0 {
			st.Metrics = cloneMetrics(result.Metrics)
		}
	}
	return true
}

// Get returns a snapshot of one job's status.
func (s *StatusStore) Get(jobID string) (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.jobs[jobID]
	if !ok {
		return nil, apperrors.NotFound("job", jobID)
	}
	return cloneStatus(st), nil
}

// List returns snapshots of every known job.
func (s *StatusStore) List() []*Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Status, 0, len(s.jobs))
	for _, st := range s.jobs {
		out = append(out, cloneStatus(st))
	}
	return out
}

// ClearFinished removes terminal jobs older than the retention window and
// returns how many were removed.
func (s *StatusStore) ClearFinished(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, st := range s.jobs {
		if IsTerminal(st.State) && st.CompletedAt != nil && st.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

func cloneStatus(st *Status) *Status {
	c := *st
	c.Metrics = cloneMetrics(st.Metrics)
	return &c
}

func cloneMetrics(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	c := make(map[string]float64, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
