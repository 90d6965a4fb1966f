package record

import (
	"context"
	"maps"
	"sync"

	"trainforge/internal/apperrors"
)

// MemoryStore is an in-process Store for tests and single-node setups
// without a database. Same write discipline as the postgres store.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]JobRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]JobRecord)}
}

// SaveProgress upserts a record unless the stored row is already terminal.
func (s *MemoryStore) SaveProgress(ctx context.Context, rec JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[rec.JobID]; ok && isTerminal(existing.Status) {
		return nil
	}
	s.jobs[rec.JobID] = cloneRecord(rec)
	return nil
}

// SaveTerminal commits a terminal record unconditionally.
func (s *MemoryStore) SaveTerminal(ctx context.Context, rec JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[rec.JobID] = cloneRecord(rec)
	return nil
}

// Get returns a copy of the stored record.
func (s *MemoryStore) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, apperrors.NotFound("job record", jobID)
	}
	out := cloneRecord(rec)
	return &out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}

func cloneRecord(rec JobRecord) JobRecord {
	if rec.Metrics != nil {
		m := make(map[string]float64, len(rec.Metrics))
		maps.Copy(m, rec.Metrics)
		rec.Metrics = m
	}
	return rec
}

var _ Store = (*MemoryStore)(nil)
