package record

import (
	"context"
	"errors"
	"testing"
	"time"

	"trainforge/internal/apperrors"
)

func TestMemoryStore_ProgressThenTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	if err := s.SaveProgress(ctx, JobRecord{JobID: "7", Status: "training", CurrentEpoch: 3, TotalEpochs: 5}); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	err := s.SaveTerminal(ctx, JobRecord{
		JobID:       "7",
		Status:      "completed",
		WeightsPath: "/out/best.pt",
		Metrics:     map[string]float64{"mAP50": 0.9},
		CompletedAt: &now,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec, err := s.Get(ctx, "7")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != "completed" || rec.WeightsPath != "/out/best.pt" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestMemoryStore_ProgressCannotRevertTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	if err := s.SaveTerminal(ctx, JobRecord{JobID: "7", Status: "failed", Error: "trainer exited"}); err != nil {
		t.Fatal(err)
	}
	// A racing late progress callback must not undo the terminal row.
	if err := s.SaveProgress(ctx, JobRecord{JobID: "7", Status: "training", CurrentEpoch: 4}); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Get(ctx, "7")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != "failed" {
		t.Errorf("status = %q, want failed", rec.Status)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	t.Parallel()
	s := NewMemory()

	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
