package backoff

import (
	"context"
	"testing"
	"time"
)

func TestExponential_Defaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, 1 * time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 8 * time.Second},
		{6, 16 * time.Second},
		{7, 30 * time.Second}, // capped at max
		{8, 30 * time.Second}, // capped at max
	}

	for _, tt := range tests {
		got := Exponential(tt.attempt, nil)
		if got != tt.want {
			t.Errorf("Exponential(%d, nil) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CustomConfig(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Initial: 50 * time.Millisecond,
		Max:     500 * time.Millisecond,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 50 * time.Millisecond},
		{2, 100 * time.Millisecond},
		{3, 200 * time.Millisecond},
		{4, 400 * time.Millisecond},
		{5, 500 * time.Millisecond}, // capped at max
		{6, 500 * time.Millisecond}, // capped at max
	}

	for _, tt := range tests {
		got := Exponential(tt.attempt, cfg)
		if got != tt.want {
			t.Errorf("Exponential(%d, cfg) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_ZeroOrNegativeAttempt(t *testing.T) {
	t.Parallel()

	// Attempts < 1 return initial
	if got := Exponential(0, nil); got != 500*time.Millisecond {
		t.Errorf("Exponential(0, nil) = %v, want 500ms", got)
	}
	if got := Exponential(-1, nil); got != 500*time.Millisecond {
		t.Errorf("Exponential(-1, nil) = %v, want 500ms", got)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Sleep(ctx, 5, nil); err != context.Canceled {
		t.Errorf("Sleep on cancelled context = %v, want context.Canceled", err)
	}
}

func TestSleep_Completes(t *testing.T) {
	t.Parallel()

	cfg := &Config{Initial: time.Millisecond, Max: time.Millisecond}
	if err := Sleep(context.Background(), 1, cfg); err != nil {
		t.Errorf("Sleep = %v, want nil", err)
	}
}
