package sandbox

import (
	"context"
	"errors"
	"testing"

	"trainforge/internal/apperrors"
)

// utf16le simulates the probe output encoding: every byte followed by NUL.
func utf16le(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		out = append(out, s[i], 0)
	}
	return out
}

func TestRuntimeCheckDistroPresent(t *testing.T) {
	t.Parallel()
	r := NewRuntime()
	r.probe = func(ctx context.Context) ([]byte, error) {
		return utf16le("  NAME            STATE    VERSION\n* Ubuntu-22.04    Running  2\n"), nil
	}

	if err := r.Check(context.Background(), "Ubuntu-22.04"); err != nil {
		t.Fatalf("Expected check to pass: %v", err)
	}
}

func TestRuntimeCheckDistroMissing(t *testing.T) {
	t.Parallel()
	r := NewRuntime()
	r.probe = func(ctx context.Context) ([]byte, error) {
		return []byte("  NAME     STATE    VERSION\n* Debian   Running  2\n"), nil
	}

	if err := r.Check(context.Background(), "Ubuntu-22.04"); !errors.Is(err, apperrors.ErrEnvironment) {
		t.Fatalf("Expected environment error, got %v", err)
	}
}

func TestRuntimeCheckPerDistro(t *testing.T) {
	t.Parallel()
	calls := 0
	r := NewRuntime()
	r.probe = func(ctx context.Context) ([]byte, error) {
		calls++
		return utf16le("  NAME     STATE    VERSION\n* Debian   Running  2\n"), nil
	}

	// The same runtime serves jobs targeting different distributions; each
	// one is checked against the listing.
	ctx := context.Background()
	if err := r.Check(ctx, "Debian"); err != nil {
		t.Fatalf("Expected registered distro to pass: %v", err)
	}
	if err := r.Check(ctx, "Ubuntu"); !errors.Is(err, apperrors.ErrEnvironment) {
		t.Fatalf("Expected unregistered distro to fail, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected a single probe, got %d", calls)
	}
}

func TestRuntimeCheckCachesProbeFailure(t *testing.T) {
	t.Parallel()
	calls := 0
	r := NewRuntime()
	r.probe = func(ctx context.Context) ([]byte, error) {
		calls++
		return nil, errors.New("wsl: command not found")
	}

	ctx := context.Background()
	first := r.Check(ctx, "Ubuntu")
	second := r.Check(ctx, "Ubuntu")
	if !errors.Is(first, apperrors.ErrEnvironment) {
		t.Fatalf("Expected environment error, got %v", first)
	}
	if !errors.Is(second, apperrors.ErrEnvironment) {
		t.Fatalf("Expected cached environment error, got %v", second)
	}
	if calls != 1 {
		t.Errorf("Expected a single probe, got %d", calls)
	}
}
