package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"trainforge/internal/apperrors"
)

// Runtime probes the sandbox runtime for its registered distributions. The
// probe runs once and its listing is cached for the process lifetime: a
// missing runtime does not repair itself, and re-probing on every job would
// add a subprocess spawn to the dispatch path. The distribution lookup runs
// per call because jobs may target different distributions.
type Runtime struct {
	probe func(ctx context.Context) ([]byte, error)

	once    sync.Once
	listing []byte
	err     error
}

// NewRuntime creates a runtime probe.
func NewRuntime() *Runtime {
	return &Runtime{
		probe: func(ctx context.Context) ([]byte, error) {
			return exec.CommandContext(ctx, "wsl", "--list", "--verbose").CombinedOutput()
		},
	}
}

// NewRuntimeWithProbe creates a runtime with a custom probe function.
func NewRuntimeWithProbe(probe func(ctx context.Context) ([]byte, error)) *Runtime {
	return &Runtime{probe: probe}
}

// Check verifies the runtime is installed and the given distribution is
// registered. A probe failure is cached and returned on every later call.
func (r *Runtime) Check(ctx context.Context, distro string) error {
	r.once.Do(func() {
		r.listing, r.err = r.probe(ctx)
		if r.err != nil {
			r.err = apperrors.Environment("sandbox.probe", r.err)
		}
	})
	if r.err != nil {
		return r.err
	}
	if !containsDistro(r.listing, distro) {
		return apperrors.Environment("sandbox.probe",
			fmt.Errorf("distribution %q is not registered", distro))
	}
	return nil
}

// containsDistro searches the probe output for the distribution name. The
// runtime emits UTF-16LE, so NUL bytes are stripped before matching.
func containsDistro(out []byte, distro string) bool {
	cleaned := strings.ToLower(string(bytes.ReplaceAll(out, []byte{0}, nil)))
	return strings.Contains(cleaned, strings.ToLower(distro))
}
