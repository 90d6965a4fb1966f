package strategy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"trainforge/internal/apperrors"
	"trainforge/internal/sandbox"
	"trainforge/internal/training"
)

// launchFunc starts the sandbox subprocess and returns its stdout stream plus
// a wait function. Injectable so tests can feed a canned stream.
type launchFunc func(ctx context.Context, distro string, args ...string) (io.ReadCloser, func() error, error)

// Sandbox runs a job inside a WSL-style Linux sandbox: it rewrites the
// dataset manifest with sandbox paths, generates an entry script, launches
// the trainer through the sandbox shell, and follows its output stream.
type Sandbox struct {
	translator *sandbox.PathTranslator
	parser     *sandbox.ProgressParser
	runtime    *sandbox.Runtime
	launch     launchFunc
	logger     *slog.Logger
}

// NewSandbox creates a sandbox strategy.
func NewSandbox(runtime *sandbox.Runtime, logger *slog.Logger) *Sandbox {
	return &Sandbox{
		translator: sandbox.NewPathTranslator(),
		parser:     sandbox.NewProgressParser(),
		runtime:    runtime,
		launch:     launchSandbox,
		logger:     logger,
	}
}

// Run implements training.ExecutionStrategy.
func (s *Sandbox) Run(ctx context.Context, cfg *training.Config, onProgress training.ProgressFunc) (*training.Result, error) {
	if err := s.runtime.Check(ctx, cfg.Target.Distro); err != nil {
		return nil, err
	}

	dataPath, err := s.prepareData(cfg)
	if err != nil {
		return nil, err
	}

	outputHost := cfg.OutputDir
	if outputHost == "" {
		outputHost = hostJoin(hostDir(cfg.DatasetManifestPath), "runs")
	}

	script, err := sandbox.RenderScript(cfg, dataPath, s.translator.ToSandbox(outputHost))
	if err != nil {
		return nil, err
	}

	scriptHost := hostJoin(hostDir(cfg.DatasetManifestPath), "train_"+cfg.JobID+".py")
	if err := os.WriteFile(scriptHost, []byte(script), 0o644); err != nil {
		return nil, apperrors.Environment("sandbox.writeScript", err)
	}
	defer os.Remove(scriptHost)

	stream, wait, err := s.launch(ctx, cfg.Target.Distro, "python3", s.translator.ToSandbox(scriptHost))
	if err != nil {
		return nil, apperrors.Environment("sandbox.launch", err)
	}

	result, parseErr := s.parser.Parse(stream, onProgress)
	waitErr := wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if parseErr != nil {
		// A nonzero exit explains the missing result line better than the
		// protocol error does.
		if waitErr != nil {
			return nil, apperrors.Execution("sandbox.run", waitErr)
		}
		return nil, parseErr
	}
	if waitErr != nil {
		s.logger.Warn("Trainer reported a result but exited nonzero",
			"jobId", cfg.JobID, "error", waitErr)
	}

	result.WeightsPath = s.translator.ToHost(result.WeightsPath)
	return result, nil
}

// prepareData resolves the dataset argument the trainer sees inside the
// sandbox. YOLO manifests are rewritten with translated paths; RF-DETR takes
// a dataset directory, which only needs translation.
func (s *Sandbox) prepareData(cfg *training.Config) (string, error) {
	if training.IsRFDETR(cfg.Architecture) {
		return s.translator.ToSandbox(cfg.DatasetManifestPath), nil
	}
	rewritten, err := sandbox.RewriteManifest(s.translator, cfg.DatasetManifestPath)
	if err != nil {
		return "", err
	}
	return s.translator.ToSandbox(rewritten), nil
}

func launchSandbox(ctx context.Context, distro string, args ...string) (io.ReadCloser, func() error, error) {
	cmdArgs := append([]string{"-d", distro, "--"}, args...)
	cmd := exec.CommandContext(ctx, "wsl", cmdArgs...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}

	wait := func() error {
		if err := cmd.Wait(); err != nil {
			if tail := lastLines(stderr.String(), 5); tail != "" {
				return fmt.Errorf("%w: %s", err, tail)
			}
			return err
		}
		return nil
	}
	return stdout, wait, nil
}

// hostDir returns the directory portion of a host path, tolerating both
// separator styles.
func hostDir(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i > 0 {
		return p[:i]
	}
	return "."
}

// hostJoin joins with a forward slash, which both the host and the
// translator accept.
func hostJoin(dir, name string) string {
	return strings.TrimRight(dir, `/\`) + "/" + name
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
