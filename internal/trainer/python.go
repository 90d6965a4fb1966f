// Package trainer provides the host-local implementation of the opaque
// trainer capability: it runs the Python trainer as a direct subprocess and
// follows its output stream.
package trainer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"trainforge/internal/apperrors"
	"trainforge/internal/sandbox"
	"trainforge/internal/training"
)

type launchFunc func(ctx context.Context, bin string, args ...string) (io.ReadCloser, func() error, error)

// Python trains through the host's Python interpreter. It shares the entry
// script and stream protocol with the sandboxed environment but skips path
// translation: the trainer sees the same filesystem as the service.
type Python struct {
	bin    string
	parser *sandbox.ProgressParser
	launch launchFunc
	logger *slog.Logger
}

// NewPython creates a trainer using the given interpreter binary. An empty
// bin falls back to "python3".
func NewPython(bin string, logger *slog.Logger) *Python {
	if bin == "" {
		bin = "python3"
	}
	return &Python{
		bin:    bin,
		parser: sandbox.NewProgressParser(),
		launch: launchPython,
		logger: logger,
	}
}

// Train implements training.Trainer.
func (p *Python) Train(ctx context.Context, cfg *training.Config, onProgress training.ProgressFunc) (*training.Result, error) {
	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(filepath.Dir(cfg.DatasetManifestPath), "runs")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, apperrors.Environment("trainer.outputDir", err)
	}

	script, err := sandbox.RenderScript(cfg, cfg.DatasetManifestPath, outputDir)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "train-"+cfg.JobID+"-")
	if err != nil {
		return nil, apperrors.Environment("trainer.scriptDir", err)
	}
	defer os.RemoveAll(dir)

	scriptPath := filepath.Join(dir, "train.py")
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return nil, apperrors.Environment("trainer.writeScript", err)
	}

	stream, wait, err := p.launch(ctx, p.bin, scriptPath)
	if err != nil {
		return nil, apperrors.Environment("trainer.launch", err)
	}

	result, parseErr := p.parser.Parse(stream, onProgress)
	waitErr := wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if parseErr != nil {
		if waitErr != nil {
			return nil, apperrors.Execution("trainer.run", waitErr)
		}
		return nil, parseErr
	}
	if waitErr != nil {
		p.logger.Warn("Trainer reported a result but exited nonzero",
			"jobId", cfg.JobID, "error", waitErr)
	}
	return result, nil
}

func launchPython(ctx context.Context, bin string, args ...string) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

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
			if tail := stderrTail(stderr.String()); tail != "" {
				return fmt.Errorf("%w: %s", err, tail)
			}
			return err
		}
		return nil
	}
	return stdout, wait, nil
}

func stderrTail(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
