package strategy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"

	"trainforge/internal/apperrors"
	"trainforge/internal/sandbox"
	"trainforge/internal/training"
)

// Container runs a job in a Docker container on the local daemon. The
// dataset, output, and entry script directories are bind-mounted at their
// host paths, so the trainer sees the same filesystem layout inside and out
// and the reported weights path needs no translation.
type Container struct {
	client *client.Client
	parser *sandbox.ProgressParser
	logger *slog.Logger
}

// NewContainer creates a container strategy against the local Docker daemon.
func NewContainer(logger *slog.Logger) (*Container, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apperrors.Environment("container.connect", err)
	}
	return &Container{
		client: dockerClient,
		parser: sandbox.NewProgressParser(),
		logger: logger,
	}, nil
}

// Ready checks that the Docker daemon is reachable.
func (c *Container) Ready(ctx context.Context) error {
	_, err := c.client.Ping(ctx)
	return err
}

// Close releases the Docker client.
func (c *Container) Close() error {
	return c.client.Close()
}

// Run implements training.ExecutionStrategy.
func (c *Container) Run(ctx context.Context, cfg *training.Config, onProgress training.ProgressFunc) (*training.Result, error) {
	if err := c.pullImageIfNeeded(ctx, cfg.Target.Image); err != nil {
		return nil, apperrors.Environment("container.pullImage", err)
	}

	datasetDir := hostDir(cfg.DatasetManifestPath)
	if training.IsRFDETR(cfg.Architecture) {
		datasetDir = cfg.DatasetManifestPath
	}
	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(datasetDir, "runs")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, apperrors.Environment("container.outputDir", err)
	}

	script, err := sandbox.RenderScript(cfg, cfg.DatasetManifestPath, outputDir)
	if err != nil {
		return nil, err
	}
	scriptDir, err := os.MkdirTemp("", "train-"+cfg.JobID+"-")
	if err != nil {
		return nil, apperrors.Environment("container.scriptDir", err)
	}
	defer os.RemoveAll(scriptDir)

	scriptPath := filepath.Join(scriptDir, "train.py")
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return nil, apperrors.Environment("container.writeScript", err)
	}

	containerID, err := c.createContainer(ctx, cfg, scriptPath, datasetDir, outputDir)
	if err != nil {
		return nil, apperrors.Environment("container.create", err)
	}
	defer c.removeContainer(containerID)

	if err := c.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, apperrors.Environment("container.start", err)
	}

	logs, err := c.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, apperrors.Environment("container.logs", err)
	}
	defer logs.Close()

	type parseOutcome struct {
		result *training.Result
		err    error
	}
	parsed := make(chan parseOutcome, 1)
	stdout, stderrTail := demuxFrames(logs)
	go func() {
		result, err := c.parser.Parse(stdout, onProgress)
		parsed <- parseOutcome{result: result, err: err}
	}()

	exitCode, waitErr := c.waitForExit(ctx, containerID)
	outcome := <-parsed

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, apperrors.Environment("container.wait", waitErr)
	}
	if outcome.err != nil {
		if exitCode != 0 {
			return nil, apperrors.Execution("container.run",
				fmt.Errorf("trainer exited with code %d: %s", exitCode, stderrTail()))
		}
		return nil, outcome.err
	}
	if exitCode != 0 {
		c.logger.Warn("Trainer reported a result but exited nonzero",
			"jobId", cfg.JobID, "exitCode", exitCode)
	}
	return outcome.result, nil
}

func (c *Container) createContainer(ctx context.Context, cfg *training.Config, scriptPath, datasetDir, outputDir string) (string, error) {
	containerConfig := &container.Config{
		Image: cfg.Target.Image,
		Cmd:   []string{"python3", scriptPath},
		Labels: map[string]string{
			"job.id":     cfg.JobID,
			"managed-by": "trainforge",
		},
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: filepath.Dir(scriptPath), Target: filepath.Dir(scriptPath), ReadOnly: true},
			{Type: mount.TypeBind, Source: datasetDir, Target: datasetDir},
			{Type: mount.TypeBind, Source: outputDir, Target: outputDir},
		},
	}
	if cfg.Device != "cpu" {
		hostConfig.DeviceRequests = []container.DeviceRequest{
			{Driver: "nvidia", Count: -1, Capabilities: [][]string{{"gpu"}}},
		}
	}

	resp, err := c.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "train-"+cfg.JobID)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Container) waitForExit(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := c.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

func (c *Container) pullImageIfNeeded(ctx context.Context, imageName string) error {
	if _, err := c.client.ImageInspect(ctx, imageName); err == nil {
		return nil
	}

	reader, err := c.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (c *Container) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	stopTimeout := 10
	_ = c.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &stopTimeout})
	_ = c.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// demuxFrames splits a multiplexed Docker log stream. Each frame starts with
// an 8-byte header: stream type in byte 0, big-endian payload size in bytes
// 4-7. Stdout payloads flow to the returned reader; the last stderr lines
// are kept for error reporting.
func demuxFrames(logs io.Reader) (io.Reader, func() string) {
	pr, pw := io.Pipe()
	var stderr strings.Builder

	go func() {
		header := make([]byte, 8)
		for {
			if _, err := io.ReadFull(logs, header); err != nil {
				pw.Close()
				return
			}
			size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
			if size == 0 {
				continue
			}
			payload := make([]byte, size)
			if _, err := io.ReadFull(logs, payload); err != nil {
				pw.Close()
				return
			}
			if header[0] == 2 {
				stderr.Write(payload)
				continue
			}
			if _, err := pw.Write(payload); err != nil {
				return
			}
		}
	}()

	return pr, func() string { return lastLines(stderr.String(), 5) }
}
