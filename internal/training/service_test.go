package training

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"trainforge/internal/apperrors"
)

type stubStrategy struct {
	run func(ctx context.Context, cfg *Config, onProgress ProgressFunc) (*Result, error)
}

func (s *stubStrategy) Run(ctx context.Context, cfg *Config, onProgress ProgressFunc) (*Result, error) {
	return s.run(ctx, cfg, onProgress)
}

type stubSelector struct {
	strategy ExecutionStrategy
}

func (s *stubSelector) Select(cfg *Config) (ExecutionStrategy, error) {
	return s.strategy, nil
}

// recordingDispatcher captures enqueued configs instead of executing them.
type recordingDispatcher struct {
	configs []*Config
	err     error
}

func (d *recordingDispatcher) Enqueue(cfg *Config) error {
	if d.err != nil {
		return d.err
	}
	d.configs = append(d.configs, cfg)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(dispatcher Dispatcher) (*Service, *StatusStore) {
	statuses := NewStatusStore()
	orch := NewOrchestrator(&stubSelector{}, statuses, nil, testLogger())
	return NewService(statuses, orch, dispatcher, testLogger()), statuses
}

func TestServiceDispatchAppliesDefaults(t *testing.T) {
	t.Parallel()
	dispatcher := &recordingDispatcher{}
	svc, _ := newTestService(dispatcher)

	st, err := svc.Dispatch(&Config{
		Architecture:        "yolov8n",
		DatasetManifestPath: "/data/ds1/data.yaml",
	})
	if err != nil {
		t.Fatalf("Failed to dispatch job: %v", err)
	}
	if st.State != StateQueued {
		t.Errorf("Expected state %q, got %q", StateQueued, st.State)
	}
	if st.JobID == "" {
		t.Error("Expected a generated job ID")
	}

	if len(dispatcher.configs) != 1 {
		t.Fatalf("Expected 1 enqueued config, got %d", len(dispatcher.configs))
	}
	cfg := dispatcher.configs[0]
	if cfg.Epochs != DefaultEpochs {
		t.Errorf("Expected default epochs %d, got %d", DefaultEpochs, cfg.Epochs)
	}
	if cfg.BatchSize != DefaultBatchSize {
		t.Errorf("Expected default batch size %d, got %d", DefaultBatchSize, cfg.BatchSize)
	}
	if cfg.ImgSize != DefaultImgSize {
		t.Errorf("Expected default img size %d, got %d", DefaultImgSize, cfg.ImgSize)
	}
	if cfg.LearningRate != DefaultLearningRate {
		t.Errorf("Expected default learning rate %v, got %v", DefaultLearningRate, cfg.LearningRate)
	}
	if cfg.Device != DefaultDevice {
		t.Errorf("Expected default device %q, got %q", DefaultDevice, cfg.Device)
	}
	if cfg.Target.Kind != TargetLocal {
		t.Errorf("Expected default target %q, got %q", TargetLocal, cfg.Target.Kind)
	}
}

func TestServiceDispatchValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "missing architecture",
			cfg:  Config{DatasetManifestPath: "/data/ds1/data.yaml"},
		},
		{
			name: "unknown architecture",
			cfg:  Config{Architecture: "resnet50", DatasetManifestPath: "/data/ds1/data.yaml"},
		},
		{
			name: "missing manifest",
			cfg:  Config{Architecture: "yolov8n"},
		},
		{
			name: "negative epochs",
			cfg:  Config{Architecture: "yolov8n", Epochs: -1, DatasetManifestPath: "/data/ds1/data.yaml"},
		},
		{
			name: "learning rate out of range",
			cfg:  Config{Architecture: "yolov8n", LearningRate: 1.5, DatasetManifestPath: "/data/ds1/data.yaml"},
		},
		{
			name: "sandbox without distro",
			cfg: Config{
				Architecture:        "yolov8n",
				DatasetManifestPath: "/data/ds1/data.yaml",
				Target:              ExecutionTarget{Kind: TargetSandbox},
			},
		},
		{
			name: "remote without base url",
			cfg: Config{
				Architecture:        "yolov8n",
				DatasetManifestPath: "/data/ds1/data.yaml",
				Target:              ExecutionTarget{Kind: TargetRemote},
			},
		},
		{
			name: "unknown target kind",
			cfg: Config{
				Architecture:        "yolov8n",
				DatasetManifestPath: "/data/ds1/data.yaml",
				Target:              ExecutionTarget{Kind: "mainframe"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc, _ := newTestService(&recordingDispatcher{})
			_, err := svc.Dispatch(&tt.cfg)
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestServiceDispatchQueueFull(t *testing.T) {
	t.Parallel()
	full := &recordingDispatcher{err: apperrors.Internal("queue.enqueue", context.DeadlineExceeded)}
	svc, statuses := newTestService(full)

	st, err := svc.Dispatch(&Config{
		JobID:               "job-full",
		Architecture:        "yolov8n",
		DatasetManifestPath: "/data/ds1/data.yaml",
	})
	if err == nil {
		t.Fatalf("Expected error from full queue, got status %+v", st)
	}

	recorded, getErr := statuses.Get("job-full")
	if getErr != nil {
		t.Fatalf("Expected job to remain visible: %v", getErr)
	}
	if recorded.State != StateFailed {
		t.Errorf("Expected rejected job to be failed, got %q", recorded.State)
	}
	if recorded.Error == "" {
		t.Error("Expected the enqueue error to be recorded on the job")
	}
}

func TestServiceStop(t *testing.T) {
	t.Parallel()
	svc, statuses := newTestService(&recordingDispatcher{})

	st, err := svc.Dispatch(&Config{
		JobID:               "job-stop",
		Architecture:        "rf-detr-base",
		DatasetManifestPath: "/data/ds1",
	})
	if err != nil {
		t.Fatalf("Failed to dispatch job: %v", err)
	}
	if st.State != StateQueued {
		t.Fatalf("Expected queued job, got %q", st.State)
	}

	// Only a running job can be stopped; queued, finished, and unknown jobs
	// all report false without any state change.
	if svc.Stop("job-stop") {
		t.Error("Expected stop of a queued job to report false")
	}
	queued, _ := statuses.Get("job-stop")
	if queued.State != StateQueued {
		t.Errorf("Expected state %q after no-op stop, got %q", StateQueued, queued.State)
	}

	statuses.CommitTerminal("job-stop", StateCompleted, &Result{WeightsPath: "/out/best.pt"}, "")
	if svc.Stop("job-stop") {
		t.Error("Expected stop of a completed job to report false")
	}
	finished, _ := statuses.Get("job-stop")
	if finished.State != StateCompleted || finished.WeightsPath != "/out/best.pt" {
		t.Errorf("Expected completed job untouched, got %+v", finished)
	}

	if svc.Stop("no-such-job") {
		t.Error("Expected stop of an unknown job to report false")
	}
}
