package training

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"trainforge/internal/apperrors"
)

// Defaults applied to omitted hyperparameters.
const (
	DefaultEpochs       = 100
	DefaultBatchSize    = 16
	DefaultImgSize      = 640
	DefaultLearningRate = 0.01
	DefaultDevice       = "auto"
)

const maxEpochs = 10000

// Service is the front door for training jobs: it validates requests, fills
// in defaults, registers the job, and hands it to the dispatcher. Reads are
// answered from the status store.
type Service struct {
	statuses     *StatusStore
	orchestrator *Orchestrator
	dispatcher   Dispatcher
	logger       *slog.Logger
}

// NewService creates a training service.
func NewService(statuses *StatusStore, orchestrator *Orchestrator, dispatcher Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		statuses:     statuses,
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		logger:       logger,
	}
}

// Dispatch validates cfg, applies defaults, registers the job, and enqueues
// it for execution. On success the returned status is in the queued state.
func (s *Service) Dispatch(cfg *Config) (*Status, error) {
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}

	if err := s.statuses.Create(cfg); err != nil {
		return nil, err
	}
	if err := s.statuses.MarkQueued(cfg.JobID); err != nil {
		return nil, err
	}

	if err := s.dispatcher.Enqueue(cfg); err != nil {
		// The job never reached the queue. Commit the registration as failed
		// so the record says why; the caller re-submits as a new job.
		s.statuses.CommitTerminal(cfg.JobID, StateFailed, nil, err.Error())
		return nil, err
	}

	s.logger.Info("Dispatched training job",
		"jobId", cfg.JobID,
		"architecture", cfg.Architecture,
		"target", cfg.Target.Kind)

	return s.statuses.Get(cfg.JobID)
}

// Get returns the current status of one job.
func (s *Service) Get(jobID string) (*Status, error) {
	return s.statuses.Get(jobID)
}

// List returns the status of every known job.
func (s *Service) List() []*Status {
	return s.statuses.List()
}

// Stop cancels a running job. Returns false when the job is unknown, still
// queued, or already finished.
func (s *Service) Stop(jobID string) bool {
	return s.orchestrator.Stop(jobID)
}

func applyDefaults(cfg *Config) {
	if cfg.JobID == "" {
		cfg.JobID = newJobID()
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = DefaultEpochs
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ImgSize == 0 {
		cfg.ImgSize = DefaultImgSize
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = DefaultLearningRate
	}
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	if cfg.Target.Kind == "" {
		cfg.Target.Kind = TargetLocal
	}
}

func validate(cfg *Config) error {
	if cfg.Architecture == "" {
		return apperrors.Validation("architecture", "architecture is required")
	}
	if _, known := yoloWeights[cfg.Architecture]; !known && !IsRFDETR(cfg.Architecture) {
		return apperrors.Validation("architecture", fmt.Sprintf("unsupported architecture: %s", cfg.Architecture))
	}
	if cfg.Epochs < 1 || cfg.Epochs > maxEpochs {
		return apperrors.Validation("epochs", fmt.Sprintf("epochs must be between 1 and %d", maxEpochs))
	}
	if cfg.BatchSize < 1 {
		return apperrors.Validation("batch_size", "batch_size must be positive")
	}
	if cfg.ImgSize < 32 {
		return apperrors.Validation("img_size", "img_size must be at least 32")
	}
	if cfg.LearningRate <= 0 || cfg.LearningRate >= 1 {
		return apperrors.Validation("learning_rate", "learning_rate must be in (0, 1)")
	}
	if strings.TrimSpace(cfg.DatasetManifestPath) == "" {
		return apperrors.Validation("dataset_manifest_path", "dataset_manifest_path is required")
	}

	switch cfg.Target.Kind {
	case TargetLocal:
	case TargetSandbox:
		if cfg.Target.Distro == "" {
			return apperrors.Validation("execution_target.distro", "distro is required for sandbox execution")
		}
	case TargetRemote:
		if cfg.Target.BaseURL == "" {
			return apperrors.Validation("execution_target.base_url", "base_url is required for remote execution")
		}
	case TargetContainer:
		if cfg.Target.Image == "" {
			return apperrors.Validation("execution_target.image", "image is required for container execution")
		}
	default:
		return apperrors.Validation("execution_target.kind", fmt.Sprintf("unknown execution target: %s", cfg.Target.Kind))
	}
	return nil
}

func newJobID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("failed to generate job ID: %v", err))
	}
	return hex.EncodeToString(buf)
}
