// Package training defines the training job model and the orchestrator that
// drives jobs through their lifecycle.
package training

import (
	"context"
	"time"
)

// Job states. A job moves created → queued → starting → training and ends in
// exactly one of completed, failed, or cancelled.
const (
	StateCreated   = "created"
	StateQueued    = "queued"
	StateStarting  = "starting"
	StateTraining  = "training"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// IsTerminal reports whether a state ends the job's lifecycle.
func IsTerminal(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Execution target kinds.
const (
	TargetLocal     = "local"
	TargetSandbox   = "sandbox"
	TargetRemote    = "remote"
	TargetContainer = "container"
)

// ExecutionTarget selects where a job runs. Chosen once at dispatch time and
// immutable for the life of the job.
type ExecutionTarget struct {
	Kind    string `json:"kind"`
	Distro  string `json:"distro,omitempty"`   // sandbox: distro name
	BaseURL string `json:"base_url,omitempty"` // remote: node base URL
	APIKey  string `json:"api_key,omitempty"`  // remote: shared credential
	Image   string `json:"image,omitempty"`    // container: trainer image
}

// Config is a declarative training request.
type Config struct {
	JobID               string          `json:"job_id"`
	Architecture        string          `json:"architecture"`
	Epochs              int             `json:"epochs"`
	BatchSize           int             `json:"batch_size"`
	ImgSize             int             `json:"img_size"`
	LearningRate        float64         `json:"learning_rate"`
	Device              string          `json:"device"`
	DatasetManifestPath string          `json:"dataset_manifest_path"`
	OutputDir           string          `json:"output_dir,omitempty"`
	Target              ExecutionTarget `json:"execution_target"`
}

// Progress is a single progress event observed from a running job.
type Progress struct {
	Epoch       int
	TotalEpochs int
	Metrics     map[string]float64
}

// ProgressFunc receives progress events in stream order for one job.
type ProgressFunc func(Progress)

// Result is the terminal artifact of a successful training run.
type Result struct {
	WeightsPath string             `json:"weights_path"`
	Metrics     map[string]float64 `json:"metrics"`
}

// Status is the externally visible state of a job.
type Status struct {
	JobID        string             `json:"job_id"`
	State        string             `json:"status"`
	Architecture string             `json:"architecture"`
	Target       string             `json:"target"`
	CurrentEpoch int                `json:"current_epoch"`
	TotalEpochs  int                `json:"total_epochs"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	WeightsPath  string             `json:"weights_path,omitempty"`
	Error        string             `json:"error,omitempty"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
}

// ExecutionStrategy runs a training job in one environment and reports
// progress through the callback. Run blocks until the job reaches a terminal
// outcome or ctx is cancelled; cancellation must also stop any subprocess
// the strategy spawned.
type ExecutionStrategy interface {
	Run(ctx context.Context, cfg *Config, onProgress ProgressFunc) (*Result, error)
}

// StrategySelector resolves an execution strategy for a config's target.
type StrategySelector interface {
	Select(cfg *Config) (ExecutionStrategy, error)
}

// Dispatcher accepts validated configs for asynchronous execution.
// Implemented by the queue bridge.
type Dispatcher interface {
	Enqueue(cfg *Config) error
}

// Trainer is the opaque in-process training capability invoked by the local
// strategy. Its only contract: consume a config, emit progress, and either
// return a result artifact path plus metrics or fail.
type Trainer interface {
	Train(ctx context.Context, cfg *Config, onProgress ProgressFunc) (*Result, error)
}
