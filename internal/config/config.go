// Package config provides configuration loading from environment variables.
package config

import "time"

// ServiceConfig holds configuration for the trainer service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string        // Bearer token for the control API; empty disables auth
	NodeAPIKey        string        // Shared secret for node agents (X-API-Key)
	DatabaseURL       string        // Postgres DSN for durable job records; empty uses the in-memory store
	ModelsDir         string        // Output directory for trained weights
	PythonBin         string        // Interpreter for local-target training
	SandboxDistro     string        // Distro name for the sandboxed environment
	TrainerImage      string        // Image for container-target jobs
	MaxConcurrentJobs int           // Bound on simultaneously running trainings
	QueueBuffer       int           // Pending dispatch buffer
	JobRetention      time.Duration // How long finished jobs stay queryable
	CleanupInterval   time.Duration // How often finished jobs are swept
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		NodeAPIKey:        GetEnv("NODE_API_KEY", ""),
		DatabaseURL:       GetEnv("DATABASE_URL", ""),
		ModelsDir:         GetEnv("MODELS_DIR", "./data/models"),
		PythonBin:         GetEnv("PYTHON_BIN", "python3"),
		SandboxDistro:     GetEnv("SANDBOX_DISTRO", "Ubuntu"),
		TrainerImage:      GetEnv("TRAINER_IMAGE", "trainforge/trainer:latest"),
		MaxConcurrentJobs: GetIntEnv("MAX_CONCURRENT_JOBS", 2),
		QueueBuffer:       GetIntEnv("QUEUE_BUFFER", 64),
		JobRetention:      GetDurationEnv("JOB_RETENTION", 24*time.Hour),
		CleanupInterval:   GetDurationEnv("CLEANUP_INTERVAL", time.Hour),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
	}
}

// AgentConfig holds configuration for a node agent.
type AgentConfig struct {
	Port              string
	CoordinatorURL    string // Base URL of the trainer service to register with
	NodeName          string // Stable unique node name
	AdvertiseAddr     string // Address the coordinator should dispatch to
	NodeAPIKey        string
	HeartbeatInterval time.Duration
	HasGPU            bool
	GPUName           string
	VRAMTotalGB       float64
	ModelsDir         string
	SandboxDistro     string
	MaxConcurrentJobs int
}

// LoadAgentConfig loads node agent configuration from environment variables.
func LoadAgentConfig() *AgentConfig {
	return &AgentConfig{
		Port:              GetEnv("PORT", "8000"),
		CoordinatorURL:    GetEnv("COORDINATOR_URL", ""),
		NodeName:          GetEnv("NODE_NAME", ""),
		AdvertiseAddr:     GetEnv("ADVERTISE_ADDR", ""),
		NodeAPIKey:        GetEnv("NODE_API_KEY", ""),
		HeartbeatInterval: GetDurationEnv("HEARTBEAT_INTERVAL", 30*time.Second),
		HasGPU:            GetBoolEnv("HAS_GPU", false),
		GPUName:           GetEnv("GPU_NAME", ""),
		VRAMTotalGB:       GetFloatEnv("VRAM_TOTAL_GB", 0),
		ModelsDir:         GetEnv("MODELS_DIR", "./data/models"),
		SandboxDistro:     GetEnv("SANDBOX_DISTRO", "Ubuntu"),
		MaxConcurrentJobs: GetIntEnv("MAX_CONCURRENT_JOBS", 1),
	}
}
