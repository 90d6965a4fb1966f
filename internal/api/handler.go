// Package api provides the HTTP API handlers and routing for the trainer service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"trainforge/internal/apperrors"
	"trainforge/internal/health"
	"trainforge/internal/observability"
	"trainforge/internal/registry"
	"trainforge/internal/training"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// HandlerConfig holds dependencies for the API handler.
type HandlerConfig struct {
	Service       *training.Service
	Registry      *registry.Registry
	Selection     registry.SelectionPolicy
	NodeAPIKey    string // Credential the coordinator presents to node agents
	DefaultDistro string // Distro for sandbox targets that omit one
	DefaultImage  string // Image for container targets that omit one
	OutputDir     string // Weights directory for jobs that omit output_dir
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
}

// Handler contains HTTP handlers for the trainings API.
type Handler struct {
	svc           *training.Service
	registry      *registry.Registry
	selection     registry.SelectionPolicy
	nodeAPIKey    string
	defaultDistro string
	defaultImage  string
	outputDir     string
	metrics       *observability.Metrics
	health        *health.Checker
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	selection := cfg.Selection
	if selection == nil {
		selection = registry.LeastLoaded{}
	}
	return &Handler{
		svc:           cfg.Service,
		registry:      cfg.Registry,
		selection:     selection,
		nodeAPIKey:    cfg.NodeAPIKey,
		defaultDistro: cfg.DefaultDistro,
		defaultImage:  cfg.DefaultImage,
		outputDir:     cfg.OutputDir,
		metrics:       cfg.Metrics,
		health:        cfg.HealthChecker,
	}
}

// CreateTraining handles POST /v1/trainings
func (h *Handler) CreateTraining(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var cfg training.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	// Fill target details the caller may omit. A remote job without an
	// explicit node gets one pinned here, so the target is fixed for the
	// job's whole lifetime including retries.
	// Output paths on remote targets are the executing node's concern.
	if cfg.OutputDir == "" && cfg.Target.Kind != training.TargetRemote {
		cfg.OutputDir = h.outputDir
	}
	switch cfg.Target.Kind {
	case training.TargetSandbox:
		if cfg.Target.Distro == "" {
			cfg.Target.Distro = h.defaultDistro
		}
	case training.TargetContainer:
		if cfg.Target.Image == "" {
			cfg.Target.Image = h.defaultImage
		}
	case training.TargetRemote:
		if cfg.Target.BaseURL == "" {
			node, err := registry.SelectNode(h.registry, h.selection)
			if err != nil {
				h.handleError(w, r, err)
				return
			}
			cfg.Target.BaseURL = node.BaseURL
			cfg.Target.APIKey = h.nodeAPIKey
		}
	}

	status, err := h.svc.Dispatch(&cfg)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordJobDispatched(r.Context(), cfg.Architecture, cfg.Target.Kind)
	}
	h.writeJSON(w, http.StatusAccepted, status)
}

// ListTrainings handles GET /v1/trainings
func (h *Handler) ListTrainings(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.List())
}

// GetTraining handles GET /v1/trainings/{jobId}
func (h *Handler) GetTraining(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	status, err := h.svc.Get(jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

// StopTraining handles DELETE /v1/trainings/{jobId}
func (h *Handler) StopTraining(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	if !h.svc.Stop(jobID) {
		// Distinguish "never existed" from "exists but not running".
		if _, err := h.svc.Get(jobID); err != nil {
			h.handleError(w, r, err)
			return
		}
		h.writeError(w, http.StatusConflict, "Job is not running")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RegisterNode handles POST /v1/nodes
func (h *Handler) RegisterNode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var node registry.Node
	if err := json.NewDecoder(r.Body).Decode(&node); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.registry.Register(node); err != nil {
		h.handleError(w, r, err)
		return
	}

	slog.Info("Node registered", "node", node.Name, "baseUrl", node.BaseURL, "hasGpu", node.HasGPU)
	w.WriteHeader(http.StatusCreated)
}

// NodeHeartbeat handles POST /v1/nodes/{name}/heartbeat
func (h *Handler) NodeHeartbeat(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		h.writeError(w, http.StatusBadRequest, "Node name is required")
		return
	}

	var hb registry.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.registry.RecordHeartbeat(name, hb); err != nil {
		h.handleError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordNodeHeartbeat(r.Context())
		h.metrics.RecordNodesLive(r.Context(), int64(h.registry.LiveCount()))
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListNodes handles GET /v1/nodes
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.registry.List())
}

// RemoveNode handles DELETE /v1/nodes/{name}
func (h *Handler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		h.writeError(w, http.StatusBadRequest, "Node name is required")
		return
	}

	if err := h.registry.Remove(name); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if a backend (record store, container daemon) is unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from the service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
