package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"trainforge/internal/apperrors"
	"trainforge/internal/health"
	"trainforge/internal/training"
)

// AgentHandler contains the HTTP handlers a node agent exposes to its
// coordinator. The agent reuses the training service; whatever execution
// target the coordinator asked for, the job runs under the agent's own
// target since the agent IS the remote end.
type AgentHandler struct {
	svc       *training.Service
	target    training.ExecutionTarget
	outputDir string
	health    *health.Checker
}

// NewAgentHandler creates an agent handler. target is the execution target
// jobs run under on this node; outputDir is where weights land when the
// coordinator leaves the output path to the node.
func NewAgentHandler(svc *training.Service, target training.ExecutionTarget, outputDir string, healthChecker *health.Checker) *AgentHandler {
	return &AgentHandler{svc: svc, target: target, outputDir: outputDir, health: healthChecker}
}

// TrainJob handles POST /agent/train
func (h *AgentHandler) TrainJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var cfg training.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeAgentError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	cfg.Target = h.target
	if cfg.OutputDir == "" {
		cfg.OutputDir = h.outputDir
	}

	status, err := h.svc.Dispatch(&cfg)
	if err != nil {
		writeAgentJSONError(w, r, err)
		return
	}

	writeAgentJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"job_id": status.JobID,
	})
}

// GetJob handles GET /agent/trainings/{jobId}
func (h *AgentHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Get(r.PathValue("jobId"))
	if err != nil {
		writeAgentJSONError(w, r, err)
		return
	}
	writeAgentJSON(w, http.StatusOK, status)
}

// StopJob handles DELETE /agent/trainings/{jobId}
func (h *AgentHandler) StopJob(w http.ResponseWriter, r *http.Request) {
	if !h.svc.Stop(r.PathValue("jobId")) {
		if _, err := h.svc.Get(r.PathValue("jobId")); err != nil {
			writeAgentJSONError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Livez handles GET /livez
func (h *AgentHandler) Livez(w http.ResponseWriter, r *http.Request) {
	writeAgentJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz
func (h *AgentHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())
	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	writeAgentJSON(w, status, response)
}

func writeAgentJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeAgentError(w http.ResponseWriter, status int, message string) {
	writeAgentJSON(w, status, map[string]string{"error": message})
}

func writeAgentJSONError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	writeAgentError(w, status, err.Error())
}

// NewAgentRouter creates the agent's HTTP router. All agent endpoints share
// the coordinator's node key.
func NewAgentRouter(handler *AgentHandler, nodeAPIKey string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	nodeAuth := NodeAuthMiddleware(nodeAPIKey)
	mux.Handle("POST /agent/train", nodeAuth(http.HandlerFunc(handler.TrainJob)))
	mux.Handle("GET /agent/trainings/{jobId}", nodeAuth(http.HandlerFunc(handler.GetJob)))
	mux.Handle("DELETE /agent/trainings/{jobId}", nodeAuth(http.HandlerFunc(handler.StopJob)))

	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)
	return h
}
