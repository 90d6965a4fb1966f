package api

import (
	"net/http"

	"trainforge/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Handler    *Handler
	Metrics    *observability.Metrics
	APIKey     string // Bearer credential for the trainings API
	NodeAPIKey string // X-API-Key credential for node endpoints
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := cfg.Handler

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Training endpoints - bearer auth
	auth := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/trainings", auth(http.HandlerFunc(handler.CreateTraining)))
	mux.Handle("GET /v1/trainings", auth(http.HandlerFunc(handler.ListTrainings)))
	mux.Handle("GET /v1/trainings/{jobId}", auth(http.HandlerFunc(handler.GetTraining)))
	mux.Handle("DELETE /v1/trainings/{jobId}", auth(http.HandlerFunc(handler.StopTraining)))
	mux.Handle("GET /v1/nodes", auth(http.HandlerFunc(handler.ListNodes)))
	mux.Handle("DELETE /v1/nodes/{name}", auth(http.HandlerFunc(handler.RemoveNode)))

	// Node agent endpoints - shared node key
	nodeAuth := NodeAuthMiddleware(cfg.NodeAPIKey)
	mux.Handle("POST /v1/nodes", nodeAuth(http.HandlerFunc(handler.RegisterNode)))
	mux.Handle("POST /v1/nodes/{name}/heartbeat", nodeAuth(http.HandlerFunc(handler.NodeHeartbeat)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
