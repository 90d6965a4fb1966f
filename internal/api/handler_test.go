package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"trainforge/internal/health"
	"trainforge/internal/queue"
	"trainforge/internal/record"
	"trainforge/internal/registry"
	"trainforge/internal/testutil"
	"trainforge/internal/training"
)

const (
	testAPIKey     = "test-api-key"
	testNodeAPIKey = "test-node-key"
)

type stubStrategy struct {
	run func(ctx context.Context, cfg *training.Config, onProgress training.ProgressFunc) (*training.Result, error)
}

func (s *stubStrategy) Run(ctx context.Context, cfg *training.Config, onProgress training.ProgressFunc) (*training.Result, error) {
	return s.run(ctx, cfg, onProgress)
}

type stubSelector struct {
	strategy training.ExecutionStrategy
}

func (s *stubSelector) Select(cfg *training.Config) (training.ExecutionStrategy, error) {
	return s.strategy, nil
}

type testEnv struct {
	server   *httptest.Server
	registry *registry.Registry
}

// setupAPI wires the full in-process stack behind a real router: service,
// queue bridge, orchestrator, and the given strategy.
func setupAPI(t *testing.T, strategy training.ExecutionStrategy) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	statuses := training.NewStatusStore()
	records := record.NewMemory()
	orch := training.NewOrchestrator(&stubSelector{strategy: strategy}, statuses, records, logger)
	bridge := queue.NewBridge(queue.Config{Workers: 2, Buffer: 8}, orch, statuses, records, nil, logger)
	t.Cleanup(bridge.Close)

	svc := training.NewService(statuses, orch, bridge, logger)
	reg := registry.NewRegistry()
	checker := health.NewChecker(map[string]health.ReadinessCheck{
		"records": health.ReadinessFunc(func(ctx context.Context) error { return nil }),
	})

	handler := NewHandler(HandlerConfig{
		Service:       svc,
		Registry:      reg,
		NodeAPIKey:    testNodeAPIKey,
		HealthChecker: checker,
	})
	router := NewRouter(RouterConfig{
		Handler:    handler,
		APIKey:     testAPIKey,
		NodeAPIKey: testNodeAPIKey,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testEnv{server: server, registry: reg}
}

func (e *testEnv) request(t *testing.T, method, path string, body any, auth string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch auth {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
	case "node":
		req.Header.Set("X-API-Key", testNodeAPIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeStatus(t *testing.T, resp *http.Response) *training.Status {
	t.Helper()
	var st training.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	return &st
}

func completingStrategy() *stubStrategy {
	return &stubStrategy{
		run: func(ctx context.Context, cfg *training.Config, onProgress training.ProgressFunc) (*training.Result, error) {
			for epoch := 1; epoch <= cfg.Epochs; epoch++ {
				onProgress(training.Progress{Epoch: epoch, TotalEpochs: cfg.Epochs})
			}
			return &training.Result{WeightsPath: "/out/best.pt", Metrics: map[string]float64{"mAP50": 0.9}}, nil
		},
	}
}

func TestCreateTrainingRunsToCompletion(t *testing.T) {
	t.Parallel()
	env := setupAPI(t, completingStrategy())

	resp := env.request(t, http.MethodPost, "/v1/trainings", map[string]any{
		"architecture":          "yolov8n",
		"epochs":                5,
		"dataset_manifest_path": "/data/ds1/data.yaml",
	}, "bearer")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	created := decodeStatus(t, resp)
	if created.State != training.StateQueued {
		t.Errorf("Expected queued job, got %q", created.State)
	}

	var final *training.Status
	testutil.MustWaitFor(t, func() bool {
		r := env.request(t, http.MethodGet, "/v1/trainings/"+created.JobID, nil, "bearer")
		if r.StatusCode != http.StatusOK {
			return false
		}
		final = decodeStatus(t, r)
		return final.State == training.StateCompleted
	})

	if final.WeightsPath != "/out/best.pt" {
		t.Errorf("Expected weights path, got %q", final.WeightsPath)
	}
	if final.CurrentEpoch != 5 || final.TotalEpochs != 5 {
		t.Errorf("Expected epoch 5/5, got %d/%d", final.CurrentEpoch, final.TotalEpochs)
	}
	if final.Metrics["mAP50"] != 0.9 {
		t.Errorf("Expected metrics, got %v", final.Metrics)
	}
}

func TestCreateTrainingValidation(t *testing.T) {
	t.Parallel()
	env := setupAPI(t, completingStrategy())

	resp := env.request(t, http.MethodPost, "/v1/trainings", map[string]any{
		"architecture":          "resnet50",
		"dataset_manifest_path": "/data/ds1/data.yaml",
	}, "bearer")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	env := setupAPI(t, completingStrategy())

	if resp := env.request(t, http.MethodGet, "/v1/trainings", nil, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without bearer token, got %d", resp.StatusCode)
	}
	if resp := env.request(t, http.MethodPost, "/v1/nodes", map[string]string{"name": "n"}, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without node key, got %d", resp.StatusCode)
	}
	// Health probes stay open.
	if resp := env.request(t, http.MethodGet, "/livez", nil, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("Expected open /livez, got %d", resp.StatusCode)
	}
}

func TestGetMissingTraining(t *testing.T) {
	t.Parallel()
	env := setupAPI(t, completingStrategy())

	resp := env.request(t, http.MethodGet, "/v1/trainings/no-such-job", nil, "bearer")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestStopFinishedTrainingConflicts(t *testing.T) {
	t.Parallel()
	env := setupAPI(t, completingStrategy())

	resp := env.request(t, http.MethodPost, "/v1/trainings", map[string]any{
		"architecture":          "yolov8n",
		"epochs":                1,
		"dataset_manifest_path": "/data/ds1/data.yaml",
	}, "bearer")
	created := decodeStatus(t, resp)

	testutil.MustWaitFor(t, func() bool {
		r := env.request(t, http.MethodGet, "/v1/trainings/"+created.JobID, nil, "bearer")
		return decodeStatus(t, r).State == training.StateCompleted
	})

	del := env.request(t, http.MethodDelete, "/v1/trainings/"+created.JobID, nil, "bearer")
	if del.StatusCode != http.StatusConflict {
		t.Fatalf("Expected 409 stopping a finished job, got %d", del.StatusCode)
	}
}

func TestNodeLifecycle(t *testing.T) {
	t.Parallel()
	env := setupAPI(t, completingStrategy())

	reg := env.request(t, http.MethodPost, "/v1/nodes", map[string]any{
		"name":     "gpu-box-1",
		"base_url": "http://10.0.0.5:9090",
		"has_gpu":  true,
		"gpu_name": "RTX 4090",
	}, "node")
	if reg.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", reg.StatusCode)
	}

	hb := env.request(t, http.MethodPost, "/v1/nodes/gpu-box-1/heartbeat", map[string]any{
		"memory_used":  4.2,
		"load_percent": 35.0,
		"active_jobs":  1,
	}, "node")
	if hb.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", hb.StatusCode)
	}

	ghost := env.request(t, http.MethodPost, "/v1/nodes/ghost/heartbeat", map[string]any{}, "node")
	if ghost.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown node heartbeat, got %d", ghost.StatusCode)
	}

	list := env.request(t, http.MethodGet, "/v1/nodes", nil, "bearer")
	var nodes []registry.Node
	if err := json.NewDecoder(list.Body).Decode(&nodes); err != nil {
		t.Fatalf("Failed to decode nodes: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Name != "gpu-box-1" || !nodes[0].Live {
		t.Errorf("Unexpected node list: %+v", nodes)
	}

	if del := env.request(t, http.MethodDelete, "/v1/nodes/gpu-box-1", nil, "bearer"); del.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204 removing node, got %d", del.StatusCode)
	}
}

func TestRemoteTargetWithoutLiveNodes(t *testing.T) {
	t.Parallel()
	env := setupAPI(t, completingStrategy())

	resp := env.request(t, http.MethodPost, "/v1/trainings", map[string]any{
		"architecture":          "yolov8n",
		"dataset_manifest_path": "/data/ds1/data.yaml",
		"execution_target":      map[string]string{"kind": "remote"},
	}, "bearer")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 with no live nodes, got %d", resp.StatusCode)
	}
}

func TestRemoteTargetPinsNode(t *testing.T) {
	t.Parallel()
	var pinned string
	env := setupAPI(t, &stubStrategy{
		run: func(ctx context.Context, cfg *training.Config, onProgress training.ProgressFunc) (*training.Result, error) {
			pinned = cfg.Target.BaseURL
			return &training.Result{WeightsPath: "/out/best.pt"}, nil
		},
	})

	if err := env.registry.Register(registry.Node{Name: "n1", BaseURL: "http://10.0.0.5:9090"}); err != nil {
		t.Fatalf("Failed to register node: %v", err)
	}

	resp := env.request(t, http.MethodPost, "/v1/trainings", map[string]any{
		"architecture":          "yolov8n",
		"dataset_manifest_path": "/data/ds1/data.yaml",
		"execution_target":      map[string]string{"kind": "remote"},
	}, "bearer")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	created := decodeStatus(t, resp)

	testutil.MustWaitFor(t, func() bool {
		r := env.request(t, http.MethodGet, "/v1/trainings/"+created.JobID, nil, "bearer")
		return decodeStatus(t, r).State == training.StateCompleted
	})

	if pinned != "http://10.0.0.5:9090" {
		t.Errorf("Expected pinned node base URL, got %q", pinned)
	}
}
