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
	"trainforge/internal/testutil"
	"trainforge/internal/training"
)

func setupAgent(t *testing.T, strategy training.ExecutionStrategy) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	statuses := training.NewStatusStore()
	records := record.NewMemory()
	orch := training.NewOrchestrator(&stubSelector{strategy: strategy}, statuses, records, logger)
	bridge := queue.NewBridge(queue.Config{Workers: 1, Buffer: 4}, orch, statuses, records, nil, logger)
	t.Cleanup(bridge.Close)
	svc := training.NewService(statuses, orch, bridge, logger)

	checker := health.NewChecker(nil)
	handler := NewAgentHandler(svc, training.ExecutionTarget{Kind: training.TargetLocal}, "", checker)
	server := httptest.NewServer(NewAgentRouter(handler, testNodeAPIKey))
	t.Cleanup(server.Close)
	return server
}

func TestAgentTrainAndStatus(t *testing.T) {
	t.Parallel()
	var seenTarget string
	server := setupAgent(t, &stubStrategy{
		run: func(ctx context.Context, cfg *training.Config, onProgress training.ProgressFunc) (*training.Result, error) {
			seenTarget = cfg.Target.Kind
			return &training.Result{WeightsPath: "/models/best.pt", Metrics: map[string]float64{"mAP50": 0.8}}, nil
		},
	})

	payload, _ := json.Marshal(map[string]any{
		"architecture":          "yolov8n",
		"epochs":                2,
		"dataset_manifest_path": "/data/ds1/data.yaml",
		// The coordinator's remote target must not recurse on the agent.
		"execution_target": map[string]string{"kind": "remote", "base_url": "http://coordinator"},
	})
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/agent/train", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testNodeAPIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	var ack struct {
		Status string `json:"status"`
		JobID  string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("Failed to decode ack: %v", err)
	}
	if ack.Status != "queued" || ack.JobID == "" {
		t.Fatalf("Unexpected ack: %+v", ack)
	}

	testutil.MustWaitFor(t, func() bool {
		req, _ := http.NewRequest(http.MethodGet, server.URL+"/agent/trainings/"+ack.JobID, nil)
		req.Header.Set("X-API-Key", testNodeAPIKey)
		r, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		var st training.Status
		if json.NewDecoder(r.Body).Decode(&st) != nil {
			return false
		}
		return st.State == training.StateCompleted
	})

	if seenTarget != training.TargetLocal {
		t.Errorf("Expected agent to force its own target, got %q", seenTarget)
	}
}

func TestAgentRejectsBadKey(t *testing.T) {
	t.Parallel()
	server := setupAgent(t, completingStrategy())

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/agent/trainings/x", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", resp.StatusCode)
	}
}
