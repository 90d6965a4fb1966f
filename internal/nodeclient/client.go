// Package nodeclient is the HTTP client for talking to training node agents
// and, from the agent side, back to the coordinator.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"trainforge/internal/apperrors"
	"trainforge/internal/registry"
	"trainforge/internal/training"
	"trainforge/pkg/circuitbreaker"
)

const apiKeyHeader = "X-API-Key"

// Client talks to node agents over HTTP. Failures feed a per-destination
// circuit breaker so a dead node is skipped quickly instead of absorbing a
// connect timeout per dispatch.
type Client struct {
	httpClient *http.Client
	apiKey     string
	breakers   *circuitbreaker.Registry
	logger     *slog.Logger
}

// NewClient creates a node client. apiKey is sent on every request; an empty
// key sends no header.
func NewClient(apiKey string, logger *slog.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		apiKey:   apiKey,
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{}),
		logger:   logger,
	}
}

// DispatchResponse is the agent's acknowledgement of a training request.
type DispatchResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

// Dispatch submits a training job to the agent at baseURL. Every failure on
// this path is retryable: the agent has not accepted the job yet, so network
// failures, an open circuit, and non-2xx responses alike surface as transport
// errors for the queue bridge to retry. A 404 from a proxy or a node
// mid-restart must not fail the job outright.
func (c *Client) Dispatch(ctx context.Context, baseURL string, cfg *training.Config) (*DispatchResponse, error) {
	var resp DispatchResponse
	err := c.doTransient(ctx, http.MethodPost, baseURL, "/agent/train", cfg, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobStatus fetches the agent-local status of a job.
func (c *Client) JobStatus(ctx context.Context, baseURL, jobID string) (*training.Status, error) {
	var st training.Status
	err := c.do(ctx, http.MethodGet, baseURL, "/agent/trainings/"+jobID, nil, &st)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// StopJob asks the agent to cancel a running job.
func (c *Client) StopJob(ctx context.Context, baseURL, jobID string) error {
	return c.do(ctx, http.MethodDelete, baseURL, "/agent/trainings/"+jobID, nil, nil)
}

// Register announces a node to the coordinator at baseURL.
func (c *Client) Register(ctx context.Context, baseURL string, node registry.Node) error {
	return c.do(ctx, http.MethodPost, baseURL, "/v1/nodes", node, nil)
}

// SendHeartbeat reports a node's load to the coordinator. A 404 means the
// coordinator forgot the node and it must re-register; that is surfaced as a
// not-found error so the caller can distinguish it from the node being
// unreachable.
func (c *Client) SendHeartbeat(ctx context.Context, baseURL, name string, hb registry.Heartbeat) error {
	return c.do(ctx, http.MethodPost, baseURL, "/v1/nodes/"+name+"/heartbeat", hb, nil)
}

// BreakerStats exposes circuit breaker statistics for health reporting.
func (c *Client) BreakerStats() circuitbreaker.Stats {
	return c.breakers.Stats()
}

func (c *Client) do(ctx context.Context, method, baseURL, path string, body, out any) error {
	return c.request(ctx, method, baseURL, path, body, out, false)
}

// doTransient is do with every non-2xx response classified as a transport
// error. Pre-acceptance paths use it so HTTP rejections stay retryable.
func (c *Client) doTransient(ctx context.Context, method, baseURL, path string, body, out any) error {
	return c.request(ctx, method, baseURL, path, body, out, true)
}

func (c *Client) request(ctx context.Context, method, baseURL, path string, body, out any, transientStatus bool) error {
	op := "nodeclient." + method + " " + path
	baseURL = strings.TrimSuffix(baseURL, "/")

	breaker := c.breakers.Get(baseURL)
	if !breaker.Allow() {
		return apperrors.Transport(op, fmt.Errorf("circuit open for %s", baseURL))
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperrors.Internal(op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return apperrors.Internal(op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		breaker.RecordFailure()
		return apperrors.Transport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		breaker.RecordFailure()
		return apperrors.Transport(op, fmt.Errorf("%s returned %d", baseURL, resp.StatusCode))
	}
	breaker.RecordSuccess()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := fmt.Errorf("%s returned %d: %s", baseURL, resp.StatusCode, strings.TrimSpace(string(detail)))
		if transientStatus {
			return apperrors.Transport(op, statusErr)
		}
		if resp.StatusCode == http.StatusNotFound {
			return apperrors.NotFound("resource", baseURL+path)
		}
		return apperrors.Execution(op, statusErr)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Protocol(op, "malformed response body: "+err.Error())
		}
	}
	return nil
}
