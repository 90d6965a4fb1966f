// Package registry tracks remote training nodes and their liveness.
package registry

import (
	"sync"
	"time"

	"trainforge/internal/apperrors"
)

// StalenessWindow is how long a node stays live after its last heartbeat.
const StalenessWindow = 5 * time.Minute

// Node describes a remote training node.
type Node struct {
	Name         string    `json:"name"`
	BaseURL      string    `json:"base_url"`
	HasGPU       bool      `json:"has_gpu"`
	GPUName      string    `json:"gpu_name,omitempty"`
	VRAMTotalGB  float64   `json:"vram_total_gb,omitempty"`
	MemoryUsed   float64   `json:"memory_used"`
	LoadPercent  float64   `json:"load_percent"`
	ActiveJobs   int       `json:"active_jobs"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
	Live         bool      `json:"live"`
}

// Heartbeat is the periodic report a node sends to stay live.
type Heartbeat struct {
	MemoryUsed  float64 `json:"memory_used"`
	LoadPercent float64 `json:"load_percent"`
	ActiveJobs  int     `json:"active_jobs"`
}

// Registry is the in-memory node directory. Liveness is never stored: it is
// derived from LastSeen at read time, so a node that stops heartbeating
// goes stale without any reaper goroutine.
type Registry struct {
	mu    sync.Mutex
	nodes map[string]*Node
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[string]*Node),
		now:   time.Now,
	}
}

// Register adds a node or refreshes an existing registration. Re-registering
// resets the node's capability fields but keeps its original RegisteredAt.
func (r *Registry) Register(node Node) error {
	if node.Name == "" {
		return apperrors.Validation("name", "node name is required")
	}
	if node.BaseURL == "" {
		return apperrors.Validation("base_url", "node base_url is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	existing, ok := r.nodes[node.Name]
	if ok {
		node.RegisteredAt = existing.RegisteredAt
	} else {
		node.RegisteredAt = now
	}
	node.LastSeen = now
	r.nodes[node.Name] = &node
	return nil
}

// RecordHeartbeat refreshes a node's load report and LastSeen. Heartbeats
// from unregistered nodes are rejected so a node that the coordinator
// forgot (restart, explicit removal) must re-register.
func (r *Registry) RecordHeartbeat(name string, hb Heartbeat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[name]
	if !ok {
		return apperrors.NotFound("node", name)
	}
	node.MemoryUsed = hb.MemoryUsed
	node.LoadPercent = hb.LoadPercent
	node.ActiveJobs = hb.ActiveJobs
	node.LastSeen = r.now()
	return nil
}

// Get returns a snapshot of one node with its liveness derived.
func (r *Registry) Get(name string) (*Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[name]
	if !ok {
		return nil, apperrors.NotFound("node", name)
	}
	return r.snapshot(node), nil
}

// List returns snapshots of all nodes with liveness derived.
func (r *Registry) List() []*Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		out = append(out, r.snapshot(node))
	}
	return out
}

// Remove deletes a node registration.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[name]; !ok {
		return apperrors.NotFound("node", name)
	}
	delete(r.nodes, name)
	return nil
}

// LiveCount returns the number of nodes within the staleness window.
func (r *Registry) LiveCount() int {
	n := 0
	for _, node := range r.List() {
		if node.Live {
			n++
		}
	}
	return n
}

// A node is live strictly within the window: at exactly StalenessWindow
// since the last heartbeat it already reads as stale.
func (r *Registry) snapshot(node *Node) *Node {
	c := *node
	c.Live = r.now().Sub(node.LastSeen) < StalenessWindow
	return &c
}
