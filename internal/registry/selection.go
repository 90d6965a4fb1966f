package registry

import (
	"errors"

	"trainforge/internal/apperrors"
)

var errNoLiveNodes = errors.New("no live nodes available")

// SelectionPolicy picks a node to run a job on. Policies see only live
// nodes; staleness filtering happens before the policy runs.
type SelectionPolicy interface {
	Pick(nodes []*Node) *Node
}

// LeastLoaded picks the live node with the fewest active jobs, breaking ties
// by load percentage. GPU nodes win over CPU-only nodes at equal load.
type LeastLoaded struct{}

// Pick implements SelectionPolicy.
func (LeastLoaded) Pick(nodes []*Node) *Node {
	var best *Node
	for _, node := range nodes {
		if best == nil || better(node, best) {
			best = node
		}
	}
	return best
}

func better(a, b *Node) bool {
	if a.ActiveJobs != b.ActiveJobs {
		return a.ActiveJobs < b.ActiveJobs
	}
	if a.HasGPU != b.HasGPU {
		return a.HasGPU
	}
	return a.LoadPercent < b.LoadPercent
}

// SelectNode applies policy to the registry's live nodes.
func SelectNode(r *Registry, policy SelectionPolicy) (*Node, error) {
	var live []*Node
	for _, node := range r.List() {
		if node.Live {
			live = append(live, node)
		}
	}
	if len(live) == 0 {
		return nil, apperrors.Environment("registry.select", errNoLiveNodes)
	}
	node := policy.Pick(live)
	if node == nil {
		return nil, apperrors.Environment("registry.select", errNoLiveNodes)
	}
	return node, nil
}
