// Package strategy provides the execution strategies that run training jobs:
// in-process, in a WSL-style sandbox, on a remote node, or in a container.
package strategy

import (
	"fmt"

	"trainforge/internal/apperrors"
	"trainforge/internal/training"
)

// Selector routes a job to the strategy for its execution target. A nil
// strategy means that target is not configured on this deployment.
type Selector struct {
	Local     training.ExecutionStrategy
	Sandbox   training.ExecutionStrategy
	Remote    training.ExecutionStrategy
	Container training.ExecutionStrategy
}

// Select implements training.StrategySelector.
func (s *Selector) Select(cfg *training.Config) (training.ExecutionStrategy, error) {
	var strategy training.ExecutionStrategy
	switch cfg.Target.Kind {
	case training.TargetLocal:
		strategy = s.Local
	case training.TargetSandbox:
		strategy = s.Sandbox
	case training.TargetRemote:
		strategy = s.Remote
	case training.TargetContainer:
		strategy = s.Container
	default:
		return nil, apperrors.Validation("execution_target.kind",
			fmt.Sprintf("unknown execution target: %s", cfg.Target.Kind))
	}
	if strategy == nil {
		return nil, apperrors.Environment("strategy.select",
			fmt.Errorf("execution target %q is not configured", cfg.Target.Kind))
	}
	return strategy, nil
}
