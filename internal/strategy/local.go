package strategy

import (
	"context"
	"errors"

	"trainforge/internal/apperrors"
	"trainforge/internal/training"
)

// Local runs a job in-process through a Trainer implementation.
type Local struct {
	trainer training.Trainer
}

// NewLocal creates a local strategy.
func NewLocal(trainer training.Trainer) *Local {
	return &Local{trainer: trainer}
}

// Run implements training.ExecutionStrategy.
func (l *Local) Run(ctx context.Context, cfg *training.Config, onProgress training.ProgressFunc) (*training.Result, error) {
	result, err := l.trainer.Train(ctx, cfg, onProgress)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var classified *apperrors.Error
		if errors.As(err, &classified) {
			return nil, err
		}
		return nil, apperrors.Execution("local.train", err)
	}
	if result == nil || result.WeightsPath == "" {
		return nil, apperrors.Protocol("local.train", "trainer finished without producing a result")
	}
	return result, nil
}
