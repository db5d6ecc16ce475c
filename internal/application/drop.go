package application

import (
	"context"
	"fmt"

	"github.com/davarch/ci-admission/internal/domain"
	"go.uber.org/zap"
)

// DropExecutor fails the builds of a plan one by one. Every drop is its own
// conditional update; there is no transaction around the batch, so an error
// leaves the builds dropped before it in place.
type DropExecutor struct {
	log    *zap.Logger
	builds domain.BuildStore
}

func NewDropExecutor(l *zap.Logger, builds domain.BuildStore) *DropExecutor {
	return &DropExecutor{log: l, builds: builds}
}

// ApplyBatch returns how many builds were dropped before it stopped.
func (e *DropExecutor) ApplyBatch(ctx context.Context, plan domain.BatchDropPlan) (int, error) {
	if plan.Empty() {
		return 0, nil
	}

	applied := 0
	for _, d := range plan.Drops {
		if err := e.builds.DropBuild(ctx, d.BuildID, d.Reason); err != nil {
			return applied, fmt.Errorf("drop build %d: %w", d.BuildID, err)
		}
		applied++
		droppedBuilds.WithLabelValues(string(d.Reason)).Inc()
		e.log.Debug("build dropped",
			zap.Int64("pipeline", plan.PipelineID),
			zap.Int64("build", d.BuildID),
			zap.String("reason", string(d.Reason)),
		)
	}

	return applied, nil
}

var _ BatchApplier = (*DropExecutor)(nil)
