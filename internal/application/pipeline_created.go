package application

import (
	"context"
	"fmt"

	"github.com/davarch/ci-admission/internal/domain"
	"go.uber.org/zap"
)

type Admitter interface {
	Execute(ctx context.Context, pipelineID int64) (Report, error)
}

// PipelineCreatedUseCase runs admission for a new pipeline and then hands it
// to pipeline processing exactly once.
type PipelineCreatedUseCase struct {
	log       *zap.Logger
	admission Admitter
	processor domain.PipelineProcessor
	journal   domain.DecisionJournal
}

func NewPipelineCreatedUseCase(l *zap.Logger, admission Admitter, processor domain.PipelineProcessor, journal domain.DecisionJournal) *PipelineCreatedUseCase {
	return &PipelineCreatedUseCase{log: l, admission: admission, processor: processor, journal: journal}
}

func (uc *PipelineCreatedUseCase) Handle(ctx context.Context, pipelineID int64) (Report, error) {
	rep, err := uc.admission.Execute(ctx, pipelineID)
	if err != nil {
		return rep, err
	}

	if !rep.Ran() {
		return rep, nil
	}

	if uc.journal != nil {
		if err := uc.journal.Write(ctx, rep.Snapshot()); err != nil {
			uc.log.Warn("journal write failed", zap.Int64("pipeline", pipelineID), zap.Error(err))
		}
	}

	if err := uc.processor.TriggerRecompute(ctx, pipelineID); err != nil {
		return rep, fmt.Errorf("trigger processing of pipeline %d: %w", pipelineID, err)
	}
	recomputeTriggers.Inc()

	return rep, nil
}
