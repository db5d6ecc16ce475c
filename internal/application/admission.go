package application

import (
	"context"
	"fmt"
	"time"

	"github.com/davarch/ci-admission/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/davarch/ci-admission/internal/application")

// BatchApplier persists a drop plan. It must not trigger pipeline recomputation.
type BatchApplier interface {
	ApplyBatch(ctx context.Context, plan domain.BatchDropPlan) (int, error)
}

// Report describes how far an admission pass went and what it decided.
type Report struct {
	Pipeline   domain.Pipeline
	State      AdmissionState
	SkipReason SkipReason
	Matchers   []domain.BuildMatcher
	Plan       domain.BatchDropPlan
	Applied    int
}

// Ran reports whether the pass evaluated a pipeline that was still in the created state.
func (r Report) Ran() bool { return r.SkipReason != SkipNotCreated }

func (r Report) Snapshot() domain.Snapshot {
	return domain.Snapshot{
		PipelineID: r.Pipeline.ID,
		ProjectID:  r.Pipeline.ProjectID,
		State:      string(r.State),
		Matchers:   len(r.Matchers),
		Dropped:    r.Plan.Drops,
		Retrieved:  time.Now().Unix(),
	}
}

type AdmissionService struct {
	log       *zap.Logger
	pipelines domain.PipelineStore
	builds    domain.BuildStore
	checker   *CompositeChecker
	applier   BatchApplier
}

func NewAdmissionService(l *zap.Logger, pipelines domain.PipelineStore, builds domain.BuildStore, checker *CompositeChecker, applier BatchApplier) *AdmissionService {
	return &AdmissionService{
		log: l, pipelines: pipelines, builds: builds, checker: checker, applier: applier,
	}
}

// Plan runs the pass up to the computed decision without touching any build.
func (s *AdmissionService) Plan(ctx context.Context, pipelineID int64) (Report, error) {
	ctx, span := tracer.Start(ctx, "admission.plan")
	defer span.End()
	span.SetAttributes(attribute.Int64("pipeline.id", pipelineID))

	_, rep, err := s.plan(ctx, pipelineID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rep, err
}

// Execute runs one admission pass. Pipelines past the created state are left untouched.
func (s *AdmissionService) Execute(ctx context.Context, pipelineID int64) (Report, error) {
	ctx, span := tracer.Start(ctx, "admission.execute")
	defer span.End()
	span.SetAttributes(attribute.Int64("pipeline.id", pipelineID))

	start := time.Now()
	rep, err := s.execute(ctx, pipelineID)
	passDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		passesTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rep, err
	}

	passesTotal.WithLabelValues(string(rep.State)).Inc()
	span.SetAttributes(
		attribute.String("admission.state", string(rep.State)),
		attribute.Int("admission.dropped", rep.Applied),
	)
	return rep, nil
}

func (s *AdmissionService) execute(ctx context.Context, pipelineID int64) (Report, error) {
	pass, rep, err := s.plan(ctx, pipelineID)
	if err != nil || pass.state != StateDecisionComputed {
		return rep, err
	}

	if rep.Plan.Empty() {
		return rep, nil
	}

	n, err := s.applier.ApplyBatch(ctx, rep.Plan)
	rep.Applied = n
	if err != nil {
		s.log.Warn("drop batch interrupted",
			zap.Int64("pipeline", pipelineID),
			zap.Int("applied", n),
			zap.Int("planned", len(rep.Plan.Drops)),
			zap.Error(err),
		)
		return rep, err
	}

	if err := pass.advance(StateApplied); err != nil {
		return rep, err
	}
	rep.State = pass.state

	s.log.Info("builds dropped",
		zap.Int64("pipeline", pipelineID),
		zap.Int("dropped", n),
		zap.Int("matchers", len(rep.Matchers)),
	)
	return rep, nil
}

func (s *AdmissionService) plan(ctx context.Context, pipelineID int64) (*admissionPass, Report, error) {
	pass := &admissionPass{state: StateNotStarted}
	rep := Report{State: pass.state}

	p, err := s.pipelines.Pipeline(ctx, pipelineID)
	if err != nil {
		return pass, rep, fmt.Errorf("load pipeline %d: %w", pipelineID, err)
	}
	rep.Pipeline = p

	if p.Status != domain.PipelineCreated {
		rep, err := s.skip(pass, rep, SkipNotCreated)
		return pass, rep, err
	}

	builds, err := s.builds.QueuedBuilds(ctx, pipelineID)
	if err != nil {
		return pass, rep, fmt.Errorf("load queued builds of pipeline %d: %w", pipelineID, err)
	}

	rep.Matchers = domain.GroupMatchers(p, builds)
	if len(rep.Matchers) == 0 {
		rep, err := s.skip(pass, rep, SkipNoQueuedBuilds)
		return pass, rep, err
	}
	if err := pass.advance(StateMatchersBuilt); err != nil {
		return pass, rep, err
	}
	rep.State = pass.state

	plan := domain.BatchDropPlan{PipelineID: pipelineID}
	for _, m := range rep.Matchers {
		ok, reason, err := s.checker.Check(ctx, m)
		if err != nil {
			return pass, rep, fmt.Errorf("availability of matcher %s: %w", m.Key(), err)
		}
		if ok {
			continue
		}
		for _, id := range m.BuildIDs {
			plan.Drops = append(plan.Drops, domain.PlannedDrop{BuildID: id, Reason: reason})
		}
	}

	if err := pass.advance(StateDecisionComputed); err != nil {
		return pass, rep, err
	}
	rep.State = pass.state
	rep.Plan = plan

	return pass, rep, nil
}

func (s *AdmissionService) skip(pass *admissionPass, rep Report, why SkipReason) (Report, error) {
	if err := pass.advance(StateSkipped); err != nil {
		return rep, err
	}
	rep.State = pass.state
	rep.SkipReason = why
	s.log.Debug("admission skipped",
		zap.Int64("pipeline", rep.Pipeline.ID),
		zap.String("status", string(rep.Pipeline.Status)),
		zap.String("reason", string(why)),
	)
	return rep, nil
}
