package application

import (
	"context"

	"github.com/davarch/ci-admission/internal/domain"
)

// stubChecker answers per matcher key and records the keys it was asked about.
type stubChecker struct {
	unavailable map[string]bool
	reason      domain.FailureReason
	err         error
	asked       []string
}

func (c *stubChecker) Available(ctx context.Context, m domain.BuildMatcher) (bool, error) {
	c.asked = append(c.asked, m.Key())
	if c.err != nil {
		return false, c.err
	}
	return !c.unavailable[m.Key()], nil
}

func (c *stubChecker) Reason() domain.FailureReason { return c.reason }

type recordingApplier struct {
	inner BatchApplier
	plans []domain.BatchDropPlan
}

func (r *recordingApplier) ApplyBatch(ctx context.Context, plan domain.BatchDropPlan) (int, error) {
	r.plans = append(r.plans, plan)
	if r.inner == nil {
		return len(plan.Drops), nil
	}
	return r.inner.ApplyBatch(ctx, plan)
}

func keyOf(tags []string, protected bool) string {
	return domain.BuildMatcher{Tags: tags, Protected: protected}.Key()
}

func createdPipeline(id int64) *domain.MockPipelines {
	return &domain.MockPipelines{Pipelines: map[int64]domain.Pipeline{
		id: {ID: id, ProjectID: 10, NamespaceID: 20, Status: domain.PipelineCreated},
	}}
}
