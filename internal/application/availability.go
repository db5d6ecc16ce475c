package application

import (
	"context"
	"fmt"

	"github.com/davarch/ci-admission/internal/domain"
)

const (
	FlagMinutesQuota            = "ci_minutes_quota_enforcement"
	FlagDropWithoutRunners      = "ci_drop_builds_without_runners"
	FlagCancellationRestrict    = "restrict_ci_job_cancellation"
	LicenseCancellationRestrict = "ci_job_cancellation_restrictions"
)

// AvailabilityChecker answers whether runner capacity exists for a whole matcher.
type AvailabilityChecker interface {
	Available(ctx context.Context, m domain.BuildMatcher) (bool, error)
	Reason() domain.FailureReason
}

func scopeOf(m domain.BuildMatcher) domain.Scope {
	return domain.Scope{ProjectID: m.ProjectID, NamespaceID: m.NamespaceID}
}

// MinutesChecker refuses matchers whose namespace ran out of compute minutes.
type MinutesChecker struct {
	ledger domain.MinutesLedger
	caps   domain.Capabilities
}

func NewMinutesChecker(ledger domain.MinutesLedger, caps domain.Capabilities) *MinutesChecker {
	return &MinutesChecker{ledger: ledger, caps: caps}
}

func (c *MinutesChecker) Reason() domain.FailureReason { return domain.ReasonQuotaExceeded }

func (c *MinutesChecker) Available(ctx context.Context, m domain.BuildMatcher) (bool, error) {
	if !c.caps.IsEnabled(FlagMinutesQuota, scopeOf(m)) {
		return true, nil
	}

	usage, err := c.ledger.Usage(ctx, m.NamespaceID)
	if err != nil {
		return false, fmt.Errorf("minutes usage for namespace %d: %w", m.NamespaceID, err)
	}

	return !usage.Exceeded(), nil
}

// RunnerMatchChecker refuses matchers no online runner of the project could pick up.
type RunnerMatchChecker struct {
	runners domain.RunnerRegistry
	caps    domain.Capabilities
}

func NewRunnerMatchChecker(runners domain.RunnerRegistry, caps domain.Capabilities) *RunnerMatchChecker {
	return &RunnerMatchChecker{runners: runners, caps: caps}
}

func (c *RunnerMatchChecker) Reason() domain.FailureReason { return domain.ReasonNoMatchingRunner }

func (c *RunnerMatchChecker) Available(ctx context.Context, m domain.BuildMatcher) (bool, error) {
	if !c.caps.IsEnabled(FlagDropWithoutRunners, scopeOf(m)) {
		return true, nil
	}

	runners, err := c.runners.OnlineRunners(ctx, m.ProjectID)
	if err != nil {
		return false, fmt.Errorf("online runners for project %d: %w", m.ProjectID, err)
	}

	for _, r := range runners {
		if runnerAccepts(r, m) {
			return true, nil
		}
	}
	return false, nil
}

func runnerAccepts(r domain.Runner, m domain.BuildMatcher) bool {
	if !r.Online || r.Paused {
		return false
	}
	if m.RunnerType != "" && r.Type != m.RunnerType {
		return false
	}
	// ref_protected runners only pick up builds for protected refs.
	if r.AccessLevel == domain.RefProtected && !m.Protected {
		return false
	}
	if !m.HasTags() {
		return r.RunUntagged
	}

	have := make(map[string]struct{}, len(r.Tags))
	for _, t := range r.Tags {
		have[t] = struct{}{}
	}
	for _, t := range m.Tags {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

// CompositeChecker runs checkers in order; the first refusal decides the failure reason.
type CompositeChecker struct {
	checkers []AvailabilityChecker
}

func NewCompositeChecker(checkers ...AvailabilityChecker) *CompositeChecker {
	return &CompositeChecker{checkers: checkers}
}

func (c *CompositeChecker) Check(ctx context.Context, m domain.BuildMatcher) (bool, domain.FailureReason, error) {
	for _, ch := range c.checkers {
		ok, err := ch.Available(ctx, m)
		if err != nil {
			return false, "", err
		}
		if !ok {
			return false, ch.Reason(), nil
		}
	}
	return true, "", nil
}
