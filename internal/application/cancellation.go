package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/davarch/ci-admission/internal/domain"
	"go.uber.org/zap"
)

var (
	ErrCancellationForbidden = errors.New("build cancellation is not allowed for this user")
	ErrBuildNotCancelable    = errors.New("build is already finished")
)

// CancellationRestrictionPolicy reads a project's cancellation restriction.
// The stored setting only applies while both the feature flag and the license are present.
type CancellationRestrictionPolicy struct {
	settings domain.ProjectSettings
	caps     domain.Capabilities
}

func NewCancellationRestrictionPolicy(settings domain.ProjectSettings, caps domain.Capabilities) CancellationRestrictionPolicy {
	return CancellationRestrictionPolicy{settings: settings, caps: caps}
}

func (p CancellationRestrictionPolicy) enabled() bool {
	scope := domain.Scope{ProjectID: p.settings.ProjectID, NamespaceID: p.settings.NamespaceID}
	return p.caps.IsEnabled(FlagCancellationRestrict, scope) &&
		p.caps.HasLicense(LicenseCancellationRestrict, scope)
}

func (p CancellationRestrictionPolicy) MaintainersOnlyAllowed() bool {
	return p.enabled() && p.settings.CancellationRestriction == domain.RestrictionMaintainersOnly
}

func (p CancellationRestrictionPolicy) NoOneAllowed() bool {
	return p.enabled() && p.settings.CancellationRestriction == domain.RestrictionNoOne
}

// Effective is the restriction in force after gating.
func (p CancellationRestrictionPolicy) Effective() domain.CancellationRestriction {
	switch {
	case p.NoOneAllowed():
		return domain.RestrictionNoOne
	case p.MaintainersOnlyAllowed():
		return domain.RestrictionMaintainersOnly
	default:
		return domain.RestrictionDisabled
	}
}

// Permits reports whether actor may cancel a build of the project.
func (p CancellationRestrictionPolicy) Permits(actor domain.Actor) bool {
	if p.NoOneAllowed() {
		return false
	}
	if p.MaintainersOnlyAllowed() {
		return actor.Role >= domain.RoleMaintainer
	}
	return actor.Role >= domain.RoleDeveloper
}

type CancelBuildUseCase struct {
	log      *zap.Logger
	builds   domain.BuildStore
	settings domain.ProjectSettingsStore
	caps     domain.Capabilities
}

func NewCancelBuildUseCase(l *zap.Logger, builds domain.BuildStore, settings domain.ProjectSettingsStore, caps domain.Capabilities) *CancelBuildUseCase {
	return &CancelBuildUseCase{log: l, builds: builds, settings: settings, caps: caps}
}

// Policy loads the restriction policy of a project.
func (uc *CancelBuildUseCase) Policy(ctx context.Context, projectID int64) (CancellationRestrictionPolicy, error) {
	s, err := uc.settings.ProjectSettings(ctx, projectID)
	if err != nil {
		return CancellationRestrictionPolicy{}, fmt.Errorf("project %d settings: %w", projectID, err)
	}
	return NewCancellationRestrictionPolicy(s, uc.caps), nil
}

func (uc *CancelBuildUseCase) Cancel(ctx context.Context, actor domain.Actor, buildID int64) error {
	b, err := uc.builds.Build(ctx, buildID)
	if err != nil {
		return fmt.Errorf("load build %d: %w", buildID, err)
	}
	if b.Status.Terminal() {
		cancelRequests.WithLabelValues("not_cancelable").Inc()
		return ErrBuildNotCancelable
	}

	policy, err := uc.Policy(ctx, b.ProjectID)
	if err != nil {
		return err
	}
	if !policy.Permits(actor) {
		cancelRequests.WithLabelValues("forbidden").Inc()
		uc.log.Info("cancel refused",
			zap.Int64("build", buildID),
			zap.Int64("actor", actor.ID),
			zap.String("restriction", string(policy.Effective())),
		)
		return ErrCancellationForbidden
	}

	if err := uc.builds.CancelBuild(ctx, buildID); err != nil {
		return fmt.Errorf("cancel build %d: %w", buildID, err)
	}
	cancelRequests.WithLabelValues("canceled").Inc()
	return nil
}
