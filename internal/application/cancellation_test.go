package application

import (
	"context"
	"errors"
	"testing"

	"github.com/davarch/ci-admission/internal/domain"
	"go.uber.org/zap"
)

func caps(flag, license bool) *domain.MockCapabilities {
	return &domain.MockCapabilities{
		Flags:    map[string]bool{FlagCancellationRestrict: flag},
		Licenses: map[string]bool{LicenseCancellationRestrict: license},
	}
}

func TestCancellationRestrictionPolicy_Gating(t *testing.T) {
	cases := []struct {
		name            string
		setting         domain.CancellationRestriction
		flag, license   bool
		maintainersOnly bool
		noOne           bool
	}{
		{"maintainers only, flag off", domain.RestrictionMaintainersOnly, false, true, false, false},
		{"maintainers only, no license", domain.RestrictionMaintainersOnly, true, false, false, false},
		{"maintainers only, gate open", domain.RestrictionMaintainersOnly, true, true, true, false},
		{"no one, flag off", domain.RestrictionNoOne, false, true, false, false},
		{"no one, no license", domain.RestrictionNoOne, true, false, false, false},
		{"no one, gate open", domain.RestrictionNoOne, true, true, false, true},
		{"disabled, gate open", domain.RestrictionDisabled, true, true, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewCancellationRestrictionPolicy(domain.ProjectSettings{ProjectID: 1, CancellationRestriction: tc.setting}, caps(tc.flag, tc.license))
			if got := p.MaintainersOnlyAllowed(); got != tc.maintainersOnly {
				t.Errorf("MaintainersOnlyAllowed()=%v, want %v", got, tc.maintainersOnly)
			}
			if got := p.NoOneAllowed(); got != tc.noOne {
				t.Errorf("NoOneAllowed()=%v, want %v", got, tc.noOne)
			}
		})
	}
}

func TestCancellationRestrictionPolicy_Permits(t *testing.T) {
	dev := domain.Actor{ID: 1, Role: domain.RoleDeveloper}
	maint := domain.Actor{ID: 2, Role: domain.RoleMaintainer}
	reporter := domain.Actor{ID: 3, Role: domain.RoleReporter}

	open := NewCancellationRestrictionPolicy(domain.ProjectSettings{CancellationRestriction: domain.RestrictionDisabled}, caps(true, true))
	if !open.Permits(dev) || open.Permits(reporter) {
		t.Errorf("unrestricted project: developer must cancel, reporter must not")
	}

	mo := NewCancellationRestrictionPolicy(domain.ProjectSettings{CancellationRestriction: domain.RestrictionMaintainersOnly}, caps(true, true))
	if mo.Permits(dev) || !mo.Permits(maint) {
		t.Errorf("maintainers only: dev=%v maint=%v", mo.Permits(dev), mo.Permits(maint))
	}

	none := NewCancellationRestrictionPolicy(domain.ProjectSettings{CancellationRestriction: domain.RestrictionNoOne}, caps(true, true))
	if none.Permits(domain.Actor{Role: domain.RoleOwner}) {
		t.Errorf("no one restriction must refuse owners")
	}

	gated := NewCancellationRestrictionPolicy(domain.ProjectSettings{CancellationRestriction: domain.RestrictionNoOne}, caps(false, true))
	if !gated.Permits(dev) || gated.Effective() != domain.RestrictionDisabled {
		t.Errorf("closed gate must ignore stored setting")
	}
}

func newCancelUseCase(restriction domain.CancellationRestriction, status domain.BuildStatus) (*CancelBuildUseCase, *domain.MockBuilds) {
	builds := &domain.MockBuilds{Builds: []domain.Build{{ID: 5, ProjectID: 1, Status: status}}}
	settings := &domain.MockSettings{Settings: map[int64]domain.ProjectSettings{
		1: {ProjectID: 1, CancellationRestriction: restriction},
	}}
	return NewCancelBuildUseCase(zap.NewNop(), builds, settings, caps(true, true)), builds
}

func TestCancel_Allowed(t *testing.T) {
	uc, builds := newCancelUseCase(domain.RestrictionMaintainersOnly, domain.BuildRunning)

	if err := uc.Cancel(context.Background(), domain.Actor{Role: domain.RoleMaintainer}, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(builds.Canceled) != 1 || builds.Builds[0].Status != domain.BuildCanceled {
		t.Errorf("build not canceled: %+v", builds.Builds[0])
	}
}

func TestCancel_Forbidden(t *testing.T) {
	uc, builds := newCancelUseCase(domain.RestrictionNoOne, domain.BuildRunning)

	err := uc.Cancel(context.Background(), domain.Actor{Role: domain.RoleOwner}, 5)
	if !errors.Is(err, ErrCancellationForbidden) {
		t.Fatalf("expected ErrCancellationForbidden, got %v", err)
	}
	if len(builds.Canceled) != 0 {
		t.Errorf("build canceled despite restriction")
	}
}

func TestCancel_FinishedBuild(t *testing.T) {
	uc, _ := newCancelUseCase(domain.RestrictionDisabled, domain.BuildSuccess)

	if err := uc.Cancel(context.Background(), domain.Actor{Role: domain.RoleOwner}, 5); !errors.Is(err, ErrBuildNotCancelable) {
		t.Fatalf("expected ErrBuildNotCancelable, got %v", err)
	}
}

func TestCancel_UnknownBuild(t *testing.T) {
	uc, _ := newCancelUseCase(domain.RestrictionDisabled, domain.BuildRunning)

	if err := uc.Cancel(context.Background(), domain.Actor{Role: domain.RoleOwner}, 99); !errors.Is(err, domain.ErrBuildNotFound) {
		t.Fatalf("expected ErrBuildNotFound, got %v", err)
	}
}
