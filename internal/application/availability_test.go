package application

import (
	"context"
	"errors"
	"testing"

	"github.com/davarch/ci-admission/internal/domain"
)

func quotaOn() *domain.MockCapabilities {
	return &domain.MockCapabilities{Flags: map[string]bool{FlagMinutesQuota: true, FlagDropWithoutRunners: true}}
}

func TestMinutesChecker_FlagDisabledAlwaysAvailable(t *testing.T) {
	ledger := &domain.MockLedger{Usages: map[int64]domain.QuotaUsage{20: {Limit: 10, Used: 50}}}
	c := NewMinutesChecker(ledger, &domain.MockCapabilities{})

	ok, err := c.Available(context.Background(), domain.BuildMatcher{NamespaceID: 20})
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if ledger.Calls != 0 {
		t.Errorf("ledger queried while enforcement disabled")
	}
}

func TestMinutesChecker_Usage(t *testing.T) {
	cases := []struct {
		name  string
		usage domain.QuotaUsage
		want  bool
	}{
		{"unlimited", domain.QuotaUsage{Used: 5000}, true},
		{"within", domain.QuotaUsage{Limit: 400, Used: 100}, true},
		{"running builds hold the rest", domain.QuotaUsage{Limit: 400, Used: 350, Running: 50}, false},
		{"exhausted", domain.QuotaUsage{Limit: 400, Used: 400}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger := &domain.MockLedger{Usages: map[int64]domain.QuotaUsage{20: tc.usage}}
			ok, err := NewMinutesChecker(ledger, quotaOn()).Available(context.Background(), domain.BuildMatcher{NamespaceID: 20})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tc.want {
				t.Errorf("Available()=%v, want %v", ok, tc.want)
			}
		})
	}
}

func TestMinutesChecker_LedgerErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewMinutesChecker(&domain.MockLedger{Err: boom}, quotaOn()).Available(context.Background(), domain.BuildMatcher{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped ledger error, got %v", err)
	}
}

func TestRunnerMatchChecker_Rules(t *testing.T) {
	docker := domain.Runner{ID: 1, Online: true, Type: domain.InstanceRunner, Tags: []string{"docker", "linux"}, AccessLevel: domain.NotProtected}

	cases := []struct {
		name    string
		runners []domain.Runner
		m       domain.BuildMatcher
		want    bool
	}{
		{"tags subset", []domain.Runner{docker}, domain.BuildMatcher{Tags: []string{"docker"}}, true},
		{"missing tag", []domain.Runner{docker}, domain.BuildMatcher{Tags: []string{"docker", "gpu"}}, false},
		{"untagged needs run_untagged", []domain.Runner{docker}, domain.BuildMatcher{}, false},
		{"untagged accepted", []domain.Runner{{Online: true, RunUntagged: true}}, domain.BuildMatcher{}, true},
		{"offline", []domain.Runner{{Online: false, RunUntagged: true}}, domain.BuildMatcher{}, false},
		{"paused", []domain.Runner{{Online: true, Paused: true, RunUntagged: true}}, domain.BuildMatcher{}, false},
		{"wrong runner type", []domain.Runner{docker}, domain.BuildMatcher{Tags: []string{"docker"}, RunnerType: domain.ProjectRunner}, false},
		{"protected runner refuses unprotected build",
			[]domain.Runner{{Online: true, RunUntagged: true, AccessLevel: domain.RefProtected}}, domain.BuildMatcher{}, false},
		{"protected runner takes protected build",
			[]domain.Runner{{Online: true, RunUntagged: true, AccessLevel: domain.RefProtected}}, domain.BuildMatcher{Protected: true}, true},
		{"any runner is enough",
			[]domain.Runner{{Online: false}, docker}, domain.BuildMatcher{Tags: []string{"linux"}, Protected: true}, true},
		{"no runners", nil, domain.BuildMatcher{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewRunnerMatchChecker(&domain.MockRunners{Runners: tc.runners}, quotaOn())
			ok, err := c.Available(context.Background(), tc.m)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tc.want {
				t.Errorf("Available()=%v, want %v", ok, tc.want)
			}
		})
	}
}

func TestRunnerMatchChecker_FlagDisabled(t *testing.T) {
	reg := &domain.MockRunners{}
	ok, err := NewRunnerMatchChecker(reg, &domain.MockCapabilities{}).Available(context.Background(), domain.BuildMatcher{})
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if reg.Calls != 0 {
		t.Errorf("registry queried while disabled")
	}
}

func TestCompositeChecker_FirstRefusalWins(t *testing.T) {
	m := domain.BuildMatcher{Tags: []string{"docker"}}
	quota := &stubChecker{unavailable: map[string]bool{m.Key(): true}, reason: domain.ReasonQuotaExceeded}
	runners := &stubChecker{unavailable: map[string]bool{m.Key(): true}, reason: domain.ReasonNoMatchingRunner}

	ok, reason, err := NewCompositeChecker(quota, runners).Check(context.Background(), m)
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if reason != domain.ReasonQuotaExceeded {
		t.Errorf("reason = %s", reason)
	}
	if len(runners.asked) != 0 {
		t.Errorf("second checker should not run after a refusal")
	}
}

func TestCompositeChecker_AllAvailable(t *testing.T) {
	ok, reason, err := NewCompositeChecker(&stubChecker{}, &stubChecker{}).Check(context.Background(), domain.BuildMatcher{})
	if err != nil || !ok || reason != "" {
		t.Fatalf("ok=%v reason=%q err=%v", ok, reason, err)
	}
}
