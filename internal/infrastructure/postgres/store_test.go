package postgres

import (
	"reflect"
	"strings"
	"testing"

	"github.com/davarch/ci-admission/internal/domain"
)

func TestDropQueryOnlyTouchesQueuedBuild(t *testing.T) {
	if !strings.Contains(dropBuildQuery, "WHERE id = $1 AND status IN ('created', 'pending')") {
		t.Fatalf("drop must be conditional on the queued status of a single build")
	}
	if strings.Contains(dropBuildQuery, "ci_pipelines") {
		t.Fatalf("drop must not update the pipeline")
	}
}

func TestQueuedBuildsQueryIsOrdered(t *testing.T) {
	if !strings.Contains(selectQueuedBuildsQuery, "pipeline_id = $1") {
		t.Fatalf("expected pipeline predicate")
	}
	if !strings.Contains(selectQueuedBuildsQuery, "ORDER BY id ASC") {
		t.Fatalf("expected deterministic build order")
	}
}

func TestCancelQuerySkipsFinishedBuilds(t *testing.T) {
	for _, st := range []string{"success", "failed", "canceled", "skipped"} {
		if !strings.Contains(cancelBuildQuery, "'"+st+"'") {
			t.Errorf("cancel query must exclude %s builds", st)
		}
	}
}

func TestUsageQueryScopedToNamespace(t *testing.T) {
	if strings.Count(selectUsageQuery, "namespace_id = $1") != 3 {
		t.Fatalf("every usage component must be namespace scoped")
	}
}

func TestDecodeTags(t *testing.T) {
	got, err := decodeTags([]byte(`["docker","linux"]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"docker", "linux"}) {
		t.Errorf("tags = %v", got)
	}

	if got, err := decodeTags(nil); err != nil || got != nil {
		t.Errorf("empty tags: %v %v", got, err)
	}

	if _, err := decodeTags([]byte(`{`)); err == nil {
		t.Errorf("expected error for malformed tags")
	}
}

func TestParseRestriction(t *testing.T) {
	cases := map[string]domain.CancellationRestriction{
		"maintainers_only": domain.RestrictionMaintainersOnly,
		"no_one":           domain.RestrictionNoOne,
		"disabled":         domain.RestrictionDisabled,
		"garbage":          domain.RestrictionDisabled,
	}
	for in, want := range cases {
		if got := parseRestriction(in); got != want {
			t.Errorf("parseRestriction(%q)=%s, want %s", in, got, want)
		}
	}
}
