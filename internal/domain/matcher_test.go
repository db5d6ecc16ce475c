package domain

import (
	"reflect"
	"testing"
)

func TestGroupMatchers_Empty(t *testing.T) {
	if got := GroupMatchers(Pipeline{ID: 1}, nil); len(got) != 0 {
		t.Fatalf("expected no matchers, got %d", len(got))
	}
}

func TestGroupMatchers_FirstSeenOrder(t *testing.T) {
	p := Pipeline{ID: 7, ProjectID: 3, NamespaceID: 9}
	builds := []Build{
		{ID: 1, Tags: []string{"docker"}},
		{ID: 2, Tags: []string{"shell"}, Protected: true},
		{ID: 3, Tags: []string{"docker"}},
		{ID: 4, Tags: []string{"shell"}, Protected: true},
	}

	got := GroupMatchers(p, builds)
	if len(got) != 2 {
		t.Fatalf("expected 2 matchers, got %d", len(got))
	}
	if !reflect.DeepEqual(got[0].BuildIDs, []int64{1, 3}) {
		t.Errorf("first matcher builds = %v", got[0].BuildIDs)
	}
	if !reflect.DeepEqual(got[1].BuildIDs, []int64{2, 4}) {
		t.Errorf("second matcher builds = %v", got[1].BuildIDs)
	}
	if got[0].ProjectID != 3 || got[0].NamespaceID != 9 {
		t.Errorf("matcher scope not copied from pipeline: %+v", got[0])
	}
}

func TestGroupMatchers_TagSetIgnoresOrderAndDuplicates(t *testing.T) {
	builds := []Build{
		{ID: 1, Tags: []string{"linux", "docker"}},
		{ID: 2, Tags: []string{"docker", "linux", "docker"}},
		{ID: 3, Tags: []string{" docker ", "linux", ""}},
	}

	got := GroupMatchers(Pipeline{}, builds)
	if len(got) != 1 {
		t.Fatalf("expected 1 matcher, got %d: %+v", len(got), got)
	}
	if !reflect.DeepEqual(got[0].Tags, []string{"docker", "linux"}) {
		t.Errorf("tags = %v", got[0].Tags)
	}
}

func TestGroupMatchers_SignatureFields(t *testing.T) {
	builds := []Build{
		{ID: 1, Tags: []string{"docker"}},
		{ID: 2, Tags: []string{"docker"}, Protected: true},
		{ID: 3, Tags: []string{"docker"}, RunnerType: ProjectRunner},
		{ID: 4},
		{ID: 5, Tags: []string{}},
	}

	got := GroupMatchers(Pipeline{}, builds)
	if len(got) != 4 {
		t.Fatalf("expected 4 matchers, got %d", len(got))
	}

	seen := map[int64]int{}
	for _, m := range got {
		for _, id := range m.BuildIDs {
			seen[id]++
		}
	}
	for _, b := range builds {
		if seen[b.ID] != 1 {
			t.Errorf("build %d appears in %d matchers", b.ID, seen[b.ID])
		}
	}
	if !reflect.DeepEqual(got[3].BuildIDs, []int64{4, 5}) {
		t.Errorf("untagged builds should share a matcher, got %v", got[3].BuildIDs)
	}
}

func TestMatcherKey_TagWithSeparatorDoesNotCollide(t *testing.T) {
	a := BuildMatcher{Tags: []string{"a,b"}}
	b := BuildMatcher{Tags: []string{"a", "b"}}
	if a.Key() == b.Key() {
		t.Fatalf("keys collide: %s", a.Key())
	}
}

func TestQuotaUsage_Exceeded(t *testing.T) {
	cases := []struct {
		name string
		u    QuotaUsage
		want bool
	}{
		{"unlimited", QuotaUsage{Limit: 0, Used: 1e6}, false},
		{"below", QuotaUsage{Limit: 100, Used: 40, Running: 20}, false},
		{"running reaches limit", QuotaUsage{Limit: 100, Used: 80, Running: 20}, true},
		{"used over", QuotaUsage{Limit: 100, Used: 120}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.u.Exceeded(); got != tc.want {
				t.Errorf("Exceeded()=%v, want %v", got, tc.want)
			}
		})
	}
}
