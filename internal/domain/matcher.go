package domain

import (
	"sort"
	"strconv"
	"strings"
)

// BuildMatcher groups queued builds that a runner would select in the same way.
type BuildMatcher struct {
	ProjectID   int64
	NamespaceID int64
	Tags        []string
	Protected   bool
	RunnerType  RunnerType
	BuildIDs    []int64
}

// Key identifies the runner selection signature of the matcher.
func (m BuildMatcher) Key() string {
	return matcherKey(m.Tags, m.Protected, m.RunnerType)
}

func (m BuildMatcher) HasTags() bool { return len(m.Tags) > 0 }

// GroupMatchers builds one matcher per distinct (tags, protected, runner type)
// signature, in first-seen order. Build ids keep their input order.
func GroupMatchers(p Pipeline, builds []Build) []BuildMatcher {
	if len(builds) == 0 {
		return nil
	}

	index := make(map[string]int)
	out := make([]BuildMatcher, 0)

	for _, b := range builds {
		tags := normalizeTags(b.Tags)
		key := matcherKey(tags, b.Protected, b.RunnerType)

		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, BuildMatcher{
				ProjectID:   p.ProjectID,
				NamespaceID: p.NamespaceID,
				Tags:        tags,
				Protected:   b.Protected,
				RunnerType:  b.RunnerType,
			})
		}
		out[i].BuildIDs = append(out[i].BuildIDs, b.ID)
	}

	return out
}

func normalizeTags(in []string) []string {
	if len(in) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}

	sort.Strings(out)
	return out
}

func matcherKey(tags []string, protected bool, rt RunnerType) string {
	var sb strings.Builder
	for i, t := range tags {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Quote(t))
	}
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatBool(protected))
	sb.WriteByte('|')
	sb.WriteString(string(rt))
	return sb.String()
}
