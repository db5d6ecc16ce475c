package httpapi

import (
	"github.com/davarch/ci-admission/internal/application"
	"github.com/davarch/ci-admission/internal/domain"
)

type matcherDTO struct {
	Tags       []string `json:"tags"`
	Protected  bool     `json:"protected"`
	RunnerType string   `json:"runner_type,omitempty"`
	BuildIDs   []int64  `json:"build_ids"`
}

type ReportDTO struct {
	PipelineID int64                `json:"pipeline_id"`
	State      string               `json:"state"`
	SkipReason string               `json:"skip_reason,omitempty"`
	Matchers   []matcherDTO         `json:"matchers"`
	Drops      []domain.PlannedDrop `json:"drops"`
	Applied    int                  `json:"applied"`
}

// ToReportDTO is the JSON shape shared by the HTTP API and the CLI.
func ToReportDTO(r application.Report) ReportDTO {
	out := ReportDTO{
		PipelineID: r.Pipeline.ID,
		State:      string(r.State),
		SkipReason: string(r.SkipReason),
		Matchers:   make([]matcherDTO, 0, len(r.Matchers)),
		Drops:      r.Plan.Drops,
		Applied:    r.Applied,
	}
	if out.Drops == nil {
		out.Drops = []domain.PlannedDrop{}
	}
	for _, m := range r.Matchers {
		tags := m.Tags
		if tags == nil {
			tags = []string{}
		}
		out.Matchers = append(out.Matchers, matcherDTO{
			Tags:       tags,
			Protected:  m.Protected,
			RunnerType: string(m.RunnerType),
			BuildIDs:   m.BuildIDs,
		})
	}
	return out
}
