package domain

// PlannedDrop is a single build the admission pass decided to fail.
type PlannedDrop struct {
	BuildID int64         `json:"build_id" yaml:"build_id"`
	Reason  FailureReason `json:"reason" yaml:"reason"`
}

// BatchDropPlan is the pure outcome of an admission pass.
type BatchDropPlan struct {
	PipelineID int64
	Drops      []PlannedDrop
}

func (p BatchDropPlan) Empty() bool { return len(p.Drops) == 0 }

// BuildIDs returns the planned build ids grouped by reason, keeping plan order.
func (p BatchDropPlan) BuildIDs() map[FailureReason][]int64 {
	out := make(map[FailureReason][]int64)
	for _, d := range p.Drops {
		out[d.Reason] = append(out[d.Reason], d.BuildID)
	}
	return out
}

type PipelineEvent struct {
	ID         string `json:"id"`
	PipelineID int64  `json:"pipeline_id"`
	Enqueued   int64  `json:"enqueued"`
}

// Snapshot is what the decision journal keeps about a finished admission pass.
type Snapshot struct {
	PipelineID int64         `json:"pipeline_id"`
	ProjectID  int64         `json:"project_id"`
	State      string        `json:"state"`
	Matchers   int           `json:"matchers"`
	Dropped    []PlannedDrop `json:"dropped"`
	Retrieved  int64         `json:"retrieved"`
}
