package application

import "fmt"

type AdmissionState string

const (
	StateNotStarted       AdmissionState = "not_started"
	StateMatchersBuilt    AdmissionState = "matchers_built"
	StateDecisionComputed AdmissionState = "decision_computed"
	StateApplied          AdmissionState = "applied"
	StateSkipped          AdmissionState = "skipped"
)

var admissionTransitions = map[AdmissionState][]AdmissionState{
	StateNotStarted:       {StateMatchersBuilt, StateSkipped},
	StateMatchersBuilt:    {StateDecisionComputed, StateSkipped},
	StateDecisionComputed: {StateApplied},
}

type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipNotCreated     SkipReason = "pipeline_not_created"
	SkipNoQueuedBuilds SkipReason = "no_queued_builds"
)

type admissionPass struct {
	state AdmissionState
}

func (p *admissionPass) advance(to AdmissionState) error {
	for _, next := range admissionTransitions[p.state] {
		if next == to {
			p.state = to
			return nil
		}
	}
	return fmt.Errorf("illegal admission transition %s -> %s", p.state, to)
}
