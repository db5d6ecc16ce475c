package domain

import (
	"context"
	"sync"
)

type MockPipelines struct {
	Pipelines map[int64]Pipeline
	Err       error
	Called    int
}

func (m *MockPipelines) Pipeline(ctx context.Context, id int64) (Pipeline, error) {
	m.Called++
	if m.Err != nil {
		return Pipeline{}, m.Err
	}
	p, ok := m.Pipelines[id]
	if !ok {
		return Pipeline{}, ErrPipelineNotFound
	}
	return p, nil
}

type MockBuilds struct {
	Builds   []Build
	Err      error
	DropErrs map[int64]error

	QueuedCalls int
	DropCalls   int
	Dropped     []PlannedDrop
	Canceled    []int64
}

func (m *MockBuilds) QueuedBuilds(ctx context.Context, pipelineID int64) ([]Build, error) {
	m.QueuedCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	var out []Build
	for _, b := range m.Builds {
		if b.PipelineID == pipelineID && b.Status.Queued() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MockBuilds) Build(ctx context.Context, id int64) (Build, error) {
	for _, b := range m.Builds {
		if b.ID == id {
			return b, nil
		}
	}
	return Build{}, ErrBuildNotFound
}

func (m *MockBuilds) DropBuild(ctx context.Context, id int64, reason FailureReason) error {
	m.DropCalls++
	if err := m.DropErrs[id]; err != nil {
		return err
	}
	for i := range m.Builds {
		if m.Builds[i].ID == id {
			m.Builds[i].Status = BuildFailed
			m.Builds[i].FailureReason = reason
		}
	}
	m.Dropped = append(m.Dropped, PlannedDrop{BuildID: id, Reason: reason})
	return nil
}

func (m *MockBuilds) CancelBuild(ctx context.Context, id int64) error {
	for i := range m.Builds {
		if m.Builds[i].ID == id {
			m.Builds[i].Status = BuildCanceled
			m.Canceled = append(m.Canceled, id)
			return nil
		}
	}
	return ErrBuildNotFound
}

type MockLedger struct {
	Usages map[int64]QuotaUsage
	// Sequence, when set, is returned call after call instead of Usages.
	Sequence []QuotaUsage
	Err      error
	Calls    int
}

func (m *MockLedger) Usage(ctx context.Context, namespaceID int64) (QuotaUsage, error) {
	m.Calls++
	if m.Err != nil {
		return QuotaUsage{}, m.Err
	}
	if len(m.Sequence) > 0 {
		u := m.Sequence[0]
		m.Sequence = m.Sequence[1:]
		return u, nil
	}
	return m.Usages[namespaceID], nil
}

type MockRunners struct {
	Runners []Runner
	Err     error
	Calls   int
}

func (m *MockRunners) OnlineRunners(ctx context.Context, projectID int64) ([]Runner, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Runners, nil
}

type MockSettings struct {
	Settings map[int64]ProjectSettings
	Err      error
}

func (m *MockSettings) ProjectSettings(ctx context.Context, projectID int64) (ProjectSettings, error) {
	if m.Err != nil {
		return ProjectSettings{}, m.Err
	}
	s, ok := m.Settings[projectID]
	if !ok {
		return ProjectSettings{}, ErrProjectNotFound
	}
	return s, nil
}

type MockProcessor struct {
	Triggered []int64
	Err       error
}

func (m *MockProcessor) TriggerRecompute(ctx context.Context, pipelineID int64) error {
	m.Triggered = append(m.Triggered, pipelineID)
	return m.Err
}

type MockCapabilities struct {
	Flags    map[string]bool
	Licenses map[string]bool
}

func (m *MockCapabilities) IsEnabled(flag string, scope Scope) bool { return m.Flags[flag] }

func (m *MockCapabilities) HasLicense(feature string, scope Scope) bool {
	return m.Licenses[feature]
}

type MockJournal struct {
	Snapshots []Snapshot
	Err       error
}

func (j *MockJournal) Write(ctx context.Context, s Snapshot) error {
	if j.Err != nil {
		return j.Err
	}
	j.Snapshots = append(j.Snapshots, s)
	return nil
}

type MockQueue struct {
	mu        sync.Mutex
	Events    []PipelineEvent
	Published []PipelineEvent
	Err       error
}

func (q *MockQueue) Next(ctx context.Context) (PipelineEvent, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return PipelineEvent{}, false, q.Err
	}
	if len(q.Events) == 0 {
		return PipelineEvent{}, false, nil
	}
	ev := q.Events[0]
	q.Events = q.Events[1:]
	return ev, true, nil
}

func (q *MockQueue) Publish(ctx context.Context, pipelineID int64) (PipelineEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ev := PipelineEvent{PipelineID: pipelineID}
	q.Published = append(q.Published, ev)
	return ev, nil
}
