package domain

import (
	"context"
	"errors"
)

var (
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrBuildNotFound    = errors.New("build not found")
	ErrProjectNotFound  = errors.New("project not found")
	// ErrStaleBuild is returned when a build left the expected status before it could be updated.
	ErrStaleBuild = errors.New("build was modified concurrently")
	// ErrMalformedEvent marks a dequeued payload that was set aside instead of handled.
	ErrMalformedEvent = errors.New("malformed pipeline event")
)

// Scope is what a feature flag or license check is evaluated against.
type Scope struct {
	ProjectID   int64
	NamespaceID int64
}

type Capabilities interface {
	IsEnabled(flag string, scope Scope) bool
	HasLicense(feature string, scope Scope) bool
}

type PipelineStore interface {
	Pipeline(ctx context.Context, id int64) (Pipeline, error)
}

type BuildStore interface {
	QueuedBuilds(ctx context.Context, pipelineID int64) ([]Build, error)
	Build(ctx context.Context, id int64) (Build, error)
	// DropBuild fails a queued build with reason. It must not touch the pipeline.
	DropBuild(ctx context.Context, id int64, reason FailureReason) error
	CancelBuild(ctx context.Context, id int64) error
}

type MinutesLedger interface {
	Usage(ctx context.Context, namespaceID int64) (QuotaUsage, error)
}

type RunnerRegistry interface {
	OnlineRunners(ctx context.Context, projectID int64) ([]Runner, error)
}

type ProjectSettingsStore interface {
	ProjectSettings(ctx context.Context, projectID int64) (ProjectSettings, error)
}

// PipelineProcessor resyncs pipeline status after its builds changed.
type PipelineProcessor interface {
	TriggerRecompute(ctx context.Context, pipelineID int64) error
}

type EventQueue interface {
	// Next blocks until an event is available. ok is false when the wait timed out.
	Next(ctx context.Context) (ev PipelineEvent, ok bool, err error)
	Publish(ctx context.Context, pipelineID int64) (PipelineEvent, error)
}

type DecisionJournal interface {
	Write(ctx context.Context, s Snapshot) error
}
