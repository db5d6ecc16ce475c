package domain

import "time"

type PipelineStatus string

const (
	PipelineCreated  PipelineStatus = "created"
	PipelinePending  PipelineStatus = "pending"
	PipelineRunning  PipelineStatus = "running"
	PipelineSuccess  PipelineStatus = "success"
	PipelineFailed   PipelineStatus = "failed"
	PipelineCanceled PipelineStatus = "canceled"
	PipelineSkipped  PipelineStatus = "skipped"
)

type BuildStatus string

const (
	BuildCreated  BuildStatus = "created"
	BuildPending  BuildStatus = "pending"
	BuildRunning  BuildStatus = "running"
	BuildSuccess  BuildStatus = "success"
	BuildFailed   BuildStatus = "failed"
	BuildCanceled BuildStatus = "canceled"
	BuildSkipped  BuildStatus = "skipped"
	BuildManual   BuildStatus = "manual"
)

// Queued reports whether a build has not been picked up yet and can still be dropped.
func (s BuildStatus) Queued() bool {
	return s == BuildCreated || s == BuildPending
}

// Terminal reports whether a build reached a final state.
func (s BuildStatus) Terminal() bool {
	switch s {
	case BuildSuccess, BuildFailed, BuildCanceled, BuildSkipped:
		return true
	}
	return false
}

// FailureReason is the machine readable reason stored on a dropped build.
type FailureReason string

const (
	ReasonQuotaExceeded    FailureReason = "ci_quota_exceeded"
	ReasonNoMatchingRunner FailureReason = "no_matching_runner"
)

type RunnerType string

const (
	InstanceRunner RunnerType = "instance_type"
	GroupRunner    RunnerType = "group_type"
	ProjectRunner  RunnerType = "project_type"
)

type Pipeline struct {
	ID          int64
	ProjectID   int64
	NamespaceID int64
	Ref         string
	Status      PipelineStatus
	CreatedAt   time.Time
}

type Build struct {
	ID            int64
	PipelineID    int64
	ProjectID     int64
	Name          string
	Tags          []string
	Protected     bool
	RunnerType    RunnerType
	Status        BuildStatus
	FailureReason FailureReason
}

// QuotaUsage is the compute minutes state of a namespace. A zero Limit means unlimited.
type QuotaUsage struct {
	NamespaceID int64
	Limit       float64
	Used        float64
	Running     float64
}

func (u QuotaUsage) Unlimited() bool { return u.Limit <= 0 }

// Exceeded reports whether finished and in-flight minutes reach the limit.
func (u QuotaUsage) Exceeded() bool {
	if u.Unlimited() {
		return false
	}
	return u.Used+u.Running >= u.Limit
}

type AccessLevel string

const (
	RefProtected AccessLevel = "ref_protected"
	NotProtected AccessLevel = "not_protected"
)

type Runner struct {
	ID          int64
	Description string
	Type        RunnerType
	Tags        []string
	RunUntagged bool
	Paused      bool
	Online      bool
	AccessLevel AccessLevel
}

type CancellationRestriction string

const (
	RestrictionDisabled        CancellationRestriction = "disabled"
	RestrictionMaintainersOnly CancellationRestriction = "maintainers_only"
	RestrictionNoOne           CancellationRestriction = "no_one"
)

type ProjectSettings struct {
	ProjectID               int64
	NamespaceID             int64
	CancellationRestriction CancellationRestriction
}

type Role int

const (
	RoleGuest      Role = 10
	RoleReporter   Role = 20
	RoleDeveloper  Role = 30
	RoleMaintainer Role = 40
	RoleOwner      Role = 50
)

type Actor struct {
	ID   int64
	Role Role
}
