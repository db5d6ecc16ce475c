package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/davarch/ci-admission/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const schema = `
CREATE TABLE IF NOT EXISTS ci_pipelines (
    id BIGINT PRIMARY KEY,
    project_id BIGINT NOT NULL,
    namespace_id BIGINT NOT NULL,
    ref TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS ci_builds (
    id BIGINT PRIMARY KEY,
    pipeline_id BIGINT NOT NULL REFERENCES ci_pipelines(id) ON DELETE CASCADE,
    project_id BIGINT NOT NULL,
    name TEXT NOT NULL,
    tags JSONB NOT NULL DEFAULT '[]',
    protected BOOLEAN NOT NULL DEFAULT FALSE,
    runner_type TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    failure_reason TEXT,
    started_at TIMESTAMPTZ,
    finished_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS ci_builds_pipeline_status ON ci_builds (pipeline_id, status);
CREATE TABLE IF NOT EXISTS ci_namespace_minutes (
    namespace_id BIGINT PRIMARY KEY,
    monthly_limit DOUBLE PRECISION NOT NULL DEFAULT 0,
    used DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS ci_project_settings (
    project_id BIGINT PRIMARY KEY,
    namespace_id BIGINT NOT NULL,
    cancellation_restriction TEXT NOT NULL DEFAULT 'disabled'
);
`

const (
	selectPipelineQuery = `SELECT id, project_id, namespace_id, ref, status, created_at FROM ci_pipelines WHERE id = $1`

	selectQueuedBuildsQuery = `SELECT id, pipeline_id, project_id, name, tags, protected, runner_type, status, COALESCE(failure_reason, '')
	 FROM ci_builds
	 WHERE pipeline_id = $1 AND status IN ('created', 'pending')
	 ORDER BY id ASC`

	selectBuildQuery = `SELECT id, pipeline_id, project_id, name, tags, protected, runner_type, status, COALESCE(failure_reason, '')
	 FROM ci_builds WHERE id = $1`

	dropBuildQuery = `UPDATE ci_builds
	 SET status = 'failed', failure_reason = $2, finished_at = NOW(), updated_at = NOW()
	 WHERE id = $1 AND status IN ('created', 'pending')`

	cancelBuildQuery = `UPDATE ci_builds
	 SET status = 'canceled', finished_at = NOW(), updated_at = NOW()
	 WHERE id = $1 AND status NOT IN ('success', 'failed', 'canceled', 'skipped')`

	buildExistsQuery = `SELECT EXISTS (SELECT 1 FROM ci_builds WHERE id = $1)`

	// running minutes are estimated from the elapsed time of builds still in progress
	selectUsageQuery = `SELECT
	    COALESCE((SELECT monthly_limit FROM ci_namespace_minutes WHERE namespace_id = $1), 0),
	    COALESCE((SELECT used FROM ci_namespace_minutes WHERE namespace_id = $1), 0),
	    COALESCE((SELECT SUM(EXTRACT(EPOCH FROM (NOW() - b.started_at)) / 60)
	       FROM ci_builds b JOIN ci_pipelines p ON p.id = b.pipeline_id
	       WHERE p.namespace_id = $1 AND b.status = 'running' AND b.started_at IS NOT NULL), 0)::float8`

	selectProjectSettingsQuery = `SELECT project_id, namespace_id, cancellation_restriction FROM ci_project_settings WHERE project_id = $1`
)

// Store implements the pipeline, build, minutes and project settings ports on Postgres.
type Store struct {
	db *sql.DB
}

func Open(dsn string, maxOpen int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetMaxOpenConns(maxOpen)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Pipeline(ctx context.Context, id int64) (domain.Pipeline, error) {
	var p domain.Pipeline
	err := s.db.QueryRowContext(ctx, selectPipelineQuery, id).
		Scan(&p.ID, &p.ProjectID, &p.NamespaceID, &p.Ref, &p.Status, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Pipeline{}, domain.ErrPipelineNotFound
	}
	if err != nil {
		return domain.Pipeline{}, err
	}
	return p, nil
}

func (s *Store) QueuedBuilds(ctx context.Context, pipelineID int64) ([]domain.Build, error) {
	rows, err := s.db.QueryContext(ctx, selectQueuedBuildsQuery, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var builds []domain.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

func (s *Store) Build(ctx context.Context, id int64) (domain.Build, error) {
	b, err := scanBuild(s.db.QueryRowContext(ctx, selectBuildQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Build{}, domain.ErrBuildNotFound
	}
	return b, err
}

// DropBuild is a single conditional update; it never spans other builds.
func (s *Store) DropBuild(ctx context.Context, id int64, reason domain.FailureReason) error {
	res, err := s.db.ExecContext(ctx, dropBuildQuery, id, string(reason))
	if err != nil {
		return err
	}
	return s.checkUpdated(ctx, res, id)
}

func (s *Store) CancelBuild(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, cancelBuildQuery, id)
	if err != nil {
		return err
	}
	return s.checkUpdated(ctx, res, id)
}

func (s *Store) checkUpdated(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, buildExistsQuery, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrBuildNotFound
	}
	return domain.ErrStaleBuild
}

func (s *Store) Usage(ctx context.Context, namespaceID int64) (domain.QuotaUsage, error) {
	u := domain.QuotaUsage{NamespaceID: namespaceID}
	err := s.db.QueryRowContext(ctx, selectUsageQuery, namespaceID).Scan(&u.Limit, &u.Used, &u.Running)
	if err != nil {
		return domain.QuotaUsage{}, err
	}
	return u, nil
}

func (s *Store) ProjectSettings(ctx context.Context, projectID int64) (domain.ProjectSettings, error) {
	var ps domain.ProjectSettings
	var restriction string
	err := s.db.QueryRowContext(ctx, selectProjectSettingsQuery, projectID).
		Scan(&ps.ProjectID, &ps.NamespaceID, &restriction)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProjectSettings{}, domain.ErrProjectNotFound
	}
	if err != nil {
		return domain.ProjectSettings{}, err
	}
	ps.CancellationRestriction = parseRestriction(restriction)
	return ps, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (domain.Build, error) {
	var (
		b    domain.Build
		tags []byte
	)
	if err := row.Scan(&b.ID, &b.PipelineID, &b.ProjectID, &b.Name, &tags, &b.Protected, &b.RunnerType, &b.Status, &b.FailureReason); err != nil {
		return domain.Build{}, err
	}
	t, err := decodeTags(tags)
	if err != nil {
		return domain.Build{}, fmt.Errorf("build %d tags: %w", b.ID, err)
	}
	b.Tags = t
	return b, nil
}

func decodeTags(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func parseRestriction(s string) domain.CancellationRestriction {
	switch domain.CancellationRestriction(s) {
	case domain.RestrictionMaintainersOnly:
		return domain.RestrictionMaintainersOnly
	case domain.RestrictionNoOne:
		return domain.RestrictionNoOne
	default:
		return domain.RestrictionDisabled
	}
}

var (
	_ domain.PipelineStore        = (*Store)(nil)
	_ domain.BuildStore           = (*Store)(nil)
	_ domain.MinutesLedger        = (*Store)(nil)
	_ domain.ProjectSettingsStore = (*Store)(nil)
)
