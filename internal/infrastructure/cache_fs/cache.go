package cache_fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/davarch/ci-admission/internal/domain"
)

// FSJournal keeps the last admission snapshot of every pipeline as a JSON file.
type FSJournal struct {
	dir string
}

func New(dir string) *FSJournal { return &FSJournal{dir: dir} }

type record struct {
	PipelineID int64                `json:"pipeline_id"`
	ProjectID  int64                `json:"project_id"`
	State      string               `json:"state"`
	Matchers   int                  `json:"matchers"`
	Dropped    []domain.PlannedDrop `json:"dropped"`
	Retrieved  int64                `json:"retrieved"`
}

func (c *FSJournal) path(pipelineID int64) string {
	return filepath.Join(c.dir, fmt.Sprintf("pipeline-%d.json", pipelineID))
}

func (c *FSJournal) Write(_ context.Context, s domain.Snapshot) error {
	if c.dir == "" {
		return errors.New("journal dir is empty")
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}

	tmp := c.path(s.PipelineID) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	dropped := s.Dropped
	if dropped == nil {
		dropped = []domain.PlannedDrop{}
	}
	if err := enc.Encode(record{
		PipelineID: s.PipelineID,
		ProjectID:  s.ProjectID,
		State:      s.State,
		Matchers:   s.Matchers,
		Dropped:    dropped,
		Retrieved:  s.Retrieved,
	}); err != nil {
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, c.path(s.PipelineID))
}

func (c *FSJournal) Read(_ context.Context, pipelineID int64) (domain.Snapshot, error) {
	b, err := os.ReadFile(c.path(pipelineID))
	if err != nil {
		return domain.Snapshot{}, err
	}

	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return domain.Snapshot{}, err
	}
	return domain.Snapshot{
		PipelineID: r.PipelineID,
		ProjectID:  r.ProjectID,
		State:      r.State,
		Matchers:   r.Matchers,
		Dropped:    r.Dropped,
		Retrieved:  r.Retrieved,
	}, nil
}

var _ domain.DecisionJournal = (*FSJournal)(nil)
