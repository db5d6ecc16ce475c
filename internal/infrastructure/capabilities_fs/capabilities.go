package capabilities_fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/davarch/ci-admission/internal/domain"
	"github.com/davarch/ci-admission/internal/infrastructure/config"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Gate enables a flag or license globally or for listed projects and namespaces.
type Gate struct {
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	Projects   []int64 `yaml:"projects,omitempty" json:"projects,omitempty"`
	Namespaces []int64 `yaml:"namespaces,omitempty" json:"namespaces,omitempty"`
}

func (g Gate) allows(s domain.Scope) bool {
	if g.Enabled {
		return true
	}
	return slices.Contains(g.Projects, s.ProjectID) || slices.Contains(g.Namespaces, s.NamespaceID)
}

type Document struct {
	Flags    map[string]Gate `yaml:"flags"`
	Licenses map[string]Gate `yaml:"licenses"`
}

// Store serves feature flags and licensed features from a YAML file.
type Store struct {
	path string

	mu  sync.RWMutex
	doc Document
}

func Load(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Reload() error {
	doc := Document{}
	b, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return err
	default:
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return err
		}
	}
	if doc.Flags == nil {
		doc.Flags = map[string]Gate{}
	}
	if doc.Licenses == nil {
		doc.Licenses = map[string]Gate{}
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

func (s *Store) IsEnabled(flag string, scope domain.Scope) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.doc.Flags[flag]
	return ok && g.allows(scope)
}

func (s *Store) HasLicense(feature string, scope domain.Scope) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.doc.Licenses[feature]
	return ok && g.allows(scope)
}

type Entry struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	Gate
}

// Entries lists flags then licenses, each sorted by name.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, kind := range []string{"flag", "license"} {
		m := s.doc.Flags
		if kind == "license" {
			m = s.doc.Licenses
		}
		names := make([]string, 0, len(m))
		for n := range m {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			out = append(out, Entry{Kind: kind, Name: n, Gate: m[n]})
		}
	}
	return out
}

// SetFlag changes a flag globally, or only for projectID when it is non zero,
// and writes the file back. It reports whether anything changed.
func (s *Store) SetFlag(name string, enabled bool, projectID int64) (bool, error) {
	s.mu.Lock()
	g := s.doc.Flags[name]
	before := g.Enabled
	beforeProjects := len(g.Projects)

	switch {
	case projectID == 0:
		g.Enabled = enabled
	case enabled && !slices.Contains(g.Projects, projectID):
		g.Projects = append(g.Projects, projectID)
	case !enabled:
		g.Projects = slices.DeleteFunc(g.Projects, func(id int64) bool { return id == projectID })
	}

	changed := g.Enabled != before || len(g.Projects) != beforeProjects
	if !changed {
		s.mu.Unlock()
		return false, nil
	}
	s.doc.Flags[name] = g
	b, err := yaml.Marshal(&s.doc)
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	return true, config.WriteFileLocked(s.path, b)
}

// Watch reloads the file when it changes until ctx is done.
func (s *Store) Watch(ctx context.Context, log *zap.Logger) {
	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify init failed", zap.Error(err))
		return
	}

	if err := w.Add(dir); err != nil {
		log.Warn("fsnotify add dir failed", zap.String("dir", dir), zap.Error(err))
		_ = w.Close()
		return
	}

	go func() {
		defer func() { _ = w.Close() }()

		fire := func() {
			if err := s.Reload(); err != nil {
				log.Warn("capabilities reload failed", zap.Error(err))
				return
			}
			log.Info("capabilities reloaded", zap.String("path", s.path))
		}

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}

				if filepath.Base(ev.Name) != base {
					continue
				}

				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if timer == nil {
						timer = time.AfterFunc(300*time.Millisecond, fire)
					} else {
						timer.Reset(300 * time.Millisecond)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", zap.Error(err))
			}
		}
	}()
}

var _ domain.Capabilities = (*Store)(nil)
