package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/davarch/ci-admission/internal/application"
	"github.com/davarch/ci-admission/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Planner interface {
	Plan(ctx context.Context, pipelineID int64) (application.Report, error)
}

type PipelineHandler interface {
	Handle(ctx context.Context, pipelineID int64) (application.Report, error)
}

type Canceler interface {
	Policy(ctx context.Context, projectID int64) (application.CancellationRestrictionPolicy, error)
	Cancel(ctx context.Context, actor domain.Actor, buildID int64) error
}

type Publisher interface {
	Publish(ctx context.Context, pipelineID int64) (domain.PipelineEvent, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	log      *zap.Logger
	planner  Planner
	pipeline PipelineHandler
	cancel   Canceler
	deps     []Pinger

	passTimeout time.Duration
	requeue     Publisher
	token       string
}

func New(l *zap.Logger, planner Planner, pipeline PipelineHandler, cancel Canceler, deps ...Pinger) *Server {
	return &Server{log: l, planner: planner, pipeline: pipeline, cancel: cancel, deps: deps, passTimeout: 2 * time.Minute}
}

// WithRequeue hands pipelines whose pass failed back to the worker queue.
func (s *Server) WithRequeue(p Publisher) *Server {
	s.requeue = p
	return s
}

// WithToken requires a bearer token on the admission, restriction and cancel routes.
func (s *Server) WithToken(token string) *Server {
	s.token = token
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/healthz", s.healthz)
		r.Handle("/metrics", promhttp.Handler())
	})

	r.Group(func(r chi.Router) {
		if s.token != "" {
			r.Use(requireToken(s.token))
		}

		r.Post("/pipelines/{id}/admission", s.admit)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/pipelines/{id}/admission/plan", s.plan)
			r.Get("/projects/{id}/cancellation-restriction", s.restriction)
			r.Post("/builds/{id}/cancel", s.cancelBuild)
		})
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	for _, d := range s.deps {
		if err := d.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) admit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	// Once started, a pass runs to its recompute trigger even if the client goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.passTimeout)
	defer cancel()

	rep, err := s.pipeline.Handle(ctx, id)
	if err != nil {
		if s.requeue != nil && !errors.Is(err, domain.ErrPipelineNotFound) {
			if _, perr := s.requeue.Publish(context.WithoutCancel(ctx), id); perr != nil {
				s.log.Error("requeue failed", zap.Int64("pipeline", id), zap.Error(perr))
			} else {
				s.log.Warn("pass failed, requeued", zap.Int64("pipeline", id), zap.Error(err))
			}
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToReportDTO(rep))
}

func (s *Server) plan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rep, err := s.planner.Plan(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToReportDTO(rep))
}

func (s *Server) restriction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.cancel.Policy(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id":               id,
		"effective":                p.Effective(),
		"maintainers_only_allowed": p.MaintainersOnlyAllowed(),
		"no_one_allowed":           p.NoOneAllowed(),
	})
}

func (s *Server) cancelBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.cancel.Cancel(r.Context(), actor, id); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"build_id": id, "status": domain.BuildCanceled})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrPipelineNotFound), errors.Is(err, domain.ErrBuildNotFound), errors.Is(err, domain.ErrProjectNotFound):
		status = http.StatusNotFound
	case errors.Is(err, application.ErrCancellationForbidden):
		status = http.StatusForbidden
	case errors.Is(err, application.ErrBuildNotCancelable), errors.Is(err, domain.ErrStaleBuild):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func actorFrom(r *http.Request) (domain.Actor, error) {
	id, err := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	if err != nil {
		return domain.Actor{}, errors.New("missing or invalid X-Actor-ID")
	}
	role, ok := parseRole(r.Header.Get("X-Actor-Role"))
	if !ok {
		return domain.Actor{}, errors.New("missing or invalid X-Actor-Role")
	}
	return domain.Actor{ID: id, Role: role}, nil
}

func parseRole(s string) (domain.Role, bool) {
	switch s {
	case "guest":
		return domain.RoleGuest, true
	case "reporter":
		return domain.RoleReporter, true
	case "developer":
		return domain.RoleDeveloper, true
	case "maintainer":
		return domain.RoleMaintainer, true
	case "owner":
		return domain.RoleOwner, true
	}
	return 0, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
