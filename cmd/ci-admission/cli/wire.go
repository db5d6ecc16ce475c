package cli

import (
	"context"

	"github.com/davarch/ci-admission/internal/application"
	"github.com/davarch/ci-admission/internal/infrastructure/cache_fs"
	"github.com/davarch/ci-admission/internal/infrastructure/capabilities_fs"
	"github.com/davarch/ci-admission/internal/infrastructure/config"
	"github.com/davarch/ci-admission/internal/infrastructure/gitlab_http"
	"github.com/davarch/ci-admission/internal/infrastructure/postgres"
	"github.com/davarch/ci-admission/internal/infrastructure/redis_queue"
	"go.uber.org/zap"
)

type app struct {
	store   *postgres.Store
	queue   *redis_queue.Queue
	caps    *capabilities_fs.Store
	journal *cache_fs.FSJournal

	admission *application.AdmissionService
	created   *application.PipelineCreatedUseCase
	cancel    *application.CancelBuildUseCase
}

func newApp(ctx context.Context, log *zap.Logger, cfg config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	caps, err := capabilities_fs.Load(cfg.Capabilities.Path)
	if err != nil {
		return nil, err
	}

	store, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}

	queue, err := redis_queue.New(ctx, cfg.Redis.URL, redis_queue.Options{
		EventsKey:     cfg.Redis.EventsKey,
		RecomputeKey:  cfg.Redis.RecomputeKey,
		DeadLetterKey: cfg.Redis.DeadLetterKey,
		BlockTimeout:  cfg.Redis.BlockTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	checkers := []application.AvailabilityChecker{application.NewMinutesChecker(store, caps)}
	if cfg.RunnerChecksEnabled() {
		gl := gitlab_http.New(cfg.GitLab.BaseURL, cfg.GitLab.Token, cfg.GitLab.Timeout)
		checkers = append(checkers, application.NewRunnerMatchChecker(gl, caps))
	} else {
		log.Info("no gitlab token: runner matching checks disabled")
	}

	journal := cache_fs.New(cfg.Journal.Dir)
	drops := application.NewDropExecutor(log, store)
	admission := application.NewAdmissionService(log, store, store, application.NewCompositeChecker(checkers...), drops)

	return &app{
		store:     store,
		queue:     queue,
		caps:      caps,
		journal:   journal,
		admission: admission,
		created:   application.NewPipelineCreatedUseCase(log, admission, queue, journal),
		cancel:    application.NewCancelBuildUseCase(log, store, store, caps),
	}, nil
}

func (a *app) Close() {
	_ = a.queue.Close()
	_ = a.store.Close()
}
