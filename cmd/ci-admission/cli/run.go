package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/davarch/ci-admission/internal/application"
	"github.com/davarch/ci-admission/internal/infrastructure/config"
	"github.com/davarch/ci-admission/internal/infrastructure/httpapi"
	"github.com/davarch/ci-admission/internal/infrastructure/logging"
	"github.com/davarch/ci-admission/internal/infrastructure/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the admission worker and internal HTTP API",
	Run: func(cmd *cobra.Command, args []string) {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Fatal("config", zap.Error(err))
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		shutdownTracer := telemetry.InitTracer(ctx, log, cfg.Telemetry.ServiceName, cfg.Telemetry.Tracing)
		defer func() { _ = shutdownTracer(context.Background()) }()

		a, err := newApp(ctx, log, cfg)
		if err != nil {
			log.Fatal("init", zap.Error(err))
		}
		defer a.Close()

		a.caps.Watch(ctx, log)

		api := httpapi.New(log, a.admission, a.created, a.cancel, a.store, a.queue).
			WithRequeue(a.queue).
			WithToken(cfg.HTTP.Token)
		if cfg.HTTP.Token == "" {
			log.Warn("http api token not set: actor headers are trusted from any caller", zap.String("listen", cfg.HTTP.Listen))
		}
		httpSrv := &http.Server{Addr: cfg.HTTP.Listen, Handler: api.Router()}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				log.Warn("http shutdown", zap.Error(err))
			}
		}()

		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http listen failed", zap.Error(err))
				cancel()
			}
		}()

		worker := application.NewWorker(log, a.created, a.queue, application.WorkerOptions{
			Concurrency: cfg.Worker.Concurrency,
			PauseFile:   cfg.Worker.PauseFile,
			Idle:        cfg.Worker.Idle,
			RetryBudget: cfg.Worker.RetryBudget,
		})

		log.Info("start",
			zap.String("version", version),
			zap.Int("concurrency", cfg.Worker.Concurrency),
			zap.String("listen", cfg.HTTP.Listen),
			zap.String("capabilities", cfg.Capabilities.Path),
			zap.String("journal", cfg.Journal.Dir),
			zap.Bool("runner_checks", cfg.RunnerChecksEnabled()),
			zap.String("pause_file", cfg.Worker.PauseFile),
		)
		if err := worker.Run(ctx); err != nil {
			log.Error("worker stopped", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
