package application

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/ci-admission/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type PipelineHandler interface {
	Handle(ctx context.Context, pipelineID int64) (Report, error)
}

type WorkerOptions struct {
	Concurrency int
	PauseFile   string
	Idle        time.Duration
	RetryFirst  time.Duration
	RetryMax    time.Duration
	RetryBudget time.Duration
}

// Worker pulls pipeline-created events and runs admission for each.
type Worker struct {
	log   *zap.Logger
	h     PipelineHandler
	queue domain.EventQueue
	opt   WorkerOptions
}

func NewWorker(l *zap.Logger, h PipelineHandler, queue domain.EventQueue, opt WorkerOptions) *Worker {
	if opt.Concurrency <= 0 {
		opt.Concurrency = 1
	}
	if opt.Idle <= 0 {
		opt.Idle = time.Second
	}
	if opt.RetryFirst <= 0 {
		opt.RetryFirst = 300 * time.Millisecond
	}
	if opt.RetryMax <= 0 {
		opt.RetryMax = 5 * time.Second
	}
	if opt.RetryBudget <= 0 {
		opt.RetryBudget = 30 * time.Second
	}
	return &Worker{log: l, h: h, queue: queue, opt: opt}
}

func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opt.Concurrency; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !w.RunOnce(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.opt.Idle):
			}
		}
	}
}

// RunOnce handles at most one event. It returns false when there was nothing to do.
func (w *Worker) RunOnce(ctx context.Context) bool {
	if w.isPaused() {
		w.log.Debug("paused: skipping admission")
		return false
	}

	ev, ok, err := w.queue.Next(ctx)
	if errors.Is(err, domain.ErrMalformedEvent) {
		w.log.Warn("malformed event dead-lettered", zap.Error(err))
		return true
	}
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("dequeue failed", zap.Error(err))
		}
		return false
	}
	if !ok {
		return false
	}

	w.handle(ctx, ev)
	return true
}

func (w *Worker) handle(ctx context.Context, ev domain.PipelineEvent) {
	var rep Report
	op := func() error {
		var err error
		rep, err = w.h.Handle(ctx, ev.PipelineID)
		if errors.Is(err, domain.ErrPipelineNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.opt.RetryFirst
	bo.MaxInterval = w.opt.RetryMax
	bo.MaxElapsedTime = w.opt.RetryBudget

	notify := func(err error, next time.Duration) {
		w.log.Warn("admission failed, retrying",
			zap.String("event", ev.ID),
			zap.Int64("pipeline", ev.PipelineID),
			zap.Duration("in", next),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		w.log.Error("admission failed",
			zap.String("event", ev.ID),
			zap.Int64("pipeline", ev.PipelineID),
			zap.Error(err),
		)
		return
	}

	w.log.Info("admission done",
		zap.String("event", ev.ID),
		zap.Int64("pipeline", ev.PipelineID),
		zap.String("state", string(rep.State)),
		zap.Int("dropped", rep.Applied),
	)
}

func (w *Worker) isPaused() bool {
	if w.opt.PauseFile == "" {
		return false
	}
	_, err := os.Stat(w.opt.PauseFile)
	return err == nil
}
