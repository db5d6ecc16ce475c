package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/davarch/ci-admission/internal/domain"
	"go.uber.org/zap"
)

type flakyHandler struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    []int64
}

func (h *flakyHandler) Handle(ctx context.Context, pipelineID int64) (Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, pipelineID)
	if h.failures > 0 {
		h.failures--
		return Report{}, h.err
	}
	return Report{State: StateApplied}, nil
}

func fastOptions() WorkerOptions {
	return WorkerOptions{
		Idle:        time.Millisecond,
		RetryFirst:  time.Millisecond,
		RetryMax:    2 * time.Millisecond,
		RetryBudget: time.Second,
	}
}

func TestWorker_RunOnceEmptyQueue(t *testing.T) {
	h := &flakyHandler{}
	w := NewWorker(zap.NewNop(), h, &domain.MockQueue{}, fastOptions())

	if w.RunOnce(context.Background()) {
		t.Fatalf("expected no work")
	}
	if len(h.calls) != 0 {
		t.Errorf("handler called on empty queue")
	}
}

func TestWorker_RetriesTransientErrors(t *testing.T) {
	h := &flakyHandler{failures: 2, err: errors.New("connection reset")}
	q := &domain.MockQueue{Events: []domain.PipelineEvent{{ID: "e1", PipelineID: 7}}}
	w := NewWorker(zap.NewNop(), h, q, fastOptions())

	if !w.RunOnce(context.Background()) {
		t.Fatalf("expected an event to be handled")
	}
	if len(h.calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(h.calls))
	}
}

func TestWorker_MissingPipelineIsNotRetried(t *testing.T) {
	h := &flakyHandler{failures: 5, err: domain.ErrPipelineNotFound}
	q := &domain.MockQueue{Events: []domain.PipelineEvent{{ID: "e1", PipelineID: 7}}}
	w := NewWorker(zap.NewNop(), h, q, fastOptions())

	w.RunOnce(context.Background())
	if len(h.calls) != 1 {
		t.Errorf("expected a single attempt, got %d", len(h.calls))
	}
}

func TestWorker_PauseFile(t *testing.T) {
	pause := filepath.Join(t.TempDir(), "paused")
	if err := os.WriteFile(pause, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	h := &flakyHandler{}
	q := &domain.MockQueue{Events: []domain.PipelineEvent{{ID: "e1", PipelineID: 7}}}
	opt := fastOptions()
	opt.PauseFile = pause
	w := NewWorker(zap.NewNop(), h, q, opt)

	if w.RunOnce(context.Background()) {
		t.Fatalf("paused worker must not consume events")
	}
	if len(q.Events) != 1 {
		t.Errorf("event consumed while paused")
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	h := &flakyHandler{}
	q := &domain.MockQueue{Events: []domain.PipelineEvent{{PipelineID: 1}, {PipelineID: 2}}}
	opt := fastOptions()
	opt.Concurrency = 2
	w := NewWorker(zap.NewNop(), h, q, opt)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := w.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.Events) != 0 {
		t.Errorf("events left in queue: %d", len(q.Events))
	}
}

func TestWorker_MalformedEventKeepsDraining(t *testing.T) {
	h := &flakyHandler{}
	q := &domain.MockQueue{Err: fmt.Errorf("%w: missing pipeline id", domain.ErrMalformedEvent)}
	w := NewWorker(zap.NewNop(), h, q, fastOptions())

	if !w.RunOnce(context.Background()) {
		t.Fatalf("a dead-lettered event should count as work done")
	}
	if len(h.calls) != 0 {
		t.Errorf("handler called for malformed event: %v", h.calls)
	}

	q.Err = errors.New("redis down")
	if w.RunOnce(context.Background()) {
		t.Errorf("a dequeue error must not count as work done")
	}
}
