package redis_queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/davarch/ci-admission/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Options struct {
	EventsKey     string
	RecomputeKey  string
	DeadLetterKey string
	BlockTimeout  time.Duration
}

type pusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Queue carries pipeline-created events to the admission worker and
// recompute requests to pipeline processing.
type Queue struct {
	redis *redis.Client
	opt   Options
}

type deadLetter struct {
	Raw      string `json:"raw"`
	Error    string `json:"error"`
	Received int64  `json:"received"`
}

type recomputeRequest struct {
	PipelineID  int64  `json:"pipeline_id"`
	Source      string `json:"source"`
	RequestedAt int64  `json:"requested_at"`
}

func New(ctx context.Context, redisURL string, opt Options) (*Queue, error) {
	ro, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{redis: client, opt: opt}, nil
}

func (q *Queue) Publish(ctx context.Context, pipelineID int64) (domain.PipelineEvent, error) {
	ev := domain.PipelineEvent{
		ID:         uuid.NewString(),
		PipelineID: pipelineID,
		Enqueued:   time.Now().Unix(),
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return domain.PipelineEvent{}, err
	}

	if err := q.redis.RPush(ctx, q.opt.EventsKey, data).Err(); err != nil {
		return domain.PipelineEvent{}, err
	}
	return ev, nil
}

func (q *Queue) Next(ctx context.Context) (domain.PipelineEvent, bool, error) {
	result, err := q.redis.BLPop(ctx, q.opt.BlockTimeout, q.opt.EventsKey).Result()
	if errors.Is(err, redis.Nil) {
		return domain.PipelineEvent{}, false, nil
	}
	if err != nil {
		return domain.PipelineEvent{}, false, err
	}

	return q.accept(ctx, q.redis, result[1])
}

// accept decodes a popped payload. Undecodable payloads go to the dead-letter list.
func (q *Queue) accept(ctx context.Context, p pusher, raw string) (domain.PipelineEvent, bool, error) {
	ev, err := decodeEvent(raw)
	if err == nil {
		return ev, true, nil
	}

	data, merr := json.Marshal(deadLetter{Raw: raw, Error: err.Error(), Received: time.Now().Unix()})
	if merr != nil {
		return domain.PipelineEvent{}, false, merr
	}
	if perr := p.RPush(ctx, q.opt.DeadLetterKey, data).Err(); perr != nil {
		return domain.PipelineEvent{}, false, fmt.Errorf("dead-letter %q: %w", raw, perr)
	}
	return domain.PipelineEvent{}, false, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
}

// TriggerRecompute asks pipeline processing to resync the pipeline once.
func (q *Queue) TriggerRecompute(ctx context.Context, pipelineID int64) error {
	data, err := json.Marshal(recomputeRequest{
		PipelineID:  pipelineID,
		Source:      "admission",
		RequestedAt: time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return q.redis.RPush(ctx, q.opt.RecomputeKey, data).Err()
}

func (q *Queue) Backlog(ctx context.Context) (int64, error) {
	return q.redis.LLen(ctx, q.opt.EventsKey).Result()
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.redis.Ping(ctx).Err()
}

func (q *Queue) Close() error {
	return q.redis.Close()
}

func decodeEvent(raw string) (domain.PipelineEvent, error) {
	var ev domain.PipelineEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return domain.PipelineEvent{}, fmt.Errorf("decode pipeline event: %w", err)
	}
	if ev.PipelineID <= 0 {
		return domain.PipelineEvent{}, fmt.Errorf("decode pipeline event: missing pipeline id")
	}
	return ev, nil
}

var (
	_ domain.EventQueue        = (*Queue)(nil)
	_ domain.PipelineProcessor = (*Queue)(nil)
)
