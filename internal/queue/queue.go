package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/clipforge/video-compositor/internal/models"
)

// ErrEmpty reports that no job was available within the poll window.
var ErrEmpty = errors.New("job queue is empty")

// JobQueue is the request acceptor: validated job documents arrive here and
// the worker drains them.
type JobQueue interface {
	PushJob(ctx context.Context, job *models.Job) error
	PopJob(ctx context.Context, wait time.Duration) (*models.Job, error)
	Len(ctx context.Context) (int64, error)
}

type redisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) JobQueue {
	return &redisQueue{client: client, key: key}
}

func (q *redisQueue) PushJob(ctx context.Context, job *models.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "failed to marshal job")
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return errors.Wrap(err, "failed to enqueue job")
	}
	return nil
}

func (q *redisQueue) PopJob(ctx context.Context, wait time.Duration) (*models.Job, error) {
	res, err := q.client.BLPop(ctx, wait, q.key).Result()
	if err == redis.Nil {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to dequeue job")
	}
	if len(res) < 2 {
		return nil, ErrEmpty
	}
	var job models.Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal job payload")
	}
	return &job, nil
}

func (q *redisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
