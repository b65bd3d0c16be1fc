package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taxonomer/internal/tasks"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
)

// AsynqJobClient enqueues index-build jobs on Redis.
type AsynqJobClient struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
}

// JobClientOptions configures how index-build jobs are enqueued.
type JobClientOptions struct {
	Queue    string
	MaxRetry int
	Timeout  time.Duration // per-attempt processing deadline enforced by asynq
}

func NewAsynqJobClient(redisOpts asynq.RedisClientOpt, opts JobClientOptions) (*AsynqJobClient, error) {
	if redisOpts.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty for AsynqJobClient")
	}
	if opts.Queue == "" {
		opts.Queue = tasks.QueueIndexing
	}
	cli := asynq.NewClient(redisOpts)
	return &AsynqJobClient{client: cli, queue: opts.Queue, maxRetry: opts.MaxRetry, timeout: opts.Timeout}, nil
}

func (jc *AsynqJobClient) Close() error {
	return jc.client.Close()
}

// EnqueueIndexBuild enqueues the build for a task. The asynq task id is the task id,
// so a second enqueue of the same task is rejected by Redis.
func (jc *AsynqJobClient) EnqueueIndexBuild(ctx context.Context, taskID uuid.UUID) error {
	task, err := tasks.NewIndexBuildTask(taskID)
	if err != nil {
		return fmt.Errorf("build index task %s: %w", taskID, err)
	}
	opts := []asynq.Option{
		asynq.Queue(jc.queue),
		asynq.TaskID(taskID.String()),
		asynq.MaxRetry(jc.maxRetry),
	}
	if jc.timeout > 0 {
		opts = append(opts, asynq.Timeout(jc.timeout))
	}
	info, err := jc.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			log.Warnf("Index build for task %s is already enqueued", taskID)
			return nil
		}
		return fmt.Errorf("enqueue index build for task %s: %w", taskID, err)
	}
	log.Debugf("Enqueued index build: task_id=%s queue=%s", info.ID, info.Queue)
	return nil
}

var _ JobClient = (*AsynqJobClient)(nil)
