// Package worker holds the asynq handlers run by the worker process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taxonomer/internal/models"
	"taxonomer/internal/tasks"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
)

// IndexBuildRunner runs one index build to completion.
type IndexBuildRunner interface {
	Run(ctx context.Context, taskID uuid.UUID) error
	// Abandon records the task as failed once its job will not be delivered again.
	Abandon(ctx context.Context, taskID uuid.UUID, cause error) error
}

// isFinalAttempt reports whether asynq will archive the job if this attempt fails.
var isFinalAttempt = func(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return ok && retried >= maxRetry
}

// RegisterHandlers wires every job type this service processes.
func RegisterHandlers(mux *asynq.ServeMux, runner IndexBuildRunner) {
	log.Infof("Registering %s handler", tasks.TypeIndexBuild)
	mux.HandleFunc(tasks.TypeIndexBuild, HandleIndexBuild(runner))
}

// HandleIndexBuild returns the handler for TypeIndexBuild. Failures the runner already
// recorded on the task are not retried; anything else goes back to asynq for redelivery.
func HandleIndexBuild(runner IndexBuildRunner) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		p, err := tasks.ParseIndexBuildPayload(t)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger := log.WithFields(log.Fields{"task_id": p.TaskID, "type": t.Type()})
		logger.Info("Index build started")

		start := time.Now()
		if err := runner.Run(ctx, p.TaskID); err != nil {
			if errors.Is(err, models.ErrBuildFailed) {
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			// A cancelled context means shutdown; asynq requeues the job without using a retry.
			if isFinalAttempt(ctx) && !errors.Is(err, context.Canceled) {
				abandonCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
				defer cancel()
				if abandonErr := runner.Abandon(abandonCtx, p.TaskID, err); abandonErr != nil {
					logger.Errorf("Failed to record abandoned index build: %v", abandonErr)
				}
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			logger.Warnf("Index build attempt failed, will retry: %v", err)
			return err
		}
		logger.Infof("Index build handler finished in %s", time.Since(start).Round(time.Millisecond))
		return nil
	}
}

// ErrorHandler logs failed jobs.
func ErrorHandler(ctx context.Context, t *asynq.Task, err error) {
	taskID, _ := asynq.GetTaskID(ctx)
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	log.WithFields(log.Fields{
		"job_id":    taskID,
		"type":      t.Type(),
		"retried":   retried,
		"max_retry": maxRetry,
	}).Errorf("Asynq task failed: %v", err)
}
