package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Defines constants and payloads for task types used in Asynq.

const (
	// TypeIndexBuild is the task type for building a taxonomy index generation.
	TypeIndexBuild = "taxonomy:index_build"

	// QueueIndexing is the default queue for index builds.
	QueueIndexing = "indexing"
)

type IndexBuildPayload struct {
	TaskID uuid.UUID `json:"task_id"`
}

func NewIndexBuildTask(taskID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(IndexBuildPayload{TaskID: taskID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeIndexBuild, payload), nil
}

func ParseIndexBuildPayload(t *asynq.Task) (IndexBuildPayload, error) {
	var p IndexBuildPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", t.Type(), err)
	}
	if p.TaskID == uuid.Nil {
		return p, fmt.Errorf("%s payload has no task_id", t.Type())
	}
	return p, nil
}
