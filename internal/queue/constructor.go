package queue

import (
	"context"

	"github.com/hibiken/asynq"
)

const TaskTypePublishJob = "publish:job"

type PublishJobPayload struct {
	JobID string `json:"job_id"`
}

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID string) (bool, error)
}

// Queue triggers ProcessJob through asynq at the moment a job becomes due, so
// scheduled jobs do not wait for the next polling pass.
type Queue struct {
	processor JobProcessor
	client    TaskEnqueuer
}

func NewQueue(processor JobProcessor, client TaskEnqueuer) *Queue {
	return &Queue{
		processor: processor,
		client:    client,
	}
}

// ServerConfig runs at most one worker batch of jobs at a time.
func ServerConfig(batchSize int) asynq.Config {
	if batchSize <= 0 {
		batchSize = 5
	}
	return asynq.Config{Concurrency: batchSize}
}
