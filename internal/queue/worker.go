package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// HandlePublishJobTask runs one attempt of the job. Retries after platform
// failures belong to the polling worker; only store errors are returned to asynq.
func (q *Queue) HandlePublishJobTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishJobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	published, err := q.processor.ProcessJob(ctx, payload.JobID)
	if err != nil {
		return err
	}

	slog.Info("publish task handled", "job_id", payload.JobID, "published", published)
	return nil
}

// Register adds the queue's handlers to mux.
func (q *Queue) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTypePublishJob, q.HandlePublishJobTask)
}
