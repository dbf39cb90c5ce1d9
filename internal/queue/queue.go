package queue

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// EnqueueJob schedules a publish task for scheduleAt, or right away when it is nil or past.
// Enqueueing the same job twice is a no-op.
func (q *Queue) EnqueueJob(jobID string, scheduleAt *time.Time, now time.Time) error {
	taskPayload, err := json.Marshal(PublishJobPayload{JobID: jobID})
	if err != nil {
		return err
	}

	var delay time.Duration
	if scheduleAt != nil && scheduleAt.After(now) {
		delay = scheduleAt.Sub(now)
	}

	task := asynq.NewTask(TaskTypePublishJob, taskPayload)

	_, err = q.client.Enqueue(task, asynq.TaskID(jobID), asynq.ProcessIn(delay))
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("task scheduled", "job_id", jobID, "delay", delay)
	return nil
}
