package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Matheus2505060/multpost-ai/internal/models"
	"github.com/Matheus2505060/multpost-ai/internal/repository"
)

// LogStoreObserver writes the job audit trail into the logs table.
type LogStoreObserver struct {
	lr repository.LogRepository
}

func NewLogStoreObserver(lr repository.LogRepository) *LogStoreObserver {
	return &LogStoreObserver{lr: lr}
}

func (o *LogStoreObserver) Observe(ctx context.Context, e Event) {
	entry := logEntryFor(e)
	if entry == nil {
		return
	}
	if _, err := o.lr.Create(ctx, entry); err != nil {
		slog.Warn("unable to store job log", "job_id", e.JobID, "error", err)
	}
}

func logEntryFor(e Event) *models.LogEntry {
	level := models.LogLevelInfo
	meta := map[string]interface{}{"platform": e.Platform}
	var message string

	switch e.Type {
	case EventJobCreated:
		message = fmt.Sprintf("Job created for %s", e.Platform)
	case EventAttemptStarted:
		message = fmt.Sprintf("Publishing to %s (attempt %d)", e.Platform, e.Attempt)
		meta["attempt"] = e.Attempt
	case EventAttemptFailed:
		level = models.LogLevelWarn
		message = fmt.Sprintf("Attempt %d on %s failed, retrying in %s", e.Attempt, e.Platform, e.Delay)
		meta["attempt"] = e.Attempt
		meta["delay_seconds"] = int64(e.Delay.Seconds())
		meta["error"] = e.Error
	case EventJobPublished:
		message = fmt.Sprintf("Published to %s", e.Platform)
		meta["published_url"] = e.PublishedURL
	case EventJobFailed:
		level = models.LogLevelError
		message = fmt.Sprintf("Publishing to %s failed", e.Platform)
		meta["error"] = e.Error
	case EventJobCancelled:
		message = fmt.Sprintf("Job for %s cancelled", e.Platform)
	default:
		return nil
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		raw = []byte("{}")
	}

	jobID := e.JobID
	return &models.LogEntry{
		JobID:   &jobID,
		UserID:  e.UserID,
		Level:   level,
		Message: message,
		Meta:    raw,
	}
}
