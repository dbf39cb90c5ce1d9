package models

import (
	"time"

	"github.com/lib/pq"
)

type Job struct {
	ID            string         `db:"id" json:"id"`
	UserID        int64          `db:"user_id" json:"user_id"`
	UploadID      string         `db:"upload_id" json:"upload_id"`
	Platform      string         `db:"platform" json:"platform"`
	Title         string         `db:"title" json:"title"`
	Description   string         `db:"description" json:"description"`
	Tags          pq.StringArray `db:"tags" json:"tags"`
	Privacy       string         `db:"privacy" json:"privacy,omitempty"`
	ScheduleAt    *time.Time     `db:"schedule_at" json:"schedule_at,omitempty"`
	NextAttemptAt *time.Time     `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	Status        string         `db:"status" json:"status"` // queued, processing, published, failed, cancelled
	Attempts      int            `db:"attempts" json:"attempts"`
	MaxAttempts   int            `db:"max_attempts" json:"max_attempts"`
	ErrorMessage  *string        `db:"error_message" json:"error_message,omitempty"`
	PublishedURL  *string        `db:"published_url" json:"published_url,omitempty"`
	ExternalID    *string        `db:"external_id" json:"external_id,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusPublished  = "published"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// IsTerminalStatus reports whether no further transition is allowed from status.
func IsTerminalStatus(status string) bool {
	switch status {
	case JobStatusPublished, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

func IsValidJobStatus(status string) bool {
	switch status {
	case JobStatusQueued, JobStatusProcessing, JobStatusPublished, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

func (j *Job) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

// ExternalRef returns the provider-side identifier recorded after upload, if any.
func (j *Job) ExternalRef() string {
	if j.ExternalID == nil {
		return ""
	}
	return *j.ExternalID
}
