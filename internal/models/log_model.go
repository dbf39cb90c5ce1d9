package models

import (
	"encoding/json"
	"time"
)

type LogEntry struct {
	ID        int64           `db:"id" json:"id"`
	JobID     *string         `db:"job_id" json:"job_id,omitempty"`
	UserID    int64           `db:"user_id" json:"user_id"`
	Level     string          `db:"level" json:"level"`
	Message   string          `db:"message" json:"message"`
	Meta      json.RawMessage `db:"meta" json:"meta,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

const (
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)
