package models

import (
	"time"

	"github.com/Matheus2505060/multpost-ai/internal/adapter"
)

// Upload is a source video stored by the upload flow. StorageKey locates the bytes in the media store.
type Upload struct {
	ID         string    `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"user_id"`
	FileName   string    `db:"file_name" json:"file_name"`
	StorageKey string    `db:"storage_key" json:"storage_key"`
	MimeType   string    `db:"mime_type" json:"mime_type"`
	Duration   float64   `db:"duration" json:"duration"`
	Width      int       `db:"width" json:"width"`
	Height     int       `db:"height" json:"height"`
	SizeBytes  int64     `db:"size_bytes" json:"size_bytes"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

func (u *Upload) Metadata() adapter.VideoMetadata {
	return adapter.NewVideoMetadata(u.Duration, u.Width, u.Height, u.SizeBytes)
}
