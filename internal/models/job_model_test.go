package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminalStatus(t *testing.T) {
	assert.False(t, IsTerminalStatus(JobStatusQueued))
	assert.False(t, IsTerminalStatus(JobStatusProcessing))
	assert.True(t, IsTerminalStatus(JobStatusPublished))
	assert.True(t, IsTerminalStatus(JobStatusFailed))
	assert.True(t, IsTerminalStatus(JobStatusCancelled))
}

func TestJobExternalRef(t *testing.T) {
	job := &Job{}
	assert.Equal(t, "", job.ExternalRef())

	id := "yt_123"
	job.ExternalID = &id
	assert.Equal(t, "yt_123", job.ExternalRef())
}

func TestIsValidJobStatus(t *testing.T) {
	assert.True(t, IsValidJobStatus("queued"))
	assert.False(t, IsValidJobStatus("scheduled"))
}

func TestUploadMetadata(t *testing.T) {
	u := &Upload{Duration: 12.5, Width: 1080, Height: 1920, SizeBytes: 2048}
	meta := u.Metadata()
	assert.Equal(t, 12.5, meta.Duration)
	assert.Equal(t, int64(2048), meta.Size)
	assert.InDelta(t, 0.5625, meta.AspectRatio, 0.0001)
}
