// Package adapter hides each short-video platform behind one contract so the
// publisher never branches on platform names.
package adapter

import (
	"context"
	"errors"
	"time"
)

const (
	PlatformTikTok    = "tiktok"
	PlatformInstagram = "instagram"
	PlatformYouTube   = "youtube"
)

var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Platforms lists every platform an adapter exists for.
func Platforms() []string {
	return []string{PlatformTikTok, PlatformInstagram, PlatformYouTube}
}

func IsSupported(platform string) bool {
	switch platform {
	case PlatformTikTok, PlatformInstagram, PlatformYouTube:
		return true
	}
	return false
}

type Privacy string

const (
	PrivacyPublic   Privacy = "public"
	PrivacyUnlisted Privacy = "unlisted"
	PrivacyPrivate  Privacy = "private"
)

func (p Privacy) Valid() bool {
	switch p {
	case "", PrivacyPublic, PrivacyUnlisted, PrivacyPrivate:
		return true
	}
	return false
}

// VideoMetadata describes the source video. Duration is in seconds and Size in bytes.
type VideoMetadata struct {
	Duration    float64 `json:"duration"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Size        int64   `json:"size"`
	AspectRatio float64 `json:"aspect_ratio"`
}

func NewVideoMetadata(duration float64, width, height int, size int64) VideoMetadata {
	meta := VideoMetadata{Duration: duration, Width: width, Height: height, Size: size}
	if height > 0 {
		meta.AspectRatio = float64(width) / float64(height)
	}
	return meta
}

type PublishOptions struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags,omitempty"`
	ScheduleAt  *time.Time `json:"schedule_at,omitempty"`
	Privacy     Privacy    `json:"privacy,omitempty"`
}

type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func newValidationResult(errs, warnings []string) ValidationResult {
	if errs == nil {
		errs = []string{}
	}
	if warnings == nil {
		warnings = []string{}
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs, Warnings: warnings}
}

// Invalid builds a failed result carrying a single error, used when no adapter can be built.
func Invalid(message string) ValidationResult {
	return newValidationResult([]string{message}, nil)
}

// FailureKind tells the publisher whether a failed call is worth retrying.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTransient
	FailurePermanent
	FailureAuth
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTransient:
		return "transient"
	case FailurePermanent:
		return "permanent"
	case FailureAuth:
		return "auth"
	}
	return "unknown"
}

type UploadResult struct {
	Success bool
	JobID   string
	Error   string
	Failure FailureKind
}

type PublishResult struct {
	Success      bool
	PublishedURL string
	ExternalID   string
	Error        string
	Failure      FailureKind
}

type JobStatus struct {
	Status       string `json:"status"`
	Progress     int    `json:"progress,omitempty"`
	Error        string `json:"error,omitempty"`
	PublishedURL string `json:"published_url,omitempty"`
}

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusPublished  = "published"
	StatusFailed     = "failed"
)

// Credentials are the decrypted tokens of a connection.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	AccountID    string
}

// Adapter is implemented once per platform. Implementations never panic and
// report failures through the result values.
type Adapter interface {
	Platform() string
	Validate(meta VideoMetadata, opts PublishOptions) ValidationResult
	Upload(ctx context.Context, data []byte, filename string, opts PublishOptions) UploadResult
	Publish(ctx context.Context, uploadID string, opts PublishOptions) PublishResult
	GetStatus(ctx context.Context, jobID string) JobStatus
	Cancel(ctx context.Context, jobID string) bool
	// RefreshAccessToken returns nil when the connection cannot be refreshed.
	RefreshAccessToken(ctx context.Context) *Credentials
}

func uploadFailure(err error) UploadResult {
	return UploadResult{Error: err.Error(), Failure: Classify(err)}
}

func publishFailure(err error) PublishResult {
	return PublishResult{Error: err.Error(), Failure: Classify(err)}
}
