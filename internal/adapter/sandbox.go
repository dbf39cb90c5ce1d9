package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const sandboxIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

type sandboxProfile struct {
	prefix     string
	urlFormat  string
	firstStep  time.Duration
	firstPct   int
	secondStep time.Duration
	secondPct  int
	canCancel  bool
}

var sandboxProfiles = map[string]sandboxProfile{
	PlatformTikTok: {
		prefix:     "tt",
		urlFormat:  "https://tiktok.com/@user/video/%s",
		firstStep:  6 * time.Second,
		firstPct:   20,
		secondStep: 12 * time.Second,
		secondPct:  60,
	},
	PlatformYouTube: {
		prefix:     "yt",
		urlFormat:  "https://youtube.com/shorts/%s",
		firstStep:  5 * time.Second,
		firstPct:   25,
		secondStep: 10 * time.Second,
		secondPct:  75,
		canCancel:  true,
	},
	PlatformInstagram: {
		prefix:     "ig",
		urlFormat:  "https://instagram.com/reel/%s",
		firstStep:  8 * time.Second,
		firstPct:   30,
		secondStep: 15 * time.Second,
		secondPct:  80,
	},
}

// sandboxAdapter answers every call locally. Validation still runs the real
// platform rules so sandbox runs reject the same inputs production would.
type sandboxAdapter struct {
	rules   Adapter
	profile sandboxProfile
	creds   Credentials
	now     func() time.Time
}

// NewSandboxAdapter wraps rules with deterministic, network-free behaviour.
func NewSandboxAdapter(rules Adapter, creds Credentials, now func() time.Time) (Adapter, error) {
	profile, ok := sandboxProfiles[rules.Platform()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, rules.Platform())
	}
	if now == nil {
		now = time.Now
	}
	return &sandboxAdapter{rules: rules, profile: profile, creds: creds, now: now}, nil
}

func (a *sandboxAdapter) Platform() string { return a.rules.Platform() }

func (a *sandboxAdapter) Validate(meta VideoMetadata, opts PublishOptions) ValidationResult {
	return a.rules.Validate(meta, opts)
}

func (a *sandboxAdapter) Upload(ctx context.Context, data []byte, filename string, opts PublishOptions) UploadResult {
	id := fmt.Sprintf("%s_%d_%s", a.profile.prefix, a.now().UnixMilli(), gonanoid.MustGenerate(sandboxIDAlphabet, 9))
	return UploadResult{Success: true, JobID: id}
}

func (a *sandboxAdapter) Publish(ctx context.Context, uploadID string, opts PublishOptions) PublishResult {
	return PublishResult{
		Success:      true,
		PublishedURL: fmt.Sprintf(a.profile.urlFormat, uploadID),
		ExternalID:   uploadID,
	}
}

// GetStatus advances with the time elapsed since the millisecond stamp embedded in the id.
func (a *sandboxAdapter) GetStatus(ctx context.Context, jobID string) JobStatus {
	now := a.now()
	started := now
	if parts := strings.Split(jobID, "_"); len(parts) > 1 {
		if ms, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			started = time.UnixMilli(ms)
		}
	}

	elapsed := now.Sub(started)
	switch {
	case elapsed < a.profile.firstStep:
		return JobStatus{Status: StatusProcessing, Progress: a.profile.firstPct}
	case elapsed < a.profile.secondStep:
		return JobStatus{Status: StatusProcessing, Progress: a.profile.secondPct}
	}
	return JobStatus{Status: StatusPublished, Progress: 100, PublishedURL: fmt.Sprintf(a.profile.urlFormat, jobID)}
}

func (a *sandboxAdapter) Cancel(ctx context.Context, jobID string) bool {
	return a.profile.canCancel
}

func (a *sandboxAdapter) RefreshAccessToken(ctx context.Context) *Credentials {
	if a.creds.RefreshToken == "" {
		return nil
	}
	expiresAt := a.now().Add(time.Hour)
	refreshed := a.creds
	refreshed.AccessToken = "sandbox-" + a.Platform() + "-token"
	refreshed.ExpiresAt = &expiresAt
	return &refreshed
}
