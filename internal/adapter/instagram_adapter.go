package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Matheus2505060/multpost-ai/internal/transfer"
)

const (
	instagramAPIBase    = "https://graph.instagram.com"
	instagramAPIVersion = "v21.0"
)

const (
	instagramMaxCaptionLength = 2200
	instagramMinDuration      = 3
	instagramMaxDuration      = 90
	instagramMaxFileSize      = 100 * 1024 * 1024
)

// Stager puts media somewhere a platform can fetch it from and returns its public URL.
type Stager interface {
	Stage(ctx context.Context, data []byte, filename string) (string, error)
	Unstage(ctx context.Context, url string) error
}

type instagramAdapter struct {
	creds Credentials
	opts  Options
	http  *transport
}

// NewInstagramAdapter builds the Instagram Reels variant on the Graph API.
// Reels are created from a public video URL, so opts.Stager is required for uploads.
func NewInstagramAdapter(creds Credentials, opts Options) Adapter {
	opts = opts.withDefaults()
	if opts.BaseURL == "" {
		opts.BaseURL = instagramAPIBase
	}
	return &instagramAdapter{
		creds: creds,
		opts:  opts,
		http: &transport{
			platform:  PlatformInstagram,
			client:    opts.HTTPClient,
			limiter:   opts.Limiter,
			decodeErr: decodeInstagramError,
		},
	}
}

func (a *instagramAdapter) Platform() string { return PlatformInstagram }

func (a *instagramAdapter) Validate(meta VideoMetadata, opts PublishOptions) ValidationResult {
	var errs, warnings []string

	errs = append(errs, ValidateTitle(opts.Title, instagramMaxCaptionLength)...)
	if len([]rune(opts.Title+" "+opts.Description)) > instagramMaxCaptionLength {
		errs = append(errs, fmt.Sprintf("title and description together must be at most %d characters", instagramMaxCaptionLength))
	}
	errs = append(errs, ValidateDuration(meta.Duration, instagramMinDuration, instagramMaxDuration)...)
	errs = append(errs, ValidateFileSize(meta.Size, instagramMaxFileSize)...)
	errs = append(errs, ValidateVerticalVideo(meta)...)

	warnings = append(warnings, aspectWarning(meta, "Reels")...)
	if meta.Duration > 30 {
		warnings = append(warnings, "Reels up to 30 seconds tend to reach more viewers")
	}

	return newValidationResult(errs, warnings)
}

func instagramCaption(opts PublishOptions) string {
	caption := opts.Title
	if opts.Description != "" {
		caption += "\n\n" + opts.Description
	}
	if tags := hashtags(opts.Tags); tags != "" {
		caption += "\n\n" + tags
	}
	return TruncateText(caption, instagramMaxCaptionLength)
}

func (a *instagramAdapter) endpoint(path string) string {
	return fmt.Sprintf("%s/%s/%s", a.opts.BaseURL, instagramAPIVersion, path)
}

// Upload stages the bytes on public storage and creates a REELS container.
// The returned job id is the container id.
func (a *instagramAdapter) Upload(ctx context.Context, data []byte, filename string, opts PublishOptions) UploadResult {
	if a.opts.Stager == nil {
		return uploadFailure(&PlatformError{Platform: PlatformInstagram, Message: "no public media storage configured", Kind: FailurePermanent})
	}
	if a.creds.AccountID == "" {
		return uploadFailure(&PlatformError{Platform: PlatformInstagram, Message: "connection has no Instagram account id", Kind: FailurePermanent})
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	videoURL, err := a.opts.Stager.Stage(ctx, data, filename)
	if err != nil {
		return uploadFailure(fmt.Errorf("instagram: staging video: %w", err))
	}

	request := transfer.InstagramContainerRequest{
		MediaType:   "REELS",
		VideoURL:    videoURL,
		Caption:     instagramCaption(opts),
		ShareToFeed: true,
		AccessToken: a.creds.AccessToken,
	}

	var container transfer.InstagramIDResponse
	err = a.http.doJSON(ctx, http.MethodPost, a.endpoint(a.creds.AccountID+"/media"), request, &container, nil)
	if err == nil && container.ID == "" {
		err = &PlatformError{Platform: PlatformInstagram, Message: "no container ID returned from Instagram", Kind: FailureTransient}
	}
	if err != nil {
		a.unstage(ctx, videoURL)
		return uploadFailure(err)
	}

	return UploadResult{Success: true, JobID: container.ID}
}

// unstage drops a staged copy no container will ever fetch. Best effort.
func (a *instagramAdapter) unstage(ctx context.Context, videoURL string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := a.opts.Stager.Unstage(ctx, videoURL); err != nil {
		slog.Warn("unable to remove staged video", "url", videoURL, "error", err)
	}
}

// Publish waits for the container to finish processing, then publishes it.
// Reels cannot be scheduled through the API, so publishing is immediate.
func (a *instagramAdapter) Publish(ctx context.Context, uploadID string, opts PublishOptions) PublishResult {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout+a.opts.PollInterval*time.Duration(a.opts.PollAttempts))
	defer cancel()

	ready := false
	for attempt := 0; attempt < a.opts.PollAttempts && !ready; attempt++ {
		status, err := a.containerStatus(ctx, uploadID)
		if err != nil {
			return publishFailure(err)
		}

		switch status.StatusCode {
		case "FINISHED":
			ready = true
			continue
		case "PUBLISHED":
			return PublishResult{Success: true, ExternalID: uploadID, PublishedURL: reelURL(uploadID)}
		case "ERROR", "EXPIRED":
			return publishFailure(&PlatformError{Platform: PlatformInstagram, Code: status.StatusCode, Message: "container processing failed: " + status.Status, Kind: FailurePermanent})
		}

		if err := sleep(ctx, a.opts.PollInterval); err != nil {
			return publishFailure(err)
		}
	}
	if !ready {
		return publishFailure(&PlatformError{Platform: PlatformInstagram, Message: "container still processing", Kind: FailureTransient})
	}

	var media transfer.InstagramIDResponse
	request := transfer.InstagramPublishRequest{CreationID: uploadID, AccessToken: a.creds.AccessToken}
	if err := a.http.doJSON(ctx, http.MethodPost, a.endpoint(a.creds.AccountID+"/media_publish"), request, &media, nil); err != nil {
		return publishFailure(err)
	}
	if media.ID == "" {
		return publishFailure(&PlatformError{Platform: PlatformInstagram, Message: "no media ID returned from Instagram", Kind: FailureTransient})
	}

	publishedURL := reelURL(media.ID)
	if permalink := a.permalink(ctx, media.ID); permalink != "" {
		publishedURL = permalink
	}

	return PublishResult{Success: true, ExternalID: media.ID, PublishedURL: publishedURL}
}

func reelURL(id string) string {
	return fmt.Sprintf("https://instagram.com/reel/%s", id)
}

func (a *instagramAdapter) containerStatus(ctx context.Context, containerID string) (*transfer.InstagramContainerStatus, error) {
	q := url.Values{}
	q.Set("fields", "status_code,status")
	q.Set("access_token", a.creds.AccessToken)

	var status transfer.InstagramContainerStatus
	if err := a.http.doJSON(ctx, http.MethodGet, a.endpoint(containerID)+"?"+q.Encode(), nil, &status, nil); err != nil {
		return nil, err
	}
	return &status, nil
}

// permalink is best effort; an empty string means the fallback URL is used.
func (a *instagramAdapter) permalink(ctx context.Context, mediaID string) string {
	q := url.Values{}
	q.Set("fields", "id,permalink")
	q.Set("access_token", a.creds.AccessToken)

	var media transfer.InstagramMedia
	if err := a.http.doJSON(ctx, http.MethodGet, a.endpoint(mediaID)+"?"+q.Encode(), nil, &media, nil); err != nil {
		return ""
	}
	return media.Permalink
}

func (a *instagramAdapter) GetStatus(ctx context.Context, jobID string) JobStatus {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	status, err := a.containerStatus(ctx, jobID)
	if err != nil {
		return JobStatus{Status: StatusFailed, Error: err.Error()}
	}

	switch status.StatusCode {
	case "IN_PROGRESS":
		return JobStatus{Status: StatusProcessing, Progress: 50}
	case "FINISHED":
		return JobStatus{Status: StatusProcessing, Progress: 90}
	case "PUBLISHED":
		return JobStatus{Status: StatusPublished, Progress: 100, PublishedURL: reelURL(jobID)}
	case "ERROR", "EXPIRED":
		return JobStatus{Status: StatusFailed, Error: strings.TrimSpace("container " + strings.ToLower(status.StatusCode) + " " + status.Status)}
	}
	return JobStatus{Status: StatusQueued}
}

// Cancel is not supported: containers expire on their own after 24 hours.
func (a *instagramAdapter) Cancel(ctx context.Context, jobID string) bool {
	return false
}

// RefreshAccessToken extends a long-lived token. Instagram refreshes the token
// with itself, so the stored refresh token is the previous long-lived token.
func (a *instagramAdapter) RefreshAccessToken(ctx context.Context) *Credentials {
	if a.creds.RefreshToken == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("grant_type", "ig_refresh_token")
	q.Set("access_token", a.creds.RefreshToken)

	var result transfer.InstagramTokenResponse
	if err := a.http.doJSON(ctx, http.MethodGet, a.opts.BaseURL+"/refresh_access_token?"+q.Encode(), nil, &result, nil); err != nil {
		return nil
	}
	if result.AccessToken == "" {
		return nil
	}

	expiresAt := time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	a.creds.AccessToken = result.AccessToken
	a.creds.RefreshToken = result.AccessToken
	a.creds.ExpiresAt = &expiresAt

	refreshed := a.creds
	return &refreshed
}

func decodeInstagramError(status int, body []byte) error {
	var resp transfer.InstagramErrorResponse
	_ = json.Unmarshal(body, &resp)

	code := ""
	if resp.Error.Code != 0 {
		code = fmt.Sprintf("%d", resp.Error.Code)
	}
	message := resp.Error.Message
	if resp.Error.ErrorUserMsg != "" {
		message = resp.Error.ErrorUserMsg
	}

	pe := newPlatformError(PlatformInstagram, status, code, message)
	switch {
	case resp.Error.Code == 190:
		pe.Kind = FailureAuth
	case resp.Error.IsTransient, resp.Error.Code == 1, resp.Error.Code == 2, resp.Error.Code == 4,
		resp.Error.Code == 17, resp.Error.Code == 32, resp.Error.Code == 613:
		pe.Kind = FailureTransient
	}
	return pe
}
