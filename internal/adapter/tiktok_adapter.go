package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Matheus2505060/multpost-ai/internal/transfer"
)

const tiktokAPIBase = "https://open.tiktokapis.com"

const (
	tiktokMaxTitleLength       = 150
	tiktokMaxDescriptionLength = 2200
	tiktokMinDuration          = 3
	tiktokMaxDuration          = 180
	tiktokMaxFileSize          = 128 * 1024 * 1024
	tiktokMaxCaptionLength     = 2200
)

type tiktokAdapter struct {
	creds Credentials
	opts  Options
	http  *transport
}

// NewTiktokAdapter builds the TikTok Content Posting API variant.
func NewTiktokAdapter(creds Credentials, opts Options) Adapter {
	opts = opts.withDefaults()
	if opts.BaseURL == "" {
		opts.BaseURL = tiktokAPIBase
	}
	return &tiktokAdapter{
		creds: creds,
		opts:  opts,
		http: &transport{
			platform:  PlatformTikTok,
			client:    opts.HTTPClient,
			limiter:   opts.Limiter,
			decodeErr: decodeTiktokError,
		},
	}
}

func (a *tiktokAdapter) Platform() string { return PlatformTikTok }

func (a *tiktokAdapter) Validate(meta VideoMetadata, opts PublishOptions) ValidationResult {
	var errs, warnings []string

	errs = append(errs, ValidateTitle(opts.Title, tiktokMaxTitleLength)...)
	errs = append(errs, ValidateDescription(opts.Description, tiktokMaxDescriptionLength)...)
	errs = append(errs, ValidateDuration(meta.Duration, tiktokMinDuration, tiktokMaxDuration)...)
	errs = append(errs, ValidateFileSize(meta.Size, tiktokMaxFileSize)...)
	errs = append(errs, ValidateVerticalVideo(meta)...)

	warnings = append(warnings, aspectWarning(meta, "TikTok")...)
	if meta.Duration > 60 {
		warnings = append(warnings, "videos up to 60 seconds tend to perform better on TikTok")
	}
	if len(opts.Tags) > 5 {
		warnings = append(warnings, "use at most 5 hashtags on TikTok")
	}

	return newValidationResult(errs, warnings)
}

func tiktokPrivacy(p Privacy) string {
	switch p {
	case PrivacyPrivate:
		return "SELF_ONLY"
	case PrivacyUnlisted:
		return "MUTUAL_FOLLOW_FRIENDS"
	}
	return "PUBLIC_TO_EVERYONE"
}

func tiktokCaption(opts PublishOptions) string {
	parts := []string{strings.TrimSpace(opts.Title)}
	if d := strings.TrimSpace(opts.Description); d != "" {
		parts = append(parts, d)
	}
	if tags := hashtags(opts.Tags); tags != "" {
		parts = append(parts, tags)
	}
	return TruncateText(strings.Join(parts, "\n\n"), tiktokMaxCaptionLength)
}

// Upload initialises a FILE_UPLOAD direct post and sends the bytes in a single chunk.
// The returned job id is TikTok's publish_id.
func (a *tiktokAdapter) Upload(ctx context.Context, data []byte, filename string, opts PublishOptions) UploadResult {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	size := int64(len(data))
	request := transfer.VideoUploadRequest{
		PostInfo: transfer.VideoPostInfo{
			Title:                 tiktokCaption(opts),
			PrivacyLevel:          tiktokPrivacy(opts.Privacy),
			VideoCoverTimestampMs: 1000,
		},
		SourceInfo: transfer.VideoSourceInfo{
			Source:          "FILE_UPLOAD",
			VideoSize:       size,
			ChunkSize:       size,
			TotalChunkCount: 1,
		},
	}

	var initResp transfer.TikTokUploadResponse
	err := a.http.doJSON(ctx, http.MethodPost, a.opts.BaseURL+"/v2/post/publish/video/init/", request, &initResp, bearer(a.creds.AccessToken))
	if err != nil {
		return uploadFailure(err)
	}
	if initResp.Data.PublishID == "" || initResp.Data.UploadURL == "" {
		return uploadFailure(&PlatformError{Platform: PlatformTikTok, Message: "no publish_id returned from TikTok", Kind: FailureTransient})
	}

	req, err := http.NewRequest(http.MethodPut, initResp.Data.UploadURL, bytes.NewReader(data))
	if err != nil {
		return uploadFailure(err)
	}
	req.Header.Set("Content-Type", "video/mp4")
	req.Header.Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", size-1, size))

	if _, err := a.http.do(ctx, req); err != nil {
		return uploadFailure(err)
	}

	return UploadResult{Success: true, JobID: initResp.Data.PublishID}
}

// Publish waits for TikTok to finish processing the direct post. TikTok has no
// scheduling, so the post goes live as soon as processing completes.
func (a *tiktokAdapter) Publish(ctx context.Context, uploadID string, opts PublishOptions) PublishResult {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout+a.opts.PollInterval*time.Duration(a.opts.PollAttempts))
	defer cancel()

	for attempt := 0; attempt < a.opts.PollAttempts; attempt++ {
		data, err := a.fetchStatus(ctx, uploadID)
		if err != nil {
			return publishFailure(err)
		}

		switch data.Status {
		case "PUBLISH_COMPLETE", "SEND_TO_USER_INBOX":
			externalID := uploadID
			if len(data.PubliclyAvailable) > 0 {
				externalID = strconv.FormatInt(data.PubliclyAvailable[0], 10)
			}
			return PublishResult{
				Success:      true,
				PublishedURL: fmt.Sprintf("https://tiktok.com/@user/video/%s", externalID),
				ExternalID:   externalID,
			}
		case "FAILED":
			reason := data.FailReason
			if reason == "" {
				reason = "processing failed"
			}
			return publishFailure(&PlatformError{Platform: PlatformTikTok, Code: reason, Message: "TikTok rejected the video", Kind: FailurePermanent})
		}

		if err := sleep(ctx, a.opts.PollInterval); err != nil {
			return publishFailure(err)
		}
	}

	return publishFailure(&PlatformError{Platform: PlatformTikTok, Message: "video still processing", Kind: FailureTransient})
}

func (a *tiktokAdapter) fetchStatus(ctx context.Context, publishID string) (*transfer.TiktokStatusData, error) {
	var resp transfer.TiktokStatusResponse
	err := a.http.doJSON(ctx, http.MethodPost, a.opts.BaseURL+"/v2/post/publish/status/fetch/",
		transfer.TiktokStatusRequest{PublishID: publishID}, &resp, bearer(a.creds.AccessToken))
	if err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (a *tiktokAdapter) GetStatus(ctx context.Context, jobID string) JobStatus {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	data, err := a.fetchStatus(ctx, jobID)
	if err != nil {
		return JobStatus{Status: StatusFailed, Error: err.Error()}
	}

	switch data.Status {
	case "PROCESSING_UPLOAD", "PROCESSING_DOWNLOAD":
		return JobStatus{Status: StatusProcessing, Progress: 50}
	case "SEND_TO_USER_INBOX":
		return JobStatus{Status: StatusProcessing, Progress: 90}
	case "PUBLISH_COMPLETE":
		id := jobID
		if len(data.PubliclyAvailable) > 0 {
			id = strconv.FormatInt(data.PubliclyAvailable[0], 10)
		}
		return JobStatus{Status: StatusPublished, Progress: 100, PublishedURL: fmt.Sprintf("https://tiktok.com/@user/video/%s", id)}
	case "FAILED":
		reason := data.FailReason
		if reason == "" {
			reason = "TikTok processing failed"
		}
		return JobStatus{Status: StatusFailed, Error: reason}
	}
	return JobStatus{Status: StatusQueued}
}

// Cancel is not supported by the TikTok API.
func (a *tiktokAdapter) Cancel(ctx context.Context, jobID string) bool {
	return false
}

func (a *tiktokAdapter) RefreshAccessToken(ctx context.Context) *Credentials {
	if a.creds.RefreshToken == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	data := url.Values{}
	data.Set("client_key", a.opts.ClientID)
	data.Set("client_secret", a.opts.ClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", a.creds.RefreshToken)

	req, err := http.NewRequest(http.MethodPost, a.opts.BaseURL+"/v2/oauth/token/", strings.NewReader(data.Encode()))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := a.http.do(ctx, req)
	if err != nil {
		return nil
	}

	var tokenResponse transfer.TiktokTokenResponse
	if err := json.Unmarshal(body, &tokenResponse); err != nil || tokenResponse.AccessToken == "" {
		return nil
	}

	expiresAt := time.Now().Add(time.Duration(tokenResponse.ExpiresIn) * time.Second)
	refreshToken := tokenResponse.RefreshToken
	if refreshToken == "" {
		refreshToken = a.creds.RefreshToken
	}

	a.creds.AccessToken = tokenResponse.AccessToken
	a.creds.RefreshToken = refreshToken
	a.creds.ExpiresAt = &expiresAt

	refreshed := a.creds
	return &refreshed
}

func decodeTiktokError(status int, body []byte) error {
	var resp struct {
		Error transfer.TiktokError `json:"error"`
	}
	_ = json.Unmarshal(body, &resp)

	pe := newPlatformError(PlatformTikTok, status, resp.Error.Code, resp.Error.Message)
	switch resp.Error.Code {
	case "access_token_invalid", "scope_not_authorized", "invalid_token":
		pe.Kind = FailureAuth
	case "rate_limit_exceeded", "spam_risk_too_many_pending_share", "internal_error":
		pe.Kind = FailureTransient
	case "invalid_params", "spam_risk_user_banned_from_posting", "privacy_level_option_mismatch",
		"unaudited_client_can_only_post_to_private_accounts", "file_format_check_failed", "duration_check_failed":
		pe.Kind = FailurePermanent
	}
	return pe
}
