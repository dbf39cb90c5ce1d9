package adapter

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	youtubeMaxTitleLength       = 100
	youtubeMaxDescriptionLength = 5000
	youtubeMinDuration          = 1
	youtubeMaxDuration          = 60
	youtubeMaxFileSize          = 256 * 1024 * 1024
	youtubeMaxTags              = 10
	youtubeCategoryPeopleBlogs  = "22"
)

type youtubeAdapter struct {
	creds Credentials
	opts  Options
	http  *transport
}

// NewYoutubeAdapter builds the YouTube Shorts variant on the YouTube Data API v3.
func NewYoutubeAdapter(creds Credentials, opts Options) Adapter {
	opts = opts.withDefaults()
	return &youtubeAdapter{
		creds: creds,
		opts:  opts,
		http:  &transport{platform: PlatformYouTube, limiter: opts.Limiter},
	}
}

func (a *youtubeAdapter) Platform() string { return PlatformYouTube }

func (a *youtubeAdapter) Validate(meta VideoMetadata, opts PublishOptions) ValidationResult {
	var errs, warnings []string

	errs = append(errs, ValidateTitle(opts.Title, youtubeMaxTitleLength)...)
	errs = append(errs, ValidateDescription(opts.Description, youtubeMaxDescriptionLength)...)
	errs = append(errs, ValidateDuration(meta.Duration, youtubeMinDuration, youtubeMaxDuration)...)
	errs = append(errs, ValidateFileSize(meta.Size, youtubeMaxFileSize)...)
	errs = append(errs, ValidateVerticalVideo(meta)...)

	warnings = append(warnings, aspectWarning(meta, "Shorts")...)
	if len(opts.Tags) > youtubeMaxTags {
		warnings = append(warnings, fmt.Sprintf("YouTube recommends at most %d tags", youtubeMaxTags))
	}

	return newValidationResult(errs, warnings)
}

func (a *youtubeAdapter) service(ctx context.Context) (*youtube.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.opts.HTTPClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: a.creds.AccessToken}))

	serviceOpts := []option.ClientOption{option.WithHTTPClient(client)}
	if a.opts.BaseURL != "" {
		serviceOpts = append(serviceOpts, option.WithEndpoint(a.opts.BaseURL))
	}

	service, err := youtube.NewService(ctx, serviceOpts...)
	if err != nil {
		return nil, &PlatformError{Platform: PlatformYouTube, Message: "error creating YouTube service: " + err.Error(), Kind: FailurePermanent}
	}
	return service, nil
}

func shortsURL(id string) string {
	return fmt.Sprintf("https://youtube.com/shorts/%s", id)
}

// Upload inserts the video as private; Publish flips it to the requested privacy.
func (a *youtubeAdapter) Upload(ctx context.Context, data []byte, filename string, opts PublishOptions) UploadResult {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	if err := a.http.wait(ctx); err != nil {
		return uploadFailure(err)
	}

	service, err := a.service(ctx)
	if err != nil {
		return uploadFailure(err)
	}

	tags := opts.Tags
	if len(tags) > youtubeMaxTags {
		tags = tags[:youtubeMaxTags]
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       TruncateText(opts.Title, youtubeMaxTitleLength),
			Description: TruncateText(opts.Description, youtubeMaxDescriptionLength),
			Tags:        tags,
			CategoryId:  youtubeCategoryPeopleBlogs,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: string(PrivacyPrivate),
		},
	}

	response, err := service.Videos.Insert([]string{"snippet", "status"}, video).
		Media(bytes.NewReader(data)).
		Context(ctx).
		Do()
	if err != nil {
		return uploadFailure(fmt.Errorf("youtube: error uploading video: %w", err))
	}

	return UploadResult{Success: true, JobID: response.Id}
}

func (a *youtubeAdapter) Publish(ctx context.Context, uploadID string, opts PublishOptions) PublishResult {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	if err := a.http.wait(ctx); err != nil {
		return publishFailure(err)
	}

	service, err := a.service(ctx)
	if err != nil {
		return publishFailure(err)
	}

	privacy := opts.Privacy
	if privacy == "" {
		privacy = PrivacyPublic
	}

	update := &youtube.Video{
		Id:     uploadID,
		Status: &youtube.VideoStatus{PrivacyStatus: string(privacy)},
	}
	if _, err := service.Videos.Update([]string{"status"}, update).Context(ctx).Do(); err != nil {
		return publishFailure(fmt.Errorf("youtube: error updating video status: %w", err))
	}

	return PublishResult{Success: true, ExternalID: uploadID, PublishedURL: shortsURL(uploadID)}
}

func (a *youtubeAdapter) GetStatus(ctx context.Context, jobID string) JobStatus {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	if err := a.http.wait(ctx); err != nil {
		return JobStatus{Status: StatusFailed, Error: err.Error()}
	}

	service, err := a.service(ctx)
	if err != nil {
		return JobStatus{Status: StatusFailed, Error: err.Error()}
	}

	response, err := service.Videos.List([]string{"status", "processingDetails"}).Id(jobID).Context(ctx).Do()
	if err != nil {
		return JobStatus{Status: StatusFailed, Error: err.Error()}
	}
	if len(response.Items) == 0 {
		return JobStatus{Status: StatusFailed, Error: "video not found"}
	}

	video := response.Items[0]
	var uploadStatus, processingStatus, failureReason string
	var progress int
	if video.Status != nil {
		uploadStatus = video.Status.UploadStatus
	}
	if details := video.ProcessingDetails; details != nil {
		processingStatus = details.ProcessingStatus
		failureReason = details.ProcessingFailureReason
		if p := details.ProcessingProgress; p != nil && p.PartsTotal > 0 {
			progress = int(p.PartsProcessed * 100 / p.PartsTotal)
		}
	}

	switch {
	case uploadStatus == "processed" || processingStatus == "succeeded":
		return JobStatus{Status: StatusPublished, Progress: 100, PublishedURL: shortsURL(jobID)}
	case processingStatus == "processing":
		return JobStatus{Status: StatusProcessing, Progress: progress}
	case uploadStatus == "failed" || uploadStatus == "rejected" || processingStatus == "failed":
		if failureReason == "" {
			failureReason = "processing failed"
		}
		return JobStatus{Status: StatusFailed, Error: failureReason}
	}
	return JobStatus{Status: StatusQueued}
}

// Cancel deletes the uploaded video.
func (a *youtubeAdapter) Cancel(ctx context.Context, jobID string) bool {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	if err := a.http.wait(ctx); err != nil {
		return false
	}

	service, err := a.service(ctx)
	if err != nil {
		return false
	}
	return service.Videos.Delete(jobID).Context(ctx).Do() == nil
}

func (a *youtubeAdapter) RefreshAccessToken(ctx context.Context) *Credentials {
	if a.creds.RefreshToken == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	endpoint := google.Endpoint
	if a.opts.TokenURL != "" {
		endpoint.TokenURL = a.opts.TokenURL
	}
	conf := &oauth2.Config{
		ClientID:     a.opts.ClientID,
		ClientSecret: a.opts.ClientSecret,
		Scopes:       []string{youtube.YoutubeUploadScope},
		Endpoint:     endpoint,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.opts.HTTPClient)
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: a.creds.RefreshToken}).Token()
	if err != nil || token.AccessToken == "" {
		return nil
	}

	a.creds.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		a.creds.RefreshToken = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		a.creds.ExpiresAt = &expiry
	}

	refreshed := a.creds
	return &refreshed
}
