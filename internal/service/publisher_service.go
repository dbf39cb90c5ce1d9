package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/Matheus2505060/multpost-ai/internal/adapter"
	"github.com/Matheus2505060/multpost-ai/internal/models"
	"github.com/Matheus2505060/multpost-ai/internal/repository"
	"github.com/Matheus2505060/multpost-ai/pkg/utils"
	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/lib/pq"
)

const (
	msgNotConnected      = "platform not connected"
	msgConnectionExpired = "platform connection expired"
	msgMediaNotFound     = "source media not found"
	msgUnsupportedMedia  = "unsupported media type"
	msgAttemptsExhausted = "maximum attempts reached"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidStatus      = errors.New("invalid job status")
	ErrJobNotFound        = errors.New("job not found")
	ErrBadCredentials     = errors.New("connection credentials cannot be decrypted")
	ErrRefreshUnavailable = errors.New("connection cannot be refreshed")
)

// AdapterFactory builds a platform adapter from decrypted credentials.
type AdapterFactory interface {
	New(platform string, creds adapter.Credentials) (adapter.Adapter, error)
}

type PublisherConfig struct {
	// SecretKey is the AES key connection tokens are encrypted with.
	SecretKey   []byte
	MaxAttempts int
	JobLease    time.Duration
}

type PublisherService interface {
	InitializeAdapter(ctx context.Context, userID int64, platform string) (adapter.Adapter, error)
	ValidateForPlatforms(ctx context.Context, userID int64, platforms []string, meta adapter.VideoMetadata, opts adapter.PublishOptions) map[string]adapter.ValidationResult
	CreatePublishJobs(ctx context.Context, userID int64, uploadID string, platforms []string, opts adapter.PublishOptions) ([]string, error)
	ProcessJob(ctx context.Context, jobID string) (bool, error)
	GetPendingJobs(ctx context.Context) ([]*models.Job, error)
	GetUserJobs(ctx context.Context, userID int64, status string) ([]*models.Job, error)
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	CancelJob(ctx context.Context, jobID string) (bool, error)
	RefreshConnection(ctx context.Context, conn *models.Connection) error
	ReconcileJob(ctx context.Context, jobID string) (adapter.JobStatus, error)
}

type publisherService struct {
	cfg     PublisherConfig
	jr      repository.JobRepository
	cr      repository.ConnectionRepository
	ur      repository.UploadRepository
	media   MediaStore
	factory AdapterFactory
	events  EventEmitter
	now     func() time.Time
}

func NewPublisherService(
	cfg PublisherConfig,
	jr repository.JobRepository,
	cr repository.ConnectionRepository,
	ur repository.UploadRepository,
	media MediaStore,
	factory AdapterFactory,
	events EventEmitter) PublisherService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.JobLease <= 0 {
		cfg.JobLease = 15 * time.Minute
	}
	return &publisherService{
		cfg:     cfg,
		jr:      jr,
		cr:      cr,
		ur:      ur,
		media:   media,
		factory: factory,
		events:  events,
		now:     time.Now,
	}
}

// Backoff is the delay before the next attempt once attempts have been consumed: 2^attempts minutes.
func Backoff(attempts int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempts))) * time.Minute
}

func (s *publisherService) emit(e Event) {
	if s.events == nil {
		return
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.events.Emit(e)
}

func jobEvent(t EventType, job *models.Job) Event {
	return Event{Type: t, JobID: job.ID, UserID: job.UserID, Platform: job.Platform}
}

func (s *publisherService) credentials(conn *models.Connection) (adapter.Credentials, error) {
	accessToken, err := utils.Decrypt(conn.AccessToken, s.cfg.SecretKey)
	if err != nil {
		return adapter.Credentials{}, fmt.Errorf("%w: %v", ErrBadCredentials, err)
	}

	var refreshToken string
	if conn.RefreshToken != "" {
		refreshToken, err = utils.Decrypt(conn.RefreshToken, s.cfg.SecretKey)
		if err != nil {
			return adapter.Credentials{}, fmt.Errorf("%w: %v", ErrBadCredentials, err)
		}
	}

	return adapter.Credentials{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    conn.TokenExpiresAt,
		AccountID:    conn.AccountID,
	}, nil
}

// InitializeAdapter returns nil, nil when the user has not linked the platform.
func (s *publisherService) InitializeAdapter(ctx context.Context, userID int64, platform string) (adapter.Adapter, error) {
	conn, err := s.cr.GetByUserAndPlatform(ctx, userID, platform)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, nil
	}
	return s.adapterFor(conn)
}

func (s *publisherService) adapterFor(conn *models.Connection) (adapter.Adapter, error) {
	creds, err := s.credentials(conn)
	if err != nil {
		return nil, err
	}
	return s.factory.New(conn.Platform, creds)
}

func (s *publisherService) ValidateForPlatforms(ctx context.Context, userID int64, platforms []string, meta adapter.VideoMetadata, opts adapter.PublishOptions) map[string]adapter.ValidationResult {
	results := make(map[string]adapter.ValidationResult, len(platforms))

	for _, platform := range platforms {
		if !adapter.IsSupported(platform) {
			results[platform] = adapter.Invalid(fmt.Sprintf("unsupported platform: %s", platform))
			continue
		}

		a, err := s.InitializeAdapter(ctx, userID, platform)
		if err != nil {
			slog.Warn("unable to initialize adapter", "user_id", userID, "platform", platform, "error", err)
			results[platform] = adapter.Invalid("unable to load platform connection")
			continue
		}
		if a == nil {
			results[platform] = adapter.Invalid(msgNotConnected)
			continue
		}

		results[platform] = a.Validate(meta, opts)
	}

	return results
}

func (s *publisherService) CreatePublishJobs(ctx context.Context, userID int64, uploadID string, platforms []string, opts adapter.PublishOptions) ([]string, error) {
	if strings.TrimSpace(uploadID) == "" {
		return nil, fmt.Errorf("%w: upload id is required", ErrInvalidInput)
	}
	if len(platforms) == 0 {
		return nil, fmt.Errorf("%w: at least one platform is required", ErrInvalidInput)
	}
	if !opts.Privacy.Valid() {
		return nil, fmt.Errorf("%w: privacy %q", ErrInvalidInput, opts.Privacy)
	}

	tags := pq.StringArray(opts.Tags)
	if tags == nil {
		tags = pq.StringArray{}
	}

	seen := make(map[string]bool, len(platforms))
	jobIDs := []string{}

	for _, platform := range platforms {
		if seen[platform] {
			continue
		}
		seen[platform] = true

		if !adapter.IsSupported(platform) {
			slog.Warn("skipping unsupported platform", "user_id", userID, "platform", platform)
			continue
		}

		now := s.now()
		job := &models.Job{
			ID:          uuid.NewString(),
			UserID:      userID,
			UploadID:    uploadID,
			Platform:    platform,
			Title:       opts.Title,
			Description: opts.Description,
			Tags:        tags,
			Privacy:     string(opts.Privacy),
			ScheduleAt:  opts.ScheduleAt,
			Status:      models.JobStatusQueued,
			MaxAttempts: s.cfg.MaxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if err := s.jr.Create(ctx, job); err != nil {
			slog.Error("unable to create job", "user_id", userID, "platform", platform, "error", err)
			continue
		}

		slog.Info("job created", "job_id", job.ID, "platform", platform, "schedule_at", job.ScheduleAt)
		s.emit(jobEvent(EventJobCreated, job))
		jobIDs = append(jobIDs, job.ID)
	}

	return jobIDs, nil
}

func (s *publisherService) GetPendingJobs(ctx context.Context) ([]*models.Job, error) {
	return s.jr.ListPending(ctx, s.now())
}

func (s *publisherService) GetUserJobs(ctx context.Context, userID int64, status string) ([]*models.Job, error) {
	if status != "" && !models.IsValidJobStatus(status) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	return s.jr.ListByUserID(ctx, userID, status)
}

func (s *publisherService) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.jr.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// ProcessJob runs one attempt of a job. It reports true only when the job is published.
// Store errors are returned; the claim lease makes the job eligible again later.
func (s *publisherService) ProcessJob(ctx context.Context, jobID string) (bool, error) {
	job, err := s.jr.GetByID(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job == nil {
		slog.Warn("job not found", "job_id", jobID)
		return false, nil
	}
	if job.IsTerminal() {
		return job.Status == models.JobStatusPublished, nil
	}

	now := s.now()
	if job.ScheduleAt != nil && job.ScheduleAt.After(now) {
		return true, nil
	}
	if job.NextAttemptAt != nil && job.NextAttemptAt.After(now) {
		return true, nil
	}

	claimed, err := s.jr.Claim(ctx, job.ID, now, now.Add(s.cfg.JobLease))
	if err != nil {
		return false, err
	}
	if !claimed {
		slog.Info("job already claimed or no longer eligible", "job_id", job.ID)
		return false, nil
	}
	job.Status = models.JobStatusProcessing

	return s.runAttempt(ctx, job)
}

func (s *publisherService) runAttempt(ctx context.Context, job *models.Job) (ok bool, err error) {
	begun := false
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing job", "job_id", job.ID, "panic", r)
			if !begun {
				if attempts, beginErr := s.jr.BeginAttempt(ctx, job.ID); beginErr == nil && attempts > 0 {
					job.Attempts = attempts
				}
			}
			ok, err = s.handleFailure(ctx, job, fmt.Sprintf("internal error: %v", r), adapter.FailureTransient)
		}
	}()

	if job.Attempts >= job.MaxAttempts {
		return s.fail(ctx, job, lastError(job, msgAttemptsExhausted))
	}

	a, err := s.InitializeAdapter(ctx, job.UserID, job.Platform)
	switch {
	case errors.Is(err, ErrBadCredentials), errors.Is(err, adapter.ErrUnsupportedPlatform):
		return s.fail(ctx, job, err.Error())
	case err != nil:
		return false, err
	case a == nil:
		return s.fail(ctx, job, msgNotConnected)
	}

	upload, err := s.ur.GetByID(ctx, job.UploadID)
	if err != nil {
		return false, err
	}
	if upload == nil || upload.UserID != job.UserID {
		return s.fail(ctx, job, msgMediaNotFound)
	}

	data, err := s.media.Read(ctx, upload.StorageKey)
	if errors.Is(err, ErrMediaNotFound) {
		return s.fail(ctx, job, msgMediaNotFound)
	}
	if err != nil {
		return false, err
	}
	if !filetype.IsVideo(data) {
		return s.fail(ctx, job, msgUnsupportedMedia)
	}

	attempts, err := s.jr.BeginAttempt(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if attempts == 0 {
		slog.Info("job changed state before the attempt started", "job_id", job.ID)
		return false, nil
	}
	begun = true
	job.Attempts = attempts

	s.emit(Event{Type: EventAttemptStarted, JobID: job.ID, UserID: job.UserID, Platform: job.Platform, Attempt: attempts})
	slog.Info("publishing job", "job_id", job.ID, "platform", job.Platform, "attempt", attempts, "max_attempts", job.MaxAttempts)

	opts := publishOptions(job)
	// platforms are asked to publish now; scheduling is handled by the worker
	publishOpts := opts
	publishOpts.ScheduleAt = nil

	var published adapter.PublishResult

	// An upload from an earlier attempt is resumed, never repeated, unless the
	// platform has rejected it.
	ref := job.ExternalRef()
	if ref != "" {
		slog.Info("resuming earlier upload", "job_id", job.ID, "platform", job.Platform, "external_id", ref)
		if a, published = s.publishUpload(ctx, job, a, ref, publishOpts); a == nil {
			return s.fail(ctx, job, msgConnectionExpired)
		}
		if !published.Success && published.Failure == adapter.FailurePermanent {
			slog.Warn("earlier upload was rejected, uploading again", "job_id", job.ID, "external_id", ref, "error", published.Error)
			ref = ""
		}
	}

	if ref == "" {
		uploaded := a.Upload(ctx, data, upload.FileName, opts)
		if !uploaded.Success && uploaded.Failure == adapter.FailureAuth {
			if a = s.reauthorize(ctx, job); a == nil {
				return s.fail(ctx, job, msgConnectionExpired)
			}
			uploaded = a.Upload(ctx, data, upload.FileName, opts)
		}
		if !uploaded.Success {
			return s.handleFailure(ctx, job, uploaded.Error, uploaded.Failure)
		}

		live, err := s.jr.RecordExternalID(ctx, job.ID, uploaded.JobID)
		if err != nil {
			return false, err
		}
		if !live {
			slog.Info("job changed state during upload", "job_id", job.ID)
			a.Cancel(ctx, uploaded.JobID)
			return false, nil
		}
		ref = uploaded.JobID

		if a, published = s.publishUpload(ctx, job, a, ref, publishOpts); a == nil {
			return s.fail(ctx, job, msgConnectionExpired)
		}
	}

	if !published.Success {
		return s.handleFailure(ctx, job, published.Error, published.Failure)
	}

	externalID := published.ExternalID
	if externalID == "" {
		externalID = ref
	}

	updated, err := s.jr.MarkPublished(ctx, job.ID, published.PublishedURL, externalID)
	if err != nil {
		return false, err
	}
	if !updated {
		slog.Warn("job changed state while publishing, keeping stored status", "job_id", job.ID)
		return false, nil
	}

	slog.Info("job published", "job_id", job.ID, "platform", job.Platform, "url", published.PublishedURL)
	e := jobEvent(EventJobPublished, job)
	e.Attempt = job.Attempts
	e.PublishedURL = published.PublishedURL
	s.emit(e)
	return true, nil
}

// publishUpload publishes ref, refreshing the connection once on an auth failure.
// A nil adapter means the connection could not be refreshed.
func (s *publisherService) publishUpload(ctx context.Context, job *models.Job, a adapter.Adapter, ref string, opts adapter.PublishOptions) (adapter.Adapter, adapter.PublishResult) {
	published := a.Publish(ctx, ref, opts)
	if !published.Success && published.Failure == adapter.FailureAuth {
		if a = s.reauthorize(ctx, job); a == nil {
			return nil, published
		}
		published = a.Publish(ctx, ref, opts)
	}
	return a, published
}

func publishOptions(job *models.Job) adapter.PublishOptions {
	tags := []string(job.Tags)
	if tags == nil {
		tags = []string{}
	}
	return adapter.PublishOptions{
		Title:       job.Title,
		Description: job.Description,
		Tags:        tags,
		ScheduleAt:  job.ScheduleAt,
		Privacy:     adapter.Privacy(job.Privacy),
	}
}

func lastError(job *models.Job, fallback string) string {
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		return *job.ErrorMessage
	}
	return fallback
}

// reauthorize refreshes the job's connection and rebuilds the adapter, or returns nil.
func (s *publisherService) reauthorize(ctx context.Context, job *models.Job) adapter.Adapter {
	conn, err := s.cr.GetByUserAndPlatform(ctx, job.UserID, job.Platform)
	if err != nil || conn == nil {
		return nil
	}
	if err := s.RefreshConnection(ctx, conn); err != nil {
		slog.Warn("unable to refresh connection", "job_id", job.ID, "platform", job.Platform, "error", err)
		return nil
	}

	a, err := s.adapterFor(conn)
	if err != nil {
		return nil
	}
	return a
}

func (s *publisherService) handleFailure(ctx context.Context, job *models.Job, reason string, kind adapter.FailureKind) (bool, error) {
	switch kind {
	case adapter.FailurePermanent:
		return s.fail(ctx, job, reason)
	case adapter.FailureAuth:
		return s.fail(ctx, job, msgConnectionExpired+": "+reason)
	}

	if job.Attempts >= job.MaxAttempts {
		return s.fail(ctx, job, reason)
	}

	delay := Backoff(job.Attempts)
	scheduled, err := s.jr.ScheduleRetry(ctx, job.ID, s.now().Add(delay), reason)
	if err != nil {
		return false, err
	}
	if scheduled {
		slog.Warn("publish attempt failed, retrying",
			"job_id", job.ID,
			"platform", job.Platform,
			"attempt", job.Attempts,
			"max_attempts", job.MaxAttempts,
			"delay", delay,
			"error", reason,
		)
		e := jobEvent(EventAttemptFailed, job)
		e.Attempt = job.Attempts
		e.Delay = delay
		e.Error = reason
		s.emit(e)
	}
	return false, nil
}

func (s *publisherService) fail(ctx context.Context, job *models.Job, reason string) (bool, error) {
	failed, err := s.jr.MarkFailed(ctx, job.ID, reason)
	if err != nil {
		return false, err
	}
	if failed {
		slog.Error("job failed", "job_id", job.ID, "platform", job.Platform, "attempts", job.Attempts, "error", reason)
		e := jobEvent(EventJobFailed, job)
		e.Attempt = job.Attempts
		e.Error = reason
		s.emit(e)
	}
	return false, nil
}

// CancelJob reports false for unknown jobs and for jobs that already reached a terminal status.
func (s *publisherService) CancelJob(ctx context.Context, jobID string) (bool, error) {
	job, err := s.jr.GetByID(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job == nil || job.IsTerminal() {
		return false, nil
	}

	if ref := job.ExternalRef(); job.Status == models.JobStatusProcessing && ref != "" {
		a, err := s.InitializeAdapter(ctx, job.UserID, job.Platform)
		if err == nil && a != nil && !a.Cancel(ctx, ref) {
			slog.Info("platform did not cancel upload", "job_id", job.ID, "platform", job.Platform, "external_id", ref)
		}
	}

	cancelled, err := s.jr.MarkCancelled(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if cancelled {
		slog.Info("job cancelled", "job_id", job.ID)
		s.emit(jobEvent(EventJobCancelled, job))
	}
	return cancelled, nil
}

// RefreshConnection exchanges the connection's refresh token and stores the new
// tokens. Losing the race to another refresher is not an error.
func (s *publisherService) RefreshConnection(ctx context.Context, conn *models.Connection) error {
	a, err := s.adapterFor(conn)
	if err != nil {
		return err
	}

	creds := a.RefreshAccessToken(ctx)
	if creds == nil {
		return ErrRefreshUnavailable
	}

	accessToken, err := utils.Encrypt([]byte(creds.AccessToken), s.cfg.SecretKey)
	if err != nil {
		return err
	}
	updated := &models.Connection{AccessToken: accessToken, TokenExpiresAt: creds.ExpiresAt}
	if creds.RefreshToken != "" {
		updated.RefreshToken, err = utils.Encrypt([]byte(creds.RefreshToken), s.cfg.SecretKey)
		if err != nil {
			return err
		}
	}

	err = s.cr.SetToken(ctx, conn.ID, conn.AccessToken, updated)
	if errors.Is(err, repository.ErrTokenConflict) {
		slog.Info("connection refreshed concurrently", "connection_id", conn.ID)
		fresh, getErr := s.cr.GetByUserAndPlatform(ctx, conn.UserID, conn.Platform)
		if getErr == nil && fresh != nil {
			*conn = *fresh
		}
		return nil
	}
	if err != nil {
		return err
	}

	conn.AccessToken = updated.AccessToken
	if updated.RefreshToken != "" {
		conn.RefreshToken = updated.RefreshToken
	}
	if updated.TokenExpiresAt != nil {
		conn.TokenExpiresAt = updated.TokenExpiresAt
	}
	return nil
}

// ReconcileJob asks the platform for the current state of a job's upload. Read-only.
func (s *publisherService) ReconcileJob(ctx context.Context, jobID string) (adapter.JobStatus, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return adapter.JobStatus{}, err
	}

	ref := job.ExternalRef()
	if ref == "" || job.Status == models.JobStatusCancelled {
		status := adapter.JobStatus{Status: job.Status}
		if job.PublishedURL != nil {
			status.PublishedURL = *job.PublishedURL
		}
		if job.ErrorMessage != nil {
			status.Error = *job.ErrorMessage
		}
		return status, nil
	}

	a, err := s.InitializeAdapter(ctx, job.UserID, job.Platform)
	if err != nil {
		return adapter.JobStatus{}, err
	}
	if a == nil {
		return adapter.JobStatus{}, errors.New(msgNotConnected)
	}
	return a.GetStatus(ctx, ref), nil
}
