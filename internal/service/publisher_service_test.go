package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Matheus2505060/multpost-ai/internal/adapter"
	"github.com/Matheus2505060/multpost-ai/internal/models"
	"github.com/Matheus2505060/multpost-ai/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func uploadFails(msg string, kind adapter.FailureKind) adapter.UploadResult {
	return adapter.UploadResult{Error: msg, Failure: kind}
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Minute, Backoff(1))
	assert.Equal(t, 4*time.Minute, Backoff(2))
	assert.Equal(t, 8*time.Minute, Backoff(3))
}

func TestCreatePublishJobs(t *testing.T) {
	f := newFixture(t)
	schedule := f.clock.Now().Add(time.Hour)
	opts := adapter.PublishOptions{Title: "Clip", Tags: []string{"go"}, Privacy: adapter.PrivacyUnlisted, ScheduleAt: &schedule}

	ids, err := f.svc.CreatePublishJobs(ctx, testUserID, testUploadID, []string{"tiktok", "youtube", "tiktok", "myspace"}, opts)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	for _, id := range ids {
		job := f.jobs.get(id)
		require.NotNil(t, job)
		assert.Equal(t, models.JobStatusQueued, job.Status)
		assert.Equal(t, 0, job.Attempts)
		assert.Equal(t, 3, job.MaxAttempts)
		assert.Equal(t, "unlisted", job.Privacy)
		assert.Equal(t, []string{"go"}, []string(job.Tags))
		assert.Equal(t, schedule, *job.ScheduleAt)
	}
	assert.Equal(t, []EventType{EventJobCreated, EventJobCreated}, f.events.types())
}

func TestCreatePublishJobsSkipsFailingInsert(t *testing.T) {
	f := newFixture(t)
	f.jobs.failOn["youtube"] = true

	ids, err := f.svc.CreatePublishJobs(ctx, testUserID, testUploadID, []string{"youtube", "instagram"}, adapter.PublishOptions{Title: "Clip"})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "instagram", f.jobs.get(ids[0]).Platform)
}

func TestCreatePublishJobsInvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreatePublishJobs(ctx, testUserID, "", []string{"tiktok"}, adapter.PublishOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.CreatePublishJobs(ctx, testUserID, testUploadID, nil, adapter.PublishOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.CreatePublishJobs(ctx, testUserID, testUploadID, []string{"tiktok"}, adapter.PublishOptions{Privacy: "friends"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestValidateForPlatforms(t *testing.T) {
	f := newFixture(t)
	tt := f.connect(t, "tiktok", false)
	meta := adapter.NewVideoMetadata(30, 1080, 1920, 1024)
	opts := adapter.PublishOptions{Title: "Clip"}

	tt.On("Validate", meta, opts).Return(adapter.ValidationResult{Valid: true, Errors: []string{}, Warnings: []string{"long"}})

	results := f.svc.ValidateForPlatforms(ctx, testUserID, []string{"tiktok", "instagram", "myspace"}, meta, opts)
	require.Len(t, results, 3)

	assert.True(t, results["tiktok"].Valid)
	assert.Equal(t, []string{"long"}, results["tiktok"].Warnings)

	assert.False(t, results["instagram"].Valid)
	assert.Equal(t, []string{"platform not connected"}, results["instagram"].Errors)

	assert.False(t, results["myspace"].Valid)
	assert.NotEmpty(t, results["myspace"].Errors)
	tt.AssertExpectations(t)
}

func TestInitializeAdapterDecryptsCredentials(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "youtube", true)

	a, err := f.svc.InitializeAdapter(ctx, testUserID, "youtube")
	require.NoError(t, err)
	require.NotNil(t, a)

	creds := f.factory.lastCreds()
	assert.Equal(t, "access-youtube", creds.AccessToken)
	assert.Equal(t, "refresh-youtube", creds.RefreshToken)
	assert.Equal(t, "acct-youtube", creds.AccountID)

	a, err = f.svc.InitializeAdapter(ctx, testUserID, "instagram")
	assert.NoError(t, err)
	assert.Nil(t, a)
}

func TestInitializeAdapterBadCiphertext(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "youtube", false)
	f.conns.connections[connKey(testUserID, "youtube")].AccessToken = "bm90LWVuY3J5cHRlZA=="

	_, err := f.svc.InitializeAdapter(ctx, testUserID, "youtube")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

// Two platforms; the second one fails once and succeeds on the retry.
func TestProcessJobTwoPlatformsWithOneRetry(t *testing.T) {
	f := newFixture(t)
	tt := f.connect(t, "tiktok", false)
	yt := f.connect(t, "youtube", false)

	ids, err := f.svc.CreatePublishJobs(ctx, testUserID, testUploadID, []string{"tiktok", "youtube"}, adapter.PublishOptions{Title: "Clip"})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	tiktokJob, youtubeJob := ids[0], ids[1]

	tt.On("Upload", mock.Anything, mp4Bytes, "clip.mp4", mock.Anything).Return(adapter.UploadResult{Success: true, JobID: "v_pub_1"})
	tt.On("Publish", mock.Anything, "v_pub_1", mock.Anything).
		Return(adapter.PublishResult{Success: true, PublishedURL: "https://tiktok.com/@user/video/1", ExternalID: "1"})

	yt.On("Upload", mock.Anything, mp4Bytes, "clip.mp4", mock.Anything).Return(uploadFails("connection reset", adapter.FailureTransient)).Once()
	yt.On("Upload", mock.Anything, mp4Bytes, "clip.mp4", mock.Anything).Return(adapter.UploadResult{Success: true, JobID: "abc"})
	yt.On("Publish", mock.Anything, "abc", mock.Anything).
		Return(adapter.PublishResult{Success: true, PublishedURL: "https://youtube.com/shorts/abc", ExternalID: "abc"})

	start := f.clock.Now()
	f.pass(t)

	job1 := f.jobs.get(tiktokJob)
	assert.Equal(t, models.JobStatusPublished, job1.Status)
	require.NotNil(t, job1.PublishedURL)
	assert.Equal(t, "https://tiktok.com/@user/video/1", *job1.PublishedURL)
	assert.Equal(t, 1, job1.Attempts)

	job2 := f.jobs.get(youtubeJob)
	assert.Equal(t, models.JobStatusProcessing, job2.Status)
	assert.Equal(t, 1, job2.Attempts)
	assert.Equal(t, "connection reset", *job2.ErrorMessage)
	assert.Equal(t, start.Add(2*time.Minute), *job2.NextAttemptAt)

	// still inside the backoff window
	f.clock.Advance(time.Minute)
	f.pass(t)
	assert.Equal(t, 1, f.jobs.get(youtubeJob).Attempts)

	f.clock.Advance(time.Minute)
	f.pass(t)

	job2 = f.jobs.get(youtubeJob)
	assert.Equal(t, models.JobStatusPublished, job2.Status)
	assert.Equal(t, 2, job2.Attempts)
	assert.Nil(t, job2.ErrorMessage)
	assert.Equal(t, "abc", job2.ExternalRef())

	tt.AssertExpectations(t)
	yt.AssertExpectations(t)

	failed, ok := f.events.last(EventAttemptFailed)
	require.True(t, ok)
	assert.Equal(t, 1, failed.Attempt)
	assert.Equal(t, 2*time.Minute, failed.Delay)
}

func TestProcessJobWaitsForSchedule(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "instagram", false)
	schedule := f.clock.Now().Add(time.Hour)
	id := f.createJob(t, "instagram", adapter.PublishOptions{Title: "Later", ScheduleAt: &schedule})

	a.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(adapter.UploadResult{Success: true, JobID: "c1"})
	a.On("Publish", mock.Anything, "c1", mock.MatchedBy(func(opts adapter.PublishOptions) bool { return opts.ScheduleAt == nil })).
		Return(adapter.PublishResult{Success: true, PublishedURL: "https://instagram.com/reel/m1"})

	f.pass(t)
	assert.Equal(t, models.JobStatusQueued, f.jobs.get(id).Status)

	ok, err := f.svc.ProcessJob(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.JobStatusQueued, f.jobs.get(id).Status)
	a.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	f.clock.Advance(61 * time.Minute)
	f.pass(t)
	job := f.jobs.get(id)
	assert.Equal(t, models.JobStatusPublished, job.Status)
	require.NotNil(t, job.ScheduleAt)
	assert.True(t, schedule.Equal(*job.ScheduleAt))
	a.AssertExpectations(t)
}

func TestProcessJobExhaustsAttempts(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "tiktok", false)
	id := f.createJob(t, "tiktok", adapter.PublishOptions{Title: "Clip"})

	a.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(uploadFails("timeout 1", adapter.FailureTransient)).Once()
	a.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(uploadFails("timeout 2", adapter.FailureTransient)).Once()
	a.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(uploadFails("rate limited", adapter.FailureTransient)).Once()

	f.pass(t)
	f.clock.Advance(Backoff(1))
	f.pass(t)
	f.clock.Advance(Backoff(2))
	f.pass(t)

	job := f.jobs.get(id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, "rate limited", *job.ErrorMessage)
	a.AssertNumberOfCalls(t, "Upload", 3)

	f.clock.Advance(time.Hour)
	f.pass(t)
	a.AssertNumberOfCalls(t, "Upload", 3)

	failed, ok := f.events.last(EventJobFailed)
	require.True(t, ok)
	assert.Equal(t, 3, failed.Attempt)
}

func TestCancelQueuedJob(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "youtube", false)
	id := f.createJob(t, "youtube", adapter.PublishOptions{Title: "Clip"})

	ok, err := f.svc.CancelJob(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.JobStatusCancelled, f.jobs.get(id).Status)

	pending, err := f.svc.GetPendingJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	ok, err = f.svc.ProcessJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	a.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	ok, err = f.svc.CancelJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelProcessingJobCancelsOnPlatform(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "youtube", false)
	id := f.createJob(t, "youtube", adapter.PublishOptions{Title: "Clip"})

	externalID := "abc"
	f.jobs.jobs[id].Status = models.JobStatusProcessing
	f.jobs.jobs[id].ExternalID = &externalID

	a.On("Cancel", mock.Anything, "abc").Return(true)

	ok, err := f.svc.CancelJob(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.JobStatusCancelled, f.jobs.get(id).Status)
	a.AssertExpectations(t)
}

func TestCancelPublishedJobIsRejected(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "youtube", false)
	id := f.createJob(t, "youtube", adapter.PublishOptions{Title: "Clip"})
	f.jobs.jobs[id].Status = models.JobStatusPublished

	ok, err := f.svc.CancelJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.JobStatusPublished, f.jobs.get(id).Status)

	ok, err = f.svc.CancelJob(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessJobPermanentFailure(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "tiktok", false)
	id := f.createJob(t, "tiktok", adapter.PublishOptions{Title: "Clip"})

	a.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(uploadFails("tiktok: invalid params (invalid_params)", adapter.FailurePermanent))

	ok, err := f.svc.ProcessJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	job := f.jobs.get(id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "tiktok: invalid params (invalid_params)", *job.ErrorMessage)
}

func TestProcessJobPublishFailureRetries(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "instagram", false)
	id := f.createJob(t, "instagram", adapter.PublishOptions{Title: "Clip"})

	a.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(adapter.UploadResult{Success: true, JobID: "c1"})
	a.On("Publish", mock.Anything, "c1", mock.Anything).
		Return(adapter.PublishResult{Error: "container still processing", Failure: adapter.FailureTransient})

	ok, err := f.svc.ProcessJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	job := f.jobs.get(id)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, "c1", job.ExternalRef())
	assert.Equal(t, "container still processing", *job.ErrorMessage)

	// a second call inside the backoff window is a no-op
	ok, err = f.svc.ProcessJob(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.jobs.get(id).Attempts)
}

// TikTok starts the post on init, so a retry must poll the earlier publish_id
// instead of initialising a second post.
func TestProcessJobResumesTiktokPostOnRetry(t *testing.T) {
	var inits, puts int32
	var complete atomic.Bool
	var srv *httptest.Server

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/post/publish/video/init/", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inits, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]string{"publish_id": fmt.Sprintf("p%d", n), "upload_url": srv.URL + "/upload"},
		})
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&puts, 1)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/v2/post/publish/status/fetch/", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "p1", req["publish_id"])

		status := "PROCESSING_UPLOAD"
		if complete.Load() {
			status = "PUBLISH_COMPLETE"
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"status": status, "publicaly_available_post_id": []int64{7312}},
		})
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	f := newFixture(t)
	f.connect(t, "tiktok", false)
	f.factory.adapters["tiktok"] = adapter.NewTiktokAdapter(adapter.Credentials{AccessToken: "access-tiktok"}, adapter.Options{
		HTTPClient:   srv.Client(),
		BaseURL:      srv.URL,
		Timeout:      5 * time.Second,
		PollInterval: time.Millisecond,
		PollAttempts: 2,
	})
	id := f.createJob(t, "tiktok", adapter.PublishOptions{Title: "Clip"})

	f.pass(t)
	job := f.jobs.get(id)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "p1", job.ExternalRef())

	f.clock.Advance(3 * time.Minute)
	f.pass(t)
	job = f.jobs.get(id)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, "p1", job.ExternalRef())

	complete.Store(true)
	f.clock.Advance(5 * time.Minute)
	f.pass(t)
	job = f.jobs.get(id)
	assert.Equal(t, models.JobStatusPublished, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, "7312", job.ExternalRef())
	require.NotNil(t, job.PublishedURL)
	assert.Equal(t, "https://tiktok.com/@user/video/7312", *job.PublishedURL)

	assert.Equal(t, int32(1), atomic.LoadInt32(&inits))
	assert.Equal(t, int32(1), atomic.LoadInt32(&puts))
}

func TestProcessJobUploadsAgainWhenEarlierUploadRejected(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "instagram", false)
	id := f.createJob(t, "instagram", adapter.PublishOptions{Title: "Clip"})

	old := "c-old"
	f.jobs.jobs[id].Status = models.JobStatusProcessing
	f.jobs.jobs[id].Attempts = 1
	f.jobs.jobs[id].ExternalID = &old

	a.On("Publish", mock.Anything, "c-old", mock.Anything).
		Return(adapter.PublishResult{Error: "instagram: container processing failed (EXPIRED)", Failure: adapter.FailurePermanent}).Once()
	a.On("Upload", mock.Anything, mp4Bytes, "clip.mp4", mock.Anything).Return(adapter.UploadResult{Success: true, JobID: "c-new"}).Once()
	a.On("Publish", mock.Anything, "c-new", mock.Anything).
		Return(adapter.PublishResult{Success: true, ExternalID: "m1", PublishedURL: "https://instagram.com/reel/m1"}).Once()

	ok, err := f.svc.ProcessJob(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	job := f.jobs.get(id)
	assert.Equal(t, models.JobStatusPublished, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, "m1", job.ExternalRef())
	a.AssertExpectations(t)
}

func TestProcessJobResumedPublishFailureKeepsUpload(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "youtube", false)
	id := f.createJob(t, "youtube", adapter.PublishOptions{Title: "Clip"})

	old := "abc"
	f.jobs.jobs[id].Status = models.JobStatusProcessing
	f.jobs.jobs[id].Attempts = 1
	f.jobs.jobs[id].ExternalID = &old

	a.On("Publish", mock.Anything, "abc", mock.Anything).
		Return(adapter.PublishResult{Error: "youtube: backend error", Failure: adapter.FailureTransient})

	ok, err := f.svc.ProcessJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	job := f.jobs.get(id)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, "abc", job.ExternalRef())
	assert.Equal(t, f.clock.Now().Add(Backoff(2)), *job.NextAttemptAt)
	a.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessJobNotConnected(t *testing.T) {
	f := newFixture(t)
	id := f.createJob(t, "instagram", adapter.PublishOptions{Title: "Clip"})

	ok, err := f.svc.ProcessJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	job := f.jobs.get(id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "platform not connected", *job.ErrorMessage)
	assert.Equal(t, 0, job.Attempts)
}

func TestProcessJobMissingMedia(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "tiktok", false)
	id := f.createJob(t, "tiktok", adapter.PublishOptions{Title: "Clip"})
	delete(f.media.objects, "videos/clip.mp4")

	ok, err := f.svc.ProcessJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "source media not found", *f.jobs.get(id).ErrorMessage)
}

func TestProcessJobRejectsNonVideoMedia(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "tiktok", false)
	id := f.createJob(t, "tiktok", adapter.PublishOptions{Title: "Clip"})
	f.media.objects["videos/clip.mp4"] = []byte("definitely not a video")

	ok, err := f.svc.ProcessJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	job := f.jobs.get(id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "unsupported media type", *job.ErrorMessage)
}

func TestProcessJobRefreshesExpiredToken(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "tiktok", true)
	id := f.createJob(t, "tiktok", adapter.PublishOptions{Title: "Clip"})

	expires := f.clock.Now().Add(24 * time.Hour)
	a.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(uploadFails("access_token_invalid", adapter.FailureAuth)).Once()
	a.On("RefreshAccessToken", mock.Anything).Return(&adapter.Credentials{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresAt: &expires})
	a.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(adapter.UploadResult{Success: true, JobID: "v1"})
	a.On("Publish", mock.Anything, "v1", mock.Anything).Return(adapter.PublishResult{Success: true, PublishedURL: "https://tiktok.com/@user/video/v1"})

	ok, err := f.svc.ProcessJob(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	job := f.jobs.get(id)
	assert.Equal(t, models.JobStatusPublished, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "v1", job.ExternalRef())

	assert.Equal(t, 1, f.conns.setTokens)
	stored := f.conns.connections[connKey(testUserID, "tiktok")]
	accessToken, err := utils.Decrypt(stored.AccessToken, testKey)
	require.NoError(t, err)
	assert.Equal(t, "new-access", accessToken)
	assert.Equal(t, expires, *stored.TokenExpiresAt)
	assert.Equal(t, "new-access", f.factory.lastCreds().AccessToken)
}

func TestProcessJobExpiredConnection(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "youtube", false)
	id := f.createJob(t, "youtube", adapter.PublishOptions{Title: "Clip"})

	a.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(uploadFails("unauthorized", adapter.FailureAuth))
	a.On("RefreshAccessToken", mock.Anything).Return(nil)

	ok, err := f.svc.ProcessJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	job := f.jobs.get(id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "platform connection expired", *job.ErrorMessage)
	a.AssertNumberOfCalls(t, "Upload", 1)
}

func TestProcessJobRecoversFromPanic(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "tiktok", false)
	id := f.createJob(t, "tiktok", adapter.PublishOptions{Title: "Clip"})

	a.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { panic("boom") }).
		Return(adapter.UploadResult{})

	ok, err := f.svc.ProcessJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	job := f.jobs.get(id)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "internal error: boom", *job.ErrorMessage)
	assert.Equal(t, f.clock.Now().Add(2*time.Minute), *job.NextAttemptAt)
}

func TestProcessJobLateCompletionKeepsCancellation(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "youtube", false)
	id := f.createJob(t, "youtube", adapter.PublishOptions{Title: "Clip"})

	a.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(adapter.UploadResult{Success: true, JobID: "abc"})
	a.On("Cancel", mock.Anything, "abc").Return(true)
	a.On("Publish", mock.Anything, "abc", mock.Anything).
		Run(func(args mock.Arguments) {
			cancelled, err := f.svc.CancelJob(ctx, id)
			assert.NoError(t, err)
			assert.True(t, cancelled)
		}).
		Return(adapter.PublishResult{Success: true, PublishedURL: "https://youtube.com/shorts/abc"})

	ok, err := f.svc.ProcessJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	job := f.jobs.get(id)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.Nil(t, job.PublishedURL)
	_, published := f.events.last(EventJobPublished)
	assert.False(t, published)
}

func TestProcessJobLostClaim(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "tiktok", false)
	id := f.createJob(t, "tiktok", adapter.PublishOptions{Title: "Clip"})
	f.jobs.loseNext = true

	ok, err := f.svc.ProcessJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.JobStatusQueued, f.jobs.get(id).Status)
	a.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessJobTerminalAndUnknown(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "tiktok", false)
	published := f.createJob(t, "tiktok", adapter.PublishOptions{Title: "Clip"})
	failed := f.createJob(t, "tiktok", adapter.PublishOptions{Title: "Clip"})
	f.jobs.jobs[published].Status = models.JobStatusPublished
	f.jobs.jobs[failed].Status = models.JobStatusFailed

	ok, err := f.svc.ProcessJob(ctx, published)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.ProcessJob(ctx, failed)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.ProcessJob(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessJobCrashedAfterLastAttempt(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "tiktok", false)
	id := f.createJob(t, "tiktok", adapter.PublishOptions{Title: "Clip"})

	reason := "connection reset"
	f.jobs.jobs[id].Status = models.JobStatusProcessing
	f.jobs.jobs[id].Attempts = 3
	f.jobs.jobs[id].ErrorMessage = &reason

	ok, err := f.svc.ProcessJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	job := f.jobs.get(id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "connection reset", *job.ErrorMessage)
}

func TestGetUserJobsValidatesStatus(t *testing.T) {
	f := newFixture(t)
	f.createJob(t, "tiktok", adapter.PublishOptions{Title: "Clip"})

	_, err := f.svc.GetUserJobs(ctx, testUserID, "scheduled")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	jobs, err := f.svc.GetUserJobs(ctx, testUserID, "queued")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = f.svc.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestReconcileJob(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "youtube", false)
	queued := f.createJob(t, "youtube", adapter.PublishOptions{Title: "Clip"})
	uploaded := f.createJob(t, "youtube", adapter.PublishOptions{Title: "Clip"})

	externalID := "abc"
	f.jobs.jobs[uploaded].Status = models.JobStatusProcessing
	f.jobs.jobs[uploaded].ExternalID = &externalID
	a.On("GetStatus", mock.Anything, "abc").Return(adapter.JobStatus{Status: adapter.StatusProcessing, Progress: 40})

	status, err := f.svc.ReconcileJob(ctx, queued)
	require.NoError(t, err)
	assert.Equal(t, adapter.JobStatus{Status: models.JobStatusQueued}, status)

	status, err = f.svc.ReconcileJob(ctx, uploaded)
	require.NoError(t, err)
	assert.Equal(t, 40, status.Progress)

	_, err = f.svc.ReconcileJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRefreshConnectionLosesRace(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "instagram", true)
	a.On("RefreshAccessToken", mock.Anything).Return(&adapter.Credentials{AccessToken: "mine"})

	stale, err := f.conns.GetByUserAndPlatform(ctx, testUserID, "instagram")
	require.NoError(t, err)
	f.conns.connections[connKey(testUserID, "instagram")].AccessToken = seal(t, "theirs")

	require.NoError(t, f.svc.RefreshConnection(ctx, stale))
	assert.Equal(t, 0, f.conns.setTokens)

	accessToken, err := utils.Decrypt(stale.AccessToken, testKey)
	require.NoError(t, err)
	assert.Equal(t, "theirs", accessToken)
}

func TestRefreshConnectionUnavailable(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "tiktok", false)
	a.On("RefreshAccessToken", mock.Anything).Return(nil)

	conn, err := f.conns.GetByUserAndPlatform(ctx, testUserID, "tiktok")
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.RefreshConnection(ctx, conn), ErrRefreshUnavailable)
}
