package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Matheus2505060/multpost-ai/internal/adapter"
	"github.com/Matheus2505060/multpost-ai/internal/models"
	"github.com/Matheus2505060/multpost-ai/internal/repository"
	"github.com/Matheus2505060/multpost-ai/pkg/utils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testKey  = []byte("0123456789abcdef0123456789abcdef")
	mp4Bytes = []byte("\x00\x00\x00\x20ftypisom\x00\x00\x02\x00isomiso2avc1mp41\x00\x00\x00\x08free")
)

// memJobRepo keeps jobs in memory with the same guarded transitions as the SQL repository.
type memJobRepo struct {
	mu       sync.Mutex
	jobs     map[string]*models.Job
	failOn   map[string]bool
	loseNext bool
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[string]*models.Job{}, failOn: map[string]bool{}}
}

func (r *memJobRepo) Create(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn[job.Platform] {
		return errors.New("insert failed")
	}
	stored := *job
	r.jobs[job.ID] = &stored
	return nil
}

func (r *memJobRepo) GetByID(ctx context.Context, id string) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

func (r *memJobRepo) get(id string) *models.Job {
	job, _ := r.GetByID(context.Background(), id)
	return job
}

func due(job *models.Job, now time.Time) bool {
	if job.IsTerminal() {
		return false
	}
	if job.ScheduleAt != nil && job.ScheduleAt.After(now) {
		return false
	}
	return job.NextAttemptAt == nil || !job.NextAttemptAt.After(now)
}

func (r *memJobRepo) ListPending(ctx context.Context, now time.Time) ([]*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := []*models.Job{}
	for _, job := range r.jobs {
		if due(job, now) {
			copied := *job
			jobs = append(jobs, &copied)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func (r *memJobRepo) ListByUserID(ctx context.Context, userID int64, status string) ([]*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := []*models.Job{}
	for _, job := range r.jobs {
		if job.UserID == userID && (status == "" || job.Status == status) {
			copied := *job
			jobs = append(jobs, &copied)
		}
	}
	return jobs, nil
}

func (r *memJobRepo) Claim(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || !due(job, now) || r.loseNext {
		r.loseNext = false
		return false, nil
	}
	job.Status = models.JobStatusProcessing
	job.NextAttemptAt = &leaseUntil
	return true, nil
}

func (r *memJobRepo) BeginAttempt(ctx context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != models.JobStatusProcessing || job.Attempts >= job.MaxAttempts {
		return 0, nil
	}
	job.Attempts++
	return job.Attempts, nil
}

func (r *memJobRepo) guarded(id string, apply func(job *models.Job)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.IsTerminal() {
		return false, nil
	}
	apply(job)
	return true, nil
}

func (r *memJobRepo) RecordExternalID(ctx context.Context, id, externalID string) (bool, error) {
	return r.guarded(id, func(job *models.Job) { job.ExternalID = &externalID })
}

func (r *memJobRepo) MarkPublished(ctx context.Context, id, publishedURL, externalID string) (bool, error) {
	return r.guarded(id, func(job *models.Job) {
		job.Status = models.JobStatusPublished
		job.PublishedURL = &publishedURL
		if externalID != "" {
			job.ExternalID = &externalID
		}
		job.ErrorMessage = nil
		job.NextAttemptAt = nil
	})
}

func (r *memJobRepo) ScheduleRetry(ctx context.Context, id string, nextAttemptAt time.Time, errorMessage string) (bool, error) {
	return r.guarded(id, func(job *models.Job) {
		job.Status = models.JobStatusProcessing
		job.NextAttemptAt = &nextAttemptAt
		job.ErrorMessage = &errorMessage
	})
}

func (r *memJobRepo) MarkFailed(ctx context.Context, id, errorMessage string) (bool, error) {
	return r.guarded(id, func(job *models.Job) {
		job.Status = models.JobStatusFailed
		job.ErrorMessage = &errorMessage
		job.NextAttemptAt = nil
	})
}

func (r *memJobRepo) MarkCancelled(ctx context.Context, id string) (bool, error) {
	return r.guarded(id, func(job *models.Job) {
		job.Status = models.JobStatusCancelled
		job.NextAttemptAt = nil
	})
}

type memConnRepo struct {
	mu          sync.Mutex
	connections map[string]*models.Connection
	setTokens   int
}

func connKey(userID int64, platform string) string {
	return fmt.Sprintf("%d:%s", userID, platform)
}

func (r *memConnRepo) GetByUserAndPlatform(ctx context.Context, userID int64, platform string) (*models.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.connections[connKey(userID, platform)]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (r *memConnRepo) ListByUserID(ctx context.Context, userID int64) ([]*models.Connection, error) {
	return nil, nil
}

func (r *memConnRepo) ListByTimeInterval(ctx context.Context, initialTime, finalTime time.Time) ([]*models.Connection, error) {
	return nil, nil
}

func (r *memConnRepo) SetToken(ctx context.Context, id int64, oldAccessToken string, c *models.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.connections {
		if stored.ID == id && stored.AccessToken == oldAccessToken {
			stored.AccessToken = c.AccessToken
			if c.RefreshToken != "" {
				stored.RefreshToken = c.RefreshToken
			}
			if c.TokenExpiresAt != nil {
				stored.TokenExpiresAt = c.TokenExpiresAt
			}
			r.setTokens++
			return nil
		}
	}
	return repository.ErrTokenConflict
}

type memUploadRepo struct {
	uploads map[string]*models.Upload
}

func (r *memUploadRepo) GetByID(ctx context.Context, id string) (*models.Upload, error) {
	return r.uploads[id], nil
}

type memMedia struct {
	objects map[string][]byte
}

func (m *memMedia) Read(ctx context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrMediaNotFound
	}
	return data, nil
}

type stubFactory struct {
	mu       sync.Mutex
	adapters map[string]adapter.Adapter
	creds    []adapter.Credentials
}

func (f *stubFactory) New(platform string, creds adapter.Credentials) (adapter.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds = append(f.creds, creds)
	a, ok := f.adapters[platform]
	if !ok {
		return nil, adapter.ErrUnsupportedPlatform
	}
	return a, nil
}

func (f *stubFactory) lastCreds() adapter.Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds[len(f.creds)-1]
}

type mockAdapter struct {
	mock.Mock
	platform string
}

func (m *mockAdapter) Platform() string { return m.platform }

func (m *mockAdapter) Validate(meta adapter.VideoMetadata, opts adapter.PublishOptions) adapter.ValidationResult {
	args := m.Called(meta, opts)
	return args.Get(0).(adapter.ValidationResult)
}

func (m *mockAdapter) Upload(ctx context.Context, data []byte, filename string, opts adapter.PublishOptions) adapter.UploadResult {
	args := m.Called(ctx, data, filename, opts)
	return args.Get(0).(adapter.UploadResult)
}

func (m *mockAdapter) Publish(ctx context.Context, uploadID string, opts adapter.PublishOptions) adapter.PublishResult {
	args := m.Called(ctx, uploadID, opts)
	return args.Get(0).(adapter.PublishResult)
}

func (m *mockAdapter) GetStatus(ctx context.Context, jobID string) adapter.JobStatus {
	args := m.Called(ctx, jobID)
	return args.Get(0).(adapter.JobStatus)
}

func (m *mockAdapter) Cancel(ctx context.Context, jobID string) bool {
	args := m.Called(ctx, jobID)
	return args.Bool(0)
}

func (m *mockAdapter) RefreshAccessToken(ctx context.Context) *adapter.Credentials {
	args := m.Called(ctx)
	creds, _ := args.Get(0).(*adapter.Credentials)
	return creds
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingEmitter) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

func (r *recordingEmitter) last(t EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return Event{}, false
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

const (
	testUserID   = int64(7)
	testUploadID = "4b1d6c2e-6a3f-4f0e-9d43-0a7c2b1e9f10"
)

type fixture struct {
	svc     *publisherService
	jobs    *memJobRepo
	conns   *memConnRepo
	media   *memMedia
	factory *stubFactory
	events  *recordingEmitter
	clock   *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		jobs:    newMemJobRepo(),
		conns:   &memConnRepo{connections: map[string]*models.Connection{}},
		media:   &memMedia{objects: map[string][]byte{"videos/clip.mp4": mp4Bytes}},
		factory: &stubFactory{adapters: map[string]adapter.Adapter{}},
		events:  &recordingEmitter{},
		clock:   &testClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	uploads := &memUploadRepo{uploads: map[string]*models.Upload{
		testUploadID: {
			ID:         testUploadID,
			UserID:     testUserID,
			FileName:   "clip.mp4",
			StorageKey: "videos/clip.mp4",
			Duration:   30,
			Width:      1080,
			Height:     1920,
			SizeBytes:  int64(len(mp4Bytes)),
		},
	}}

	svc := NewPublisherService(
		PublisherConfig{SecretKey: testKey, MaxAttempts: 3, JobLease: 15 * time.Minute},
		f.jobs, f.conns, uploads, f.media, f.factory, f.events,
	).(*publisherService)
	svc.now = f.clock.Now
	f.svc = svc
	return f
}

func seal(t *testing.T, plaintext string) string {
	t.Helper()
	sealed, err := utils.Encrypt([]byte(plaintext), testKey)
	require.NoError(t, err)
	return sealed
}

// connect links platform for the test user and registers its adapter.
func (f *fixture) connect(t *testing.T, platform string, withRefresh bool) *mockAdapter {
	t.Helper()
	conn := &models.Connection{
		ID:          int64(len(f.conns.connections) + 1),
		UserID:      testUserID,
		Platform:    platform,
		AccountID:   "acct-" + platform,
		AccessToken: seal(t, "access-"+platform),
	}
	if withRefresh {
		conn.RefreshToken = seal(t, "refresh-"+platform)
	}
	f.conns.connections[connKey(testUserID, platform)] = conn

	a := &mockAdapter{platform: platform}
	f.factory.adapters[platform] = a
	return a
}

func (f *fixture) createJob(t *testing.T, platform string, opts adapter.PublishOptions) string {
	t.Helper()
	ids, err := f.svc.CreatePublishJobs(context.Background(), testUserID, testUploadID, []string{platform}, opts)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	f.clock.Advance(time.Millisecond)
	return ids[0]
}

// pass processes every due job once, the way one worker pass would.
func (f *fixture) pass(t *testing.T) {
	t.Helper()
	jobs, err := f.svc.GetPendingJobs(context.Background())
	require.NoError(t, err)
	for _, job := range jobs {
		_, err := f.svc.ProcessJob(context.Background(), job.ID)
		require.NoError(t, err)
	}
}
