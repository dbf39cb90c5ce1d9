package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/Matheus2505060/multpost-ai/internal/models"
	"github.com/jmoiron/sqlx"
)

// Every mutation below is guarded by this predicate so terminal rows are never rewritten.
const nonTerminal = `status IN ('queued', 'processing')`

type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	ListPending(ctx context.Context, now time.Time) ([]*models.Job, error)
	ListByUserID(ctx context.Context, userID int64, status string) ([]*models.Job, error)
	Claim(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error)
	BeginAttempt(ctx context.Context, id string) (int, error)
	RecordExternalID(ctx context.Context, id, externalID string) (bool, error)
	MarkPublished(ctx context.Context, id, publishedURL, externalID string) (bool, error)
	ScheduleRetry(ctx context.Context, id string, nextAttemptAt time.Time, errorMessage string) (bool, error)
	MarkFailed(ctx context.Context, id, errorMessage string) (bool, error)
	MarkCancelled(ctx context.Context, id string) (bool, error)
}

type jobRepository struct {
	db *sqlx.DB
}

func NewJobRepository(db *sqlx.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (
			id,
			user_id,
			upload_id,
			platform,
			title,
			description,
			tags,
			privacy,
			schedule_at,
			status,
			attempts,
			max_attempts,
			created_at,
			updated_at
		)
		VALUES (
			:id, :user_id, :upload_id, :platform, :title, :description, :tags,
			:privacy, :schedule_at, :status, :attempts, :max_attempts, :created_at, :updated_at
		)
	`

	_, err := r.db.NamedExecContext(ctx, query, job)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *jobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := r.db.GetContext(ctx, &job, `SELECT * FROM jobs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) ListPending(ctx context.Context, now time.Time) ([]*models.Job, error) {
	query := `
		SELECT * FROM jobs
		WHERE ` + nonTerminal + `
		AND (schedule_at IS NULL OR schedule_at <= $1)
		AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		ORDER BY created_at ASC
	`

	jobs := []*models.Job{}
	if err := r.db.SelectContext(ctx, &jobs, query, now); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepository) ListByUserID(ctx context.Context, userID int64, status string) ([]*models.Job, error) {
	query := `SELECT * FROM jobs WHERE user_id = $1`
	args := []interface{}{userID}

	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	jobs := []*models.Job{}
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return jobs, nil
}

// Claim moves a due job to processing and holds it until leaseUntil. It reports
// false when another caller got there first or the job is no longer eligible.
func (r *jobRepository) Claim(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'processing', next_attempt_at = $2, updated_at = $3
		WHERE id = $1 AND ` + nonTerminal + `
		AND (schedule_at IS NULL OR schedule_at <= $3)
		AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
	`
	return r.execGuarded(ctx, query, id, leaseUntil, now)
}

// BeginAttempt consumes one attempt and returns the new count, or 0 when the
// job is not processing or has no attempts left.
func (r *jobRepository) BeginAttempt(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE jobs
		SET attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = 'processing' AND attempts < max_attempts
		RETURNING attempts
	`

	var attempts int
	err := r.db.QueryRowxContext(ctx, query, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		slog.Info(err.Error())
		return 0, err
	}
	return attempts, nil
}

func (r *jobRepository) RecordExternalID(ctx context.Context, id, externalID string) (bool, error) {
	query := `
		UPDATE jobs
		SET external_id = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND ` + nonTerminal
	return r.execGuarded(ctx, query, id, externalID)
}

func (r *jobRepository) MarkPublished(ctx context.Context, id, publishedURL, externalID string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'published',
			published_url = $2,
			external_id = COALESCE(NULLIF($3, ''), external_id),
			error_message = NULL,
			next_attempt_at = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND ` + nonTerminal
	return r.execGuarded(ctx, query, id, publishedURL, externalID)
}

func (r *jobRepository) ScheduleRetry(ctx context.Context, id string, nextAttemptAt time.Time, errorMessage string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'processing',
			next_attempt_at = $2,
			error_message = $3,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND ` + nonTerminal
	return r.execGuarded(ctx, query, id, nextAttemptAt, errorMessage)
}

func (r *jobRepository) MarkFailed(ctx context.Context, id, errorMessage string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'failed',
			error_message = $2,
			next_attempt_at = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND ` + nonTerminal
	return r.execGuarded(ctx, query, id, errorMessage)
}

func (r *jobRepository) MarkCancelled(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'cancelled',
			next_attempt_at = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND ` + nonTerminal
	return r.execGuarded(ctx, query, id)
}

func (r *jobRepository) execGuarded(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}
