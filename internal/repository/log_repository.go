package repository

import (
	"context"
	"log/slog"

	"github.com/Matheus2505060/multpost-ai/internal/models"
	"github.com/jmoiron/sqlx"
)

type LogRepository interface {
	Create(ctx context.Context, entry *models.LogEntry) (int64, error)
	ListByJobID(ctx context.Context, jobID string) ([]*models.LogEntry, error)
}

type logRepository struct {
	db *sqlx.DB
}

func NewLogRepository(db *sqlx.DB) LogRepository {
	return &logRepository{db: db}
}

func (r *logRepository) Create(ctx context.Context, entry *models.LogEntry) (int64, error) {
	query := `
		INSERT INTO logs (job_id, user_id, level, message, meta)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	meta := entry.Meta
	if len(meta) == 0 {
		meta = []byte("{}")
	}

	var id int64
	err := r.db.QueryRowxContext(ctx, query, entry.JobID, entry.UserID, entry.Level, entry.Message, []byte(meta)).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return id, nil
}

func (r *logRepository) ListByJobID(ctx context.Context, jobID string) ([]*models.LogEntry, error) {
	entries := []*models.LogEntry{}
	err := r.db.SelectContext(ctx, &entries, `SELECT * FROM logs WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return entries, nil
}
