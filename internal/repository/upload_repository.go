package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/Matheus2505060/multpost-ai/internal/models"
	"github.com/jmoiron/sqlx"
)

type UploadRepository interface {
	GetByID(ctx context.Context, id string) (*models.Upload, error)
}

type uploadRepository struct {
	db *sqlx.DB
}

func NewUploadRepository(db *sqlx.DB) UploadRepository {
	return &uploadRepository{db: db}
}

func (r *uploadRepository) GetByID(ctx context.Context, id string) (*models.Upload, error) {
	var upload models.Upload
	err := r.db.GetContext(ctx, &upload, `SELECT * FROM uploads WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return &upload, nil
}
