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

var ErrTokenConflict = errors.New("no rows affected; connection missing or token already rotated")

const connectionColumns = `
	id,
	user_id,
	platform,
	account_id,
	access_token,
	COALESCE(refresh_token, '') AS refresh_token,
	token_expires_at,
	created_at,
	updated_at`

type ConnectionRepository interface {
	GetByUserAndPlatform(ctx context.Context, userID int64, platform string) (*models.Connection, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.Connection, error)
	ListByTimeInterval(ctx context.Context, initialTime, finalTime time.Time) ([]*models.Connection, error)
	SetToken(ctx context.Context, id int64, oldAccessToken string, c *models.Connection) error
}

type connectionRepository struct {
	db *sqlx.DB
}

func NewConnectionRepository(db *sqlx.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

func (r *connectionRepository) GetByUserAndPlatform(ctx context.Context, userID int64, platform string) (*models.Connection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM connections
		WHERE user_id = $1 AND platform = $2
		ORDER BY updated_at DESC
		LIMIT 1`

	var c models.Connection
	err := r.db.GetContext(ctx, &c, query, userID, platform)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return &c, nil
}

func (r *connectionRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE user_id = $1`

	connections := []*models.Connection{}
	if err := r.db.SelectContext(ctx, &connections, query, userID); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return connections, nil
}

// ListByTimeInterval returns connections whose token expires inside the window or already expired.
func (r *connectionRepository) ListByTimeInterval(ctx context.Context, initialTime, finalTime time.Time) ([]*models.Connection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM connections
		WHERE refresh_token IS NOT NULL
		AND ((token_expires_at BETWEEN $1 AND $2) OR (token_expires_at < $1))`

	connections := []*models.Connection{}
	if err := r.db.SelectContext(ctx, &connections, query, initialTime, finalTime); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return connections, nil
}

// SetToken replaces the stored tokens only if the access token is still the one
// the caller refreshed from, so two concurrent refreshes cannot both win.
func (r *connectionRepository) SetToken(ctx context.Context, id int64, oldAccessToken string, c *models.Connection) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer tx.Rollback()

	updateTokenQuery := `
		UPDATE connections
		SET
			access_token = COALESCE(NULLIF($3, ''), access_token),
			refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
			token_expires_at = COALESCE($5, token_expires_at),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND access_token = $2
	`
	result, err := tx.ExecContext(ctx, updateTokenQuery, id, oldAccessToken, c.AccessToken, c.RefreshToken, c.TokenExpiresAt)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected != 1 {
		slog.Info(ErrTokenConflict.Error())
		return ErrTokenConflict
	}

	if err = tx.Commit(); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
