package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Matheus2505060/multpost-ai/internal/models"
)

type ConnectionLister interface {
	ListByTimeInterval(ctx context.Context, initialTime, finalTime time.Time) ([]*models.Connection, error)
}

type ConnectionRefresher interface {
	RefreshConnection(ctx context.Context, conn *models.Connection) error
}

// TokenRefreshJob refreshes connections whose access token expires within the window.
type TokenRefreshJob struct {
	cl     ConnectionLister
	cr     ConnectionRefresher
	window time.Duration
	now    func() time.Time
}

func NewTokenRefreshJob(cl ConnectionLister, cr ConnectionRefresher) *TokenRefreshJob {
	return &TokenRefreshJob{
		cl:     cl,
		cr:     cr,
		window: 30 * time.Minute,
		now:    time.Now,
	}
}

func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	currentTime := c.now()
	expiryLimit := currentTime.Add(c.window)

	connections, err := c.cl.ListByTimeInterval(ctx, currentTime, expiryLimit)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, conn := range connections {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(conn *models.Connection) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := c.cr.RefreshConnection(ctx, conn); err != nil {
				slog.Info("unable to refresh connection tokens", "connection_id", conn.ID, "platform", conn.Platform, "error", err)
			}
		}(conn)
	}

	wg.Wait()
}
