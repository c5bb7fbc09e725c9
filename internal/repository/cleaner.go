package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpiredDeleter removes entries that expired before now.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// StartExpiryCleaner sweeps expired entries from repo every interval until
// ctx is done.
func StartExpiryCleaner(
	ctx context.Context,
	repo ExpiredDeleter,
	interval time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				removed, err := repo.DeleteExpired(ctx, now)
				if err != nil {
					log.Error("failed to clean expired codes", zap.Error(err))
					continue
				}
				if removed > 0 {
					log.Info("cleaned expired codes", zap.Int("removed", removed))
				}
			}
		}
	}()
}
