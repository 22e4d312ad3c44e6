package worker

import (
	"context"
	"time"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
	"github.com/ewilliams-labs/cadenza/internal/core/ports"
)

// RunSweeper periodically queues records older than the cache TTL for
// background recompute. It blocks until ctx is cancelled.
func (p *Pool) RunSweeper(ctx context.Context, repo ports.FeatureRepository, interval time.Duration, batch int) {
	if interval <= 0 {
		interval = time.Hour
	}
	if batch <= 0 {
		batch = 50
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-domain.FeatureTTL)
		records, err := repo.Stale(ctx, cutoff, batch)
		if err != nil {
			p.log.Warn("stale sweep failed", "err", err)
			continue
		}
		for _, rec := range records {
			p.Submit(Job{TrackID: rec.TrackID})
		}
		if len(records) > 0 {
			p.log.Info("queued stale records for recompute", "count", len(records))
		}
	}
}
