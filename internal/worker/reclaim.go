package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/conversation-archive/internal/core/ports"
	"github.com/kirillkom/conversation-archive/internal/observability/metrics"
)

// Reclaimer periodically returns claimed-but-never-resolved jobs (a worker
// died holding the lease) to pending, keeping the queue live.
type Reclaimer struct {
	jobs     ports.JobStore
	metrics  *metrics.WorkerMetrics
	logger   *slog.Logger
	interval time.Duration
}

func NewReclaimer(jobs ports.JobStore, workerMetrics *metrics.WorkerMetrics, logger *slog.Logger, interval time.Duration) *Reclaimer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reclaimer{
		jobs:     jobs,
		metrics:  workerMetrics,
		logger:   logger,
		interval: interval,
	}
}

func (r *Reclaimer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			count, err := r.jobs.ReclaimExpired(ctx)
			if err != nil {
				r.logger.Warn("reclaim pass failed", "error", err)
				continue
			}
			if count > 0 {
				r.metrics.AddReclaimed(count)
				r.logger.Info("reclaimed expired jobs", "count", count)
			}
		}
	}
}
