package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/conversation-archive/internal/core/domain"
	"github.com/kirillkom/conversation-archive/internal/core/ports"
	"github.com/kirillkom/conversation-archive/internal/observability/metrics"
)

type PoolConfig struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	JobTimeout   time.Duration
	MaxAttempts  int
	Kind         string
	Service      string
}

func (c PoolConfig) normalize() PoolConfig {
	out := c
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 8
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 2 * time.Second
	}
	if out.JobTimeout <= 0 {
		out.JobTimeout = 2 * time.Minute
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 5
	}
	if out.Kind == "" {
		out.Kind = domain.JobKindEmbedMessage
	}
	if out.Service == "" {
		out.Service = "indexer"
	}
	return out
}

// Pool runs independent workers that share nothing in memory: all
// coordination happens through the job store's atomic claim. A stop signal
// ends claiming; in-flight jobs run to completion on a detached context
// bounded by their own timeout.
type Pool struct {
	jobs      ports.JobStore
	processor ports.JobProcessor
	metrics   *metrics.WorkerMetrics
	logger    *slog.Logger
	cfg       PoolConfig
	wake      chan struct{}
}

func NewPool(
	jobs ports.JobStore,
	processor ports.JobProcessor,
	workerMetrics *metrics.WorkerMetrics,
	logger *slog.Logger,
	cfg PoolConfig,
) *Pool {
	return &Pool{
		jobs:      jobs,
		processor: processor,
		metrics:   workerMetrics,
		logger:    logger,
		cfg:       cfg.normalize(),
		wake:      make(chan struct{}, 1),
	}
}

// Wake nudges an idle worker to poll immediately. Non-blocking; a pending
// nudge is enough.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := i
		group.Go(func() error {
			p.runWorker(groupCtx, workerID)
			return nil
		})
	}
	return group.Wait()
}

func (p *Pool) runWorker(ctx context.Context, workerID int) {
	logger := p.logger.With("worker", workerID)
	logger.Info("worker started")

	for {
		if ctx.Err() != nil {
			logger.Info("worker stopped")
			return
		}

		jobs, err := p.jobs.ClaimBatch(ctx, p.cfg.Kind, p.cfg.BatchSize)
		if err != nil {
			// Store trouble means nothing claimed this cycle; retry the
			// poll instead of crashing the worker.
			logger.Warn("claim failed", "error", err)
			p.sleep(ctx)
			continue
		}

		if len(jobs) == 0 {
			p.sleep(ctx)
			continue
		}

		for _, job := range jobs {
			p.processJob(ctx, logger, job)
		}
	}
}

func (p *Pool) sleep(ctx context.Context) {
	timer := time.NewTimer(p.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-p.wake:
	}
}

// resolveTimeout bounds the Complete/Fail store calls after processing.
const resolveTimeout = 15 * time.Second

func (p *Pool) processJob(ctx context.Context, logger *slog.Logger, job domain.Job) {
	start := time.Now()
	p.metrics.StartJob()
	p.metrics.ObserveQueueLag(p.cfg.Service, start.Sub(job.CreatedAt))

	// Detached from the shutdown signal so in-flight jobs finish; bounded
	// by the job's own timeout instead.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.JobTimeout)
	err := p.processor.Process(jobCtx, job)
	cancel()

	// The status update runs on its own deadline: when the job itself timed
	// out, jobCtx is already expired and the Fail/Complete write would never
	// reach the store, leaving the job to the lease sweep with its attempt
	// count unchanged.
	resolveCtx, cancelResolve := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
	defer cancelResolve()

	resolution := p.resolve(resolveCtx, logger, job, err)
	p.metrics.FinishJob(p.cfg.Service, resolution, time.Since(start))
}

// resolve maps the processing outcome onto the job's terminal or retry
// state. An error on one job never affects its batch siblings.
func (p *Pool) resolve(ctx context.Context, logger *slog.Logger, job domain.Job, procErr error) string {
	if procErr == nil {
		if err := p.jobs.Complete(ctx, job.ID); err != nil {
			logger.Error("complete job", "job", job.ID, "error", err)
		}
		return "completed"
	}

	permanent := domain.IsKind(procErr, domain.ErrPermanent) || domain.IsKind(procErr, domain.ErrValidation)
	exhausted := job.Attempts+1 >= p.cfg.MaxAttempts
	retry := !permanent && !exhausted

	if err := p.jobs.Fail(ctx, job, procErr.Error(), retry); err != nil {
		logger.Error("fail job", "job", job.ID, "error", err)
	}

	if retry {
		logger.Warn("job retried", "job", job.ID, "attempts", job.Attempts+1, "error", procErr)
		return "retried"
	}
	logger.Error("job failed", "job", job.ID, "attempts", job.Attempts+1, "permanent", permanent, "error", procErr)
	return "failed"
}
