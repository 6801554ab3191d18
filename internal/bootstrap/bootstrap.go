package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/conversation-archive/internal/config"
	"github.com/kirillkom/conversation-archive/internal/core/domain"
	"github.com/kirillkom/conversation-archive/internal/core/ports"
	"github.com/kirillkom/conversation-archive/internal/core/usecase"
	"github.com/kirillkom/conversation-archive/internal/infrastructure/embedding/ollama"
	natsqueue "github.com/kirillkom/conversation-archive/internal/infrastructure/queue/nats"
	"github.com/kirillkom/conversation-archive/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/conversation-archive/internal/infrastructure/resilience"
	"github.com/kirillkom/conversation-archive/internal/observability/metrics"
)

type App struct {
	Config config.Config

	DB    *sql.DB
	Queue *natsqueue.Queue

	Messages ports.MessageStore
	Jobs     ports.JobStore

	WriteUC    ports.MessageWriter
	IndexUC    ports.JobProcessor
	SearchUC   ports.Searcher
	RetrieveUC ports.ContextRetriever

	SearchMetrics *metrics.SearchMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db, cfg.EmbedDimension); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init wake queue: %w", err)
	}

	embedder := ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel, ollama.Options{
		Timeout:            time.Duration(cfg.EmbedTimeoutSec) * time.Second,
		RequestsPerSecond:  cfg.EmbedRPS,
		Burst:              cfg.EmbedBurst,
		ResilienceExecutor: executor,
	})

	messages := postgres.NewMessageRepository(db, cfg.OllamaEmbedModel)
	jobs := postgres.NewJobRepository(db, postgres.JobRepositoryOptions{
		BackoffBase: time.Duration(cfg.JobBackoffBaseSec) * time.Second,
		BackoffMax:  time.Duration(cfg.JobBackoffMaxSec) * time.Second,
		Lease:       time.Duration(cfg.JobLeaseSec) * time.Second,
	})
	embeddings := postgres.NewEmbeddingRepository(db)
	searchIndex := postgres.NewSearchRepository(db, cfg.OllamaEmbedModel)

	weights, err := domain.NewFusionWeights(cfg.SearchLexicalWeight, cfg.SearchVectorWeight)
	if err != nil {
		return nil, fmt.Errorf("fusion weights: %w", err)
	}

	writeUC := usecase.NewWriteMessageUseCase(messages, queue)
	indexUC := usecase.NewIndexMessageUseCase(messages, embeddings, embedder)
	searchUC, err := usecase.NewSearchUseCase(searchIndex, embedder, weights, cfg.OllamaEmbedModel, cfg.SearchHybridCandidates)
	if err != nil {
		return nil, fmt.Errorf("search use case: %w", err)
	}
	searchMetrics := metrics.NewSearchMetrics("archive")
	instrumentedSearch := metrics.NewInstrumentedSearcher(searchUC, searchMetrics, "archive")

	retrieveUC, err := usecase.NewContextRetrieveUseCase(searchUC, messages, usecase.RetrievalConfig{
		OverfetchFactor: cfg.RetrieveOverfetchFactor,
		MaxSpan:         cfg.RetrieveMaxSpan,
		StepDecay:       cfg.RetrieveStepDecay,
		StepTimeGap:     time.Duration(cfg.RetrieveStepTimeGapSec) * time.Second,
		DecayThreshold:  cfg.RetrieveDecayThreshold,
		RoleBias:        cfg.RetrieveRoleBias,
		ProximityWeight: cfg.RetrieveProximityWeight,
		RecencyWeight:   cfg.RetrieveRecencyWeight,
		RecencyHalfLife: time.Duration(cfg.RetrieveRecencyHalfLifeHrs) * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve use case: %w", err)
	}

	return &App{
		Config: cfg,

		DB:    db,
		Queue: queue,

		Messages: messages,
		Jobs:     jobs,

		WriteUC:    writeUC,
		IndexUC:    indexUC,
		SearchUC:   instrumentedSearch,
		RetrieveUC: metrics.NewInstrumentedRetriever(retrieveUC, searchMetrics, "archive"),

		SearchMetrics: searchMetrics,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
