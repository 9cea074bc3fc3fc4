// Package bootstrap wires configuration, storage, the message queue, the
// AI backends and the ingestion worker into one App the server runs from.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"paperquote/internal/ai"
	appsvc "paperquote/internal/app"
	"paperquote/internal/cache"
	"paperquote/internal/chunker"
	"paperquote/internal/config"
	"paperquote/internal/index"
	"paperquote/internal/model"
	mysqlClient "paperquote/internal/platform/mysql"
	rabbitmqClient "paperquote/internal/platform/rabbitmq"
	redisClient "paperquote/internal/platform/redis"
	"paperquote/internal/repository"
	"paperquote/internal/rerank"
	"paperquote/internal/worker"
)

type App struct {
	Config *config.Config
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	IngestService *appsvc.IngestService
	Pipeline      *appsvc.PipelineService
	IngestWorker  *worker.IngestWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(
		&model.User{},
		&model.Document{},
		&model.Chunk{},
		&model.IngestionJob{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IngestQueue)
	if err != nil {
		return nil, err
	}

	docRepo := repository.NewDocumentRepository(mysqlDB)
	chunkRepo := repository.NewChunkRepository(mysqlDB)
	jobRepo := repository.NewJobRepository(mysqlDB)

	llmClient := ai.NewOpenAICompatibleClient()
	embedder := &ai.BoundEmbedder{
		Client: llmClient,
		Config: ai.EmbeddingConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		},
	}
	generator := &ai.BoundGenerator{
		Client: llmClient,
		Config: ai.ChatConfig{
			BaseURL: cfg.Generator.BaseURL,
			APIKey:  cfg.Generator.APIKey,
			Model:   cfg.Generator.Model,
		},
	}
	scorer := &ai.BoundReranker{
		Client: llmClient,
		Config: ai.RerankConfig{
			BaseURL: cfg.Reranker.BaseURL,
			APIKey:  cfg.Reranker.APIKey,
			Model:   cfg.Reranker.Model,
		},
	}

	vindex := index.New(chunkRepo, embedder, cfg.Embedding.BatchSize)
	crossEncoder := rerank.NewCrossEncoder(scorer, cfg.Reranker.BatchSize)
	answerCache := cache.NewAnswerCache(redisCli, time.Duration(cfg.Redis.AnswerTTLSeconds)*time.Second)

	pipeline := appsvc.NewPipelineService(
		embedder,
		vindex,
		crossEncoder,
		generator,
		answerCache,
		appsvc.PipelineOptions{
			TopKStage1:       cfg.Retrieval.TopKStage1,
			TopKStage2:       cfg.Retrieval.TopKStage2,
			NotFoundSentinel: cfg.Generator.NotFoundSentinel,
			ExtraRules:       cfg.Generator.ExtraRules,
		},
	)

	publisher := rabbitmqClient.NewIngestPublisher(mqConn, cfg.RabbitMQ.IngestQueue)
	ingestService := appsvc.NewIngestService(docRepo, jobRepo, publisher)

	splitter := chunker.New(chunker.Params{
		WindowSize:        cfg.Chunking.WindowSize,
		Overlap:           cfg.Chunking.Overlap,
		SentenceTolerance: cfg.Chunking.SentenceTolerance,
		Detect:            chunker.NewHeadingDetector(cfg.Chunking.Headings),
	})
	ingestWorker := worker.NewIngestWorker(
		mqConn,
		cfg.RabbitMQ.IngestQueue,
		publisher,
		docRepo,
		jobRepo,
		splitter,
		vindex,
		worker.Options{
			MaxAttempts:  cfg.Ingest.MaxAttempts,
			BackoffBase:  time.Duration(cfg.Ingest.BackoffBaseSecond) * time.Second,
			JobTimeout:   time.Duration(cfg.Ingest.JobTimeoutSecond) * time.Second,
			MinTextChars: cfg.Ingest.MinTextChars,
			Concurrency:  cfg.Ingest.Workers,
		},
	)
	if err := ingestWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start ingest worker failed: %w", err)
	}

	return &App{
		Config:        cfg,
		MySQL:         mysqlDB,
		Redis:         redisCli,
		MQConn:        mqConn,
		IngestService: ingestService,
		Pipeline:      pipeline,
		IngestWorker:  ingestWorker,
		StartedAt:     time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
