// Package wire 组装应用依赖。
// 存储后端由 store.backend 决定：milvus 使用 Milvus + PostgreSQL + Redis，
// memory 全部在进程内，入库任务也在本进程执行。
package wire

import (
	"context"
	"fmt"

	"timeline-rag-api/internal/application/acquisition"
	"timeline-rag-api/internal/application/agent"
	"timeline-rag-api/internal/application/ingest"
	"timeline-rag-api/internal/application/retrieval"
	"timeline-rag-api/internal/application/timeline"
	"timeline-rag-api/internal/config"
	"timeline-rag-api/internal/domain/repository"
	infraembedding "timeline-rag-api/internal/infrastructure/embedding"
	"timeline-rag-api/internal/infrastructure/llm"
	"timeline-rag-api/internal/infrastructure/messaging"
	"timeline-rag-api/internal/infrastructure/persistence/memory"
	"timeline-rag-api/internal/infrastructure/persistence/milvus"
	"timeline-rag-api/internal/infrastructure/persistence/postgres"
	"timeline-rag-api/internal/infrastructure/persistence/redis"
	"timeline-rag-api/internal/interfaces/http/handler"
	"timeline-rag-api/internal/interfaces/http/router"
	"timeline-rag-api/internal/workflow/port"
	"timeline-rag-api/internal/workflow/prompt"
	"timeline-rag-api/pkg/logger"
)

const (
	BackendMemory = "memory"
	BackendMilvus = "milvus"
)

// Options 组装选项
type Options struct {
	// InlineIngest 入库任务在本进程执行而不投递到队列；memory 后端总是如此
	InlineIngest bool
}

// DataLayer 数据层依赖
type DataLayer struct {
	Store  repository.Store
	Jobs   repository.IngestionJobRepository
	Status repository.StatusStore
	Locker repository.TenantLocker

	PgClient     *postgres.Client
	RedisClient  *redis.Client
	MilvusClient *milvus.Client
	Cache        *redis.Cache
	RateLimiter  *redis.RateLimiter
	Producer     *messaging.Producer
}

// App 组装完成的应用
type App struct {
	Config *config.Config
	Data   *DataLayer

	Generator port.TextGenerator
	Embedder  port.Embedder
	Engine    *retrieval.Engine
	Reasoner  *agent.Reasoner
	Worker    *ingest.Worker
	Ingest    *ingest.Service
	Timeline  *timeline.Service
}

// InitializeApp 按配置组装全部依赖，返回的 cleanup 按创建的逆序释放资源
func InitializeApp(ctx context.Context, cfg *config.Config, opts Options) (*App, func(), error) {
	data, cleanupData, err := InitializeDataLayer(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	app, err := assemble(ctx, cfg, data, opts)
	if err != nil {
		cleanupData()
		return nil, nil, err
	}
	return app, cleanupData, nil
}

// InitializeDataLayer 创建存储后端
func InitializeDataLayer(ctx context.Context, cfg *config.Config) (*DataLayer, func(), error) {
	switch cfg.Store.Backend {
	case "", BackendMemory:
		mem := memory.NewStore()
		return &DataLayer{
			Store:  mem.Repositories(),
			Jobs:   mem.Jobs(),
			Status: memory.NewStatusStore(cfg.Status.TTL),
			Locker: memory.NewTenantLocker(),
		}, func() {}, nil
	case BackendMilvus:
		return initializeMilvusDataLayer(ctx, cfg)
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func initializeMilvusDataLayer(ctx context.Context, cfg *config.Config) (*DataLayer, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	pgClient, err := postgres.NewClient(ctx, &cfg.Database.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("init postgres: %w", err)
	}
	cleanups = append(cleanups, func() {
		if err := pgClient.Close(); err != nil {
			logger.Warn(ctx, "close postgres failed", "error", err.Error())
		}
	})

	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init redis: %w", err)
	}
	cleanups = append(cleanups, func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn(ctx, "close redis failed", "error", err.Error())
		}
	})

	milvusClient, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init milvus: %w", err)
	}
	cleanups = append(cleanups, func() {
		if err := milvusClient.Close(); err != nil {
			logger.Warn(ctx, "close milvus failed", "error", err.Error())
		}
	})

	vectors := milvus.NewRepository(milvusClient, cfg.Embedding.Dimension)
	if err := vectors.EnsureCollections(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("ensure milvus collections: %w", err)
	}

	return &DataLayer{
		Store:        vectors.Store(postgres.NewRelationRepository(pgClient)),
		Jobs:         postgres.NewJobRepository(pgClient),
		Status:       redis.NewStatusStore(redisClient, cfg.Status.TTL, cfg.Status.TerminalTTL),
		Locker:       redis.NewTenantLocker(redisClient),
		PgClient:     pgClient,
		RedisClient:  redisClient,
		MilvusClient: milvusClient,
		Cache:        redis.NewCache(redisClient, "emb"),
		RateLimiter:  redis.NewRateLimiter(redisClient),
		Producer:     messaging.NewProducer(redisClient.Redis(), int64(cfg.Messaging.RedisStream.MaxLen)),
	}, cleanup, nil
}

func assemble(ctx context.Context, cfg *config.Config, data *DataLayer, opts Options) (*App, error) {
	embedder, err := provideEmbedder(ctx, cfg, data)
	if err != nil {
		return nil, err
	}
	tokenizer, err := retrieval.NewTokenizer(cfg.Retrieval.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("init tokenizer: %w", err)
	}

	gen := llm.NewService(llm.NewEinoFactory(cfg), &cfg.LLM)
	prompts := prompt.NewRegistry()

	engine := retrieval.NewEngine(embedder, data.Store, tokenizer, retrieval.OptionsFromConfig(&cfg.Retrieval))
	sub := agent.NewSubAgent(gen, retrieval.NewTools(engine), prompts, cfg.Agent.Provider)
	reasoner := agent.NewReasoner(gen, sub, prompts, data.Status, agent.OptionsFromConfig(&cfg.Agent))

	pipeline := ingest.NewPipeline(gen, embedder, prompts, data.Store, data.Status, ingest.OptionsFromConfig(&cfg.Ingest))
	worker := ingest.NewWorker(pipeline, data.Jobs, data.Locker, cfg.Ingest.LockTTL)

	var dispatcher ingest.Dispatcher
	if opts.InlineIngest || data.Producer == nil {
		dispatcher = ingest.NewInlineDispatcher(context.WithoutCancel(ctx), worker)
	} else {
		dispatcher = messaging.NewJobDispatcher(data.Producer)
	}
	fetcher := acquisition.NewClient(&cfg.Acquisition, cfg.Ingest.MinContentLength)

	return &App{
		Config:    cfg,
		Data:      data,
		Generator: gen,
		Embedder:  embedder,
		Engine:    engine,
		Reasoner:  reasoner,
		Worker:    worker,
		Ingest:    ingest.NewService(data.Jobs, dispatcher, fetcher),
		Timeline:  timeline.NewService(data.Store),
	}, nil
}

// provideEmbedder 有 Redis 时在上游外包一层向量缓存
func provideEmbedder(ctx context.Context, cfg *config.Config, data *DataLayer) (port.Embedder, error) {
	einoEmbedder, err := infraembedding.NewEinoEmbedder(ctx, &cfg.Embedding)
	if err != nil {
		return nil, err
	}
	var embedder port.Embedder = infraembedding.NewClient(einoEmbedder, cfg.Embedding.Dimension)
	if data.Cache != nil && cfg.Embedding.CacheTTL > 0 {
		embedder = infraembedding.NewCachedEmbedder(embedder, data.Cache, cfg.Embedding.Model, cfg.Embedding.CacheTTL)
	}
	return embedder, nil
}

// Router 构建 HTTP 路由
func (a *App) Router(version string) *router.Router {
	cfg := a.Config
	handlers := &router.Handlers{
		Health:    handler.NewHealthHandler(version, a.healthDependencies()...),
		Documents: handler.NewDocumentHandler(a.Ingest, a.Timeline),
		Timeline:  handler.NewTimelineHandler(a.Timeline),
		Query:     handler.NewQueryHandler(a.Reasoner, a.Engine),
		Status:    handler.NewStatusHandler(a.Data.Status, cfg.Status.PollEvery, cfg.Status.StreamIdleTimeout),
	}

	var opts []router.Option
	if a.Data.RateLimiter != nil {
		opts = append(opts, router.WithRateLimiter(a.Data.RateLimiter, redis.BuildRateLimitKey))
	}
	return router.New(cfg, handlers, opts...)
}

// IngestHandler 队列消息处理器，供 ingest-worker 注册
func (a *App) IngestHandler() messaging.MessageHandler {
	return messaging.NewIngestHandler(a.Worker)
}

// IngestDeadLetterHandler 死信消息对应的任务记为失败
func (a *App) IngestDeadLetterHandler() messaging.DeadLetterHandler {
	return messaging.NewIngestDeadLetterHandler(a.Worker)
}

func (a *App) healthDependencies() []handler.Dependency {
	var deps []handler.Dependency
	if a.Data.PgClient != nil {
		deps = append(deps, handler.Dependency{Name: "postgres", Checker: a.Data.PgClient})
	}
	if a.Data.RedisClient != nil {
		deps = append(deps, handler.Dependency{Name: "redis", Checker: a.Data.RedisClient})
	}
	if a.Data.MilvusClient != nil {
		deps = append(deps, handler.Dependency{Name: "milvus", Checker: a.Data.MilvusClient})
	}
	return deps
}
