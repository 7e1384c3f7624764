package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/kgraph/backend/internal/api/handlers"
	"github.com/kgraph/backend/internal/cache/redis"
	"github.com/kgraph/backend/internal/extraction"
	"github.com/kgraph/backend/internal/ingestion"
	"github.com/kgraph/backend/internal/kg/builder"
	"github.com/kgraph/backend/internal/kg/global"
	"github.com/kgraph/backend/internal/kg/neo4j"
	"github.com/kgraph/backend/internal/llm"
	"github.com/kgraph/backend/internal/metrics"
	"github.com/kgraph/backend/internal/middleware/ratelimit"
	"github.com/kgraph/backend/internal/middleware/security"
	"github.com/kgraph/backend/internal/middleware/validation"
	"github.com/kgraph/backend/internal/query"
	"github.com/kgraph/backend/internal/storage/sqlite"
	"github.com/kgraph/backend/internal/vector/zilliz"
	"github.com/kgraph/backend/internal/web"
	"github.com/kgraph/backend/pkg/config"
	appLogger "github.com/kgraph/backend/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (defaults to searching for config.yaml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting knowledge graph API server")
	metrics.Init()

	ctx := context.Background()

	sqliteClient, err := sqlite.NewClient(cfg.Storage.SQLitePath)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var embedder *llm.Embedder
	if cfg.LLM.APIKey != "" {
		embedder = llm.NewEmbedder(llm.Options{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.EmbeddingModel,
			Timeout: time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		})
	} else {
		appLogger.Warn("No embedding API key configured, semantic queries are disabled")
	}

	var mirror global.Mirror
	var neo4jClient *neo4j.Client
	if cfg.Neo4j.Enabled {
		neo4jClient, err = neo4j.NewClient(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
		if err != nil {
			appLogger.Fatal("Failed to create Neo4j client", zap.Error(err))
		}
		defer neo4jClient.Close(context.Background())
		mirror = neo4jClient
	}

	var zillizClient *zilliz.Client
	if cfg.Zilliz.Enabled {
		zillizClient, err = zilliz.NewClient(ctx, cfg.Zilliz.Endpoint, cfg.Zilliz.APIKey, cfg.Zilliz.CollectionName, cfg.Zilliz.VectorDim)
		if err != nil {
			appLogger.Fatal("Failed to create Zilliz client", zap.Error(err))
		}
		defer zillizClient.Close()

		err = zillizClient.CreateCollection(ctx)
		if err != nil {
			appLogger.Fatal("Failed to create collection", zap.Error(err))
		}
	}

	var embeddingCache query.EmbeddingCache = query.NewMemoryEmbeddingCache()
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		embeddingCache = redisClient
	}

	var extractor extraction.EntityExtractor = extraction.NewPatternExtractor()
	if cfg.Graph.Extractor == "prose" {
		extractor = extraction.NewProseExtractor()
	}

	kgBuilder := builder.NewBuilder(
		extraction.NewConsolidator(extractor, cfg.Graph.EntityExtractionConfidence, cfg.Graph.ParallelChunks),
		extraction.NewAssembler(extraction.NewKeywordRelationTyper()),
		sqliteClient,
		time.Duration(cfg.Storage.TimeoutSec)*time.Second,
	)

	store := global.NewGraphStore(global.Options{
		Linker: global.NewJaccardLinker(cfg.Graph.SimilarityThreshold),
		Mirror: mirror,
		Loader: kgBuilder,
	})
	rehydrate(ctx, sqliteClient, store)

	ingestOpts := ingestion.Options{
		ParallelDocuments: cfg.Graph.ParallelDocuments,
		ChunkSize:         cfg.Graph.ChunkSize,
		ChunkOverlap:      cfg.Graph.ChunkSize / 10,
		ChunksPerPage:     cfg.Graph.ChunksPerPage,
	}
	queryOpts := query.Options{
		StopWords:         cfg.Query.StopWords,
		DefaultMaxResults: cfg.Query.DefaultMaxResults,
		EmbeddingTimeout:  time.Duration(cfg.Query.EmbeddingTimeoutSec) * time.Second,
		CacheEnabled:      cfg.Query.CacheEnabled,
		EmbeddingCache:    embeddingCache,
		Recorder:          sqliteClient,
	}
	if embedder != nil {
		ingestOpts.Embedder = embedder
		queryOpts.Embedder = embedder
	}
	if zillizClient != nil {
		ingestOpts.Index = zillizClient
		queryOpts.ChunkIndex = zillizClient
	}

	processor := ingestion.NewProcessor(kgBuilder, store, ingestOpts)
	dispatcher := query.NewDispatcher(store, queryOpts)
	fetcher := web.NewFetcher(web.Options{
		Timeout:  10 * time.Second,
		MaxBytes: int64(cfg.Server.BodyLimit),
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		SkipPaths:            []string{"/health", "/ready", "/metrics"},
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Client-ID, X-Request-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Format == "console",
	}))
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		MaxDocumentSize: cfg.Server.BodyLimit,
		Logger:          appLogger.GetLogger(),
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		if err := sqliteClient.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
			})
		}
		status := fiber.Map{
			"status":     "ready",
			"generation": store.Generation(),
		}
		// Mirror state is reported but never fails readiness.
		if neo4jClient != nil {
			if n, err := neo4jClient.EntityCount(c.Context()); err != nil {
				status["mirror"] = "unavailable"
			} else {
				status["mirror_entities"] = n
			}
		}
		return c.JSON(status)
	})

	app.Get("/metrics", metrics.MetricsHandler())

	handlers.Register(app,
		handlers.NewQueryHandler(dispatcher, store, sqliteClient),
		handlers.NewDocumentHandler(processor, fetcher),
		handlers.NewWebSocketHandler(dispatcher, time.Duration(cfg.Server.WriteTimeout)*time.Second),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Warn("Server shutdown incomplete", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Close(shutdownCtx); err != nil {
		appLogger.Warn("Failed to close graph store", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// rehydrate replays every persisted document into the graph store so a
// restart serves the same graph. Unloadable documents are skipped.
func rehydrate(ctx context.Context, db *sqlite.Client, store *global.GraphStore) {
	docs, err := db.ListDocuments(ctx)
	if err != nil {
		appLogger.Warn("Failed to list persisted documents", zap.Error(err))
		return
	}

	loaded := 0
	for _, d := range docs {
		if _, err := store.LoadDocument(ctx, d.CID); err != nil {
			appLogger.Warn("Failed to rehydrate document",
				zap.String("doc_id", d.ID),
				zap.String("cid", d.CID),
				zap.Error(err),
			)
			continue
		}
		loaded++
	}

	appLogger.Info("Graph store rehydrated",
		zap.Int("documents", loaded),
		zap.Int("skipped", len(docs)-loaded),
	)
}
