package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/analyzer"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/api/handlers"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/background"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/cache"
	memorycache "github.com/thetombrider/chatbotcollectibus-sub002/internal/cache/memory"
	rediscache "github.com/thetombrider/chatbotcollectibus-sub002/internal/cache/redis"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/expander"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/fusion"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/ingestion"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/llm"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/metrics"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/middleware/ratelimit"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/middleware/security"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/middleware/validation"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/query"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/storage/sqlite"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/vector/milvus"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/websearch"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/config"
	appLogger "github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
)

func main() {
	cfg, err := config.Load()
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

	appLogger.Info("Starting Collectibus knowledge-base API server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	if err := milvusClient.CreateCollection(context.Background()); err != nil {
		appLogger.Fatal("Failed to create collection", zap.Error(err))
	}

	var analysisCache cache.Store
	if cfg.Redis.Enabled {
		redisClient, err := rediscache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, falling back to in-memory cache", zap.Error(err))
			analysisCache = memorycache.NewStore()
		} else {
			defer redisClient.Close()
			analysisCache = redisClient
		}
	} else {
		analysisCache = memorycache.NewStore()
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	queryAnalyzer := analyzer.NewAnalyzer(
		llmClient,
		analysisCache,
		time.Duration(cfg.Analysis.CacheTTLHours)*time.Hour,
	)
	queryExpander := expander.NewExpander(llmClient)

	fusionEngine := fusion.NewEngine(
		query.NewMilvusRetriever(milvusClient),
		llmClient,
		fusion.Config{
			TopK:                 cfg.Retrieval.TopK,
			SimilarityThreshold:  cfg.Retrieval.SimilarityThreshold,
			ComparativeTopK:      cfg.Retrieval.ComparativeTopK,
			ComparativeThreshold: cfg.Retrieval.ComparativeThreshold,
			FusedCap:             cfg.Retrieval.FusedCap,
			BackfillMin:          cfg.Retrieval.BackfillMin,
			LowSimilarityAvg:     cfg.Retrieval.LowSimilarityAvg,
			IdentifierLimit:      cfg.Retrieval.IdentifierLimit,
		},
	)

	var searchClient *websearch.Client
	if cfg.Search.Enabled {
		searchClient = websearch.NewClient(cfg.Search.SerpAPIKey, time.Duration(cfg.Search.TimeoutSec)*time.Second)
	}

	executor := background.NewExecutor(128, 2, 15*time.Second)
	defer executor.Shutdown()

	queryEngine := query.NewEngine(
		sqliteClient,
		queryAnalyzer,
		queryExpander,
		fusionEngine,
		llmClient,
		searchClient,
		executor,
		cfg.Search.Enabled,
		cfg.Search.MaxResults,
	)

	processor := ingestion.NewProcessor(sqliteClient, milvusClient, llmClient)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{MaxRequestsPerMinute: 60})
	defer limiter.Stop()

	queryHandler := handlers.NewQueryHandler(queryEngine, sqliteClient)
	documentHandler := handlers.NewDocumentHandler(processor, sqliteClient)
	wsHandler := handlers.NewWebSocketHandler(queryEngine, cfg.Stream.MaxFrameChars)

	api := app.Group("/api/v1", limiter.Middleware(), validation.Middleware(validation.Config{
		MaxQueryLength:  5000,
		MaxDocumentSize: cfg.Server.BodyLimit,
	}))

	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/conversations/:id/messages", queryHandler.GetConversationHistory)

	api.Post("/documents", documentHandler.UploadDocument)
	api.Get("/documents", documentHandler.ListDocuments)
	api.Get("/folders", documentHandler.ListFolders)
	api.Get("/collection/stats", documentHandler.CollectionStats)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/query", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		if err := sqliteClient.Ping(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

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
	app.Shutdown()
	appLogger.Info("Server stopped")
}
