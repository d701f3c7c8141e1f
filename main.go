package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"securerag/internal/api"
	"securerag/internal/config"
	"securerag/internal/knowledge"
	"securerag/internal/memory"
	"securerag/internal/observability"
	"securerag/internal/redis"
	"securerag/internal/service/ai"
	"securerag/internal/service/guard"
	"securerag/internal/service/rag"
	"securerag/internal/storage"
	"securerag/internal/worker"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load(os.Getenv("SECURERAG_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	dbType := os.Getenv("SECURERAG_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Info("opening catalog", zap.String("db_type", dbType))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	// Create necessary tables: documents, chunks
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	var store memory.Store
	memoryBackend := ""
	if cfg.Memory.IsEnabled() {
		// kv stays a nil interface when redis is absent so NewStore falls back.
		var kv memory.KV
		rdb, err := redis.NewRedisClient(cfg)
		if err != nil {
			logger.Warn("redis unavailable", zap.Error(err))
		} else {
			defer rdb.Close()
			kv = rdb
		}
		store = memory.NewStore(ctx, kv, memory.Options{
			TTL:       time.Duration(cfg.Memory.TTLSeconds) * time.Second,
			KeyPrefix: cfg.Memory.KeyPrefix,
			Logger:    logger,
		})
		memoryBackend = store.Backend()
		metrics.SetMemoryBackend(memoryBackend)
	}

	loader, err := knowledge.NewFileLoader(ctx)
	if err != nil {
		logger.Fatal("init document loader", zap.Error(err))
	}
	splitter, err := knowledge.NewSplitter(ctx, cfg.RAG.ChunkSize, cfg.RAG.Overlap())
	if err != nil {
		logger.Fatal("init splitter", zap.Error(err))
	}
	library, err := knowledge.NewLibrary(knowledge.LibraryOptions{
		Dir:      cfg.BasicConfig.DocsPath,
		Splitter: splitter,
		Loader:   loader,
		Catalog:  storage.NewCatalog(db),
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("init document library", zap.Error(err))
	}
	index, err := library.Load(ctx)
	if err != nil {
		logger.Fatal("load document index", zap.Error(err))
	}
	metrics.CountRebuild("ok", index.Len())
	handle := rag.NewRetrieverHandle(index)

	generator, err := ai.NewGenerator(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init generator", zap.Error(err))
	}
	policy, err := guard.LoadPolicyEngine(ctx, cfg.Guard.PolicyPath)
	if err != nil {
		logger.Fatal("load content policy", zap.Error(err))
	}
	threshold := cfg.Guard.Threshold()
	validator := guard.NewValidator(guard.Options{
		Rules: guard.Rules{
			Toxicity:   config.Enabled(cfg.Guard.ToxicityCheck),
			PII:        config.Enabled(cfg.Guard.PIICheck),
			Length:     config.Enabled(cfg.Guard.LengthCheck),
			Confidence: config.Enabled(cfg.Guard.ConfidenceCheck),
			Sources:    config.Enabled(cfg.Guard.SourcesCheck),
		},
		ToxicityThreshold: &threshold,
		Refusal:           cfg.Guard.RefusalMessage,
		Policy:            policy,
		Recorder:          metrics,
		Logger:            logger,
	})

	engine, err := rag.NewEngine(rag.EngineDeps{
		Handle:    handle,
		Generator: generator,
		Validator: validator,
		Memory:    store,
		Recorder:  metrics,
		Logger:    logger,
	}, rag.Options{
		TopK:         cfg.RAG.TopK,
		HistoryLimit: cfg.RAG.HistoryLimit,
		Refusal:      cfg.Guard.RefusalMessage,
	})
	if err != nil {
		logger.Fatal("init query engine", zap.Error(err))
	}

	rebuilder := worker.NewRebuilder(library, handle, metrics, logger)
	defer rebuilder.Stop()

	provider, model := cfg.Model.Provider, cfg.Model.Name
	if cfg.BasicConfig.MockMode {
		provider, model = "mock", "mock"
	}
	handlers := api.NewHandler(engine, library, rebuilder, metrics.Handler(), logger, api.Options{
		Version:        version,
		Provider:       provider,
		Model:          model,
		MemoryBackend:  memoryBackend,
		DocsPath:       cfg.BasicConfig.DocsPath,
		MaxQueryLength: cfg.RAG.MaxQueryLength,
	})

	router := gin.New()
	router.Use(gin.Recovery())
	handlers.RegisterRoutes(router)

	server := &http.Server{
		Addr:    cfg.BasicConfig.ServerAddress,
		Handler: router,
	}
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr), zap.String("version", version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		_ = server.Close()
	}
}
