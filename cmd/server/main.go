// Command server runs the promptforge HTTP API: the bandit-driven
// prompt optimization engine wired to Postgres storage and exposed
// over REST.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/brianmeyer/promptforge/internal/application/collaborators"
	"github.com/brianmeyer/promptforge/internal/application/collaborators/gitpatcher"
	"github.com/brianmeyer/promptforge/internal/application/collaborators/noop"
	"github.com/brianmeyer/promptforge/internal/application/collaborators/openaiadapter"
	"github.com/brianmeyer/promptforge/internal/config"
	"github.com/brianmeyer/promptforge/internal/domain/repository"
	"github.com/brianmeyer/promptforge/internal/infrastructure/api/rest"
	"github.com/brianmeyer/promptforge/internal/infrastructure/cache"
	"github.com/brianmeyer/promptforge/internal/infrastructure/logger"
	"github.com/brianmeyer/promptforge/internal/infrastructure/storage"
	"github.com/brianmeyer/promptforge/internal/infrastructure/tracing"
	"github.com/brianmeyer/promptforge/pkg/models"
	"github.com/brianmeyer/promptforge/pkg/promptforge"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.Logging)
	logger.SetDefault(appLogger)

	appLogger.Info("starting promptforge server",
		"version", "1.0.0",
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	tracerProvider, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		appLogger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("tracer shutdown failed", "error", err)
		}
	}()

	dbConfig := &storage.Config{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MinConnections,
		ConnMaxLifetime: cfg.Database.MaxConnLifetime,
		ConnMaxIdleTime: cfg.Database.MaxIdleTime,
		Debug:           cfg.Logging.Level == "debug",
	}
	db, err := storage.NewDB(dbConfig)
	if err != nil {
		appLogger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer storage.Close(db)
	appLogger.Info("database connected", "max_conns", cfg.Database.MaxConnections)

	var redisCache *cache.RedisCache
	redisCache, err = cache.NewRedisCache(cfg.Redis)
	if err != nil {
		appLogger.Warn("failed to initialize redis cache, code-loop rate limiting falls back to storage", "error", err)
		redisCache = nil
	} else {
		defer redisCache.Close()
		appLogger.Info("redis cache connected")
	}

	repos := promptforge.Repositories{
		Recipes:       storage.NewRecipeRepository(db),
		Runs:          storage.NewRunRepository(db),
		Variants:      storage.NewVariantRepository(db),
		OperatorStats: storage.NewOperatorStatRepository(db),
		Promotions:    storage.NewPromotionRepository(db),
		Golden:        storage.NewGoldenRepository(db),
		CodeLoop:      storage.NewCodeLoopRepository(db),
		Analytics:     storage.NewAnalyticsRepository(db),
	}

	collab, err := buildCollaborators(cfg, appLogger, repos)
	if err != nil {
		appLogger.Error("failed to build collaborator adapters", "error", err)
		os.Exit(1)
	}

	engine, err := promptforge.New(*cfg, repos, collab, redisCache, promptforge.WithLogger(appLogger))
	if err != nil {
		appLogger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}
	if err := engine.Start(); err != nil {
		appLogger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}
	defer engine.Stop()
	appLogger.Info("engine started")

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(rest.NewRecoveryMiddleware(appLogger).Recovery())
	router.Use(rest.NewLoggingMiddleware(appLogger).RequestLogger())
	router.Use(rest.NewBodySizeMiddleware(appLogger, 10<<20).LimitBodySize())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiV1 := router.Group("/api/v1")
	rest.NewRunHandlers(engine).RegisterRoutes(apiV1)
	appLogger.Info("REST API routes registered")

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		appLogger.Info("HTTP server starting", "port", cfg.Server.Port)
		serverErrors <- httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			appLogger.Error("server error", "error", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		appLogger.Info("server shutdown initiated", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("graceful shutdown failed", "error", err)
			if err := httpServer.Close(); err != nil {
				appLogger.Error("server close failed", "error", err)
			}
		}
		appLogger.Info("server stopped")
	}
}

// buildCollaborators wires the default OpenAI-backed generation/judge/
// embedding adapters plus retrieval and patch collaborators. RAG,
// memory, and web search fall back to no-ops until a deployment
// supplies its own. The patcher works on a local git checkout when
// PROMPTFORGE_CODE_LOOP_REPO_PATH is set and is a no-op otherwise; no
// critic, editor, or test runner is supplied, so the code-loop gate
// stays disabled in this binary either way.
func buildCollaborators(cfg *config.Config, log *logger.Logger, repos promptforge.Repositories) (promptforge.Collaborators, error) {
	oa, err := openaiadapter.New(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.GenerationModel, cfg.OpenAI.JudgeModel, cfg.OpenAI.EmbeddingModel)
	if err != nil {
		return promptforge.Collaborators{}, fmt.Errorf("main: build openai adapter: %w", err)
	}

	var patcher collaborators.Patcher = noop.Patcher{}
	if repoPath := os.Getenv("PROMPTFORGE_CODE_LOOP_REPO_PATH"); repoPath != "" {
		patcher = gitpatcher.New(repoPath)
		log.Info("code loop patcher configured", "repo_path", repoPath)
	} else {
		log.Info("code loop patcher disabled, set PROMPTFORGE_CODE_LOOP_REPO_PATH to enable")
	}

	return promptforge.Collaborators{
		Generator: oa,
		Judges:    []collaborators.JudgeEngine{oa},
		Embedder:  oa,
		RAG:       noop.RAG{},
		Memory:    noop.Memory{},
		Web:       noop.Web{},
		Samples:   &goldenSampleProvider{golden: repos.Golden},
		Patcher:   patcher,
	}, nil
}

// goldenSampleProvider picks a random golden item of the task class to
// supply each run input, since there's no separate live-traffic sampler in
// this deployment.
type goldenSampleProvider struct {
	golden repository.GoldenRepository
}

func (p *goldenSampleProvider) Sample(ctx context.Context, taskClass models.TaskClass) (map[string]any, string, error) {
	items, err := p.golden.ListItems(ctx, taskClass)
	if err != nil {
		return nil, "", fmt.Errorf("main: list golden items for sample: %w", err)
	}
	if len(items) == 0 {
		return nil, "", fmt.Errorf("main: no golden items configured for task class %q", taskClass)
	}
	item := items[rand.Intn(len(items))]
	return item.Input, "", nil
}
