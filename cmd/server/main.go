package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/wuwenbin0122/wwb.chat/internal/analytics"
	"github.com/wuwenbin0122/wwb.chat/internal/api"
	"github.com/wuwenbin0122/wwb.chat/internal/auth"
	"github.com/wuwenbin0122/wwb.chat/internal/generation"
	"github.com/wuwenbin0122/wwb.chat/internal/metrics"
	"github.com/wuwenbin0122/wwb.chat/internal/persona"
	"github.com/wuwenbin0122/wwb.chat/internal/prompt"
	"github.com/wuwenbin0122/wwb.chat/internal/quota"
	"github.com/wuwenbin0122/wwb.chat/internal/turn"
	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: failed to build: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	st, err := openStores(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalw("stores: failed to open", "error", err)
	}
	defer st.Close()

	catalog, err := persona.Load(cfg.Chat.CharactersDir)
	if err != nil {
		sugar.Fatalw("persona: failed to load catalog", "dir", cfg.Chat.CharactersDir, "error", err)
	}
	sugar.Infow("persona catalog loaded", "version", catalog.Version(), "count", len(catalog.IDs()))

	backend, err := generation.New(ctx, cfg.Generation, logger.Named("generation").Sugar())
	if err != nil {
		sugar.Fatalw("generation: failed to initialise backend", "provider", cfg.Generation.Provider, "error", err)
	}

	var sink analytics.Sink
	if cfg.Analytics.Enabled && st.redis != nil {
		sink = analytics.NewRedisSink(st.redis, cfg.Analytics.Stream)
	}
	tracker := analytics.Init(sink, logger.Named("analytics").Sugar())

	authService, err := auth.NewService(cfg.JWTSecret, cfg.TokenTTL, st.users)
	if err != nil {
		sugar.Fatalw("auth: failed to initialise service", "error", err)
	}

	m := metrics.New()
	quotaService := quota.NewService(st.ledger, cfg.Chat.DailyLimit, cfg.Chat.Location())

	processor, err := turn.NewProcessor(turn.Dependencies{
		Quota:         quotaService,
		Conversations: st.conversations,
		Personas:      catalog,
		Users:         st.users,
		Assembler:     prompt.NewAssembler(cfg.Chat.HistoryLimit),
		Backend:       backend,
		Tracker:       tracker,
		Metrics:       m,
		Logger:        logger.Named("turn").Sugar(),
	})
	if err != nil {
		sugar.Fatalw("turn: failed to initialise processor", "error", err)
	}

	router := setupRouter(api.Dependencies{
		Auth:          authService,
		Processor:     processor,
		Conversations: st.conversations,
		Personas:      catalog,
		Quota:         quotaService,
		Tracker:       tracker,
		Metrics:       m,
		Logger:        logger.Named("api").Sugar(),
		SecureCookies: !cfg.Logging.Development,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Generation.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infow("server listening", "addr", server.Addr, "provider", backend.Name())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("server crashed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("graceful shutdown failed", "error", err)
	}
	if err := tracker.Flush(shutdownCtx); err != nil {
		sugar.Warnw("analytics flush incomplete", "error", err)
	}

	sugar.Info("server stopped cleanly")
}

func setupRouter(deps api.Dependencies) *gin.Engine {
	return api.NewRouter(api.NewHandler(deps))
}
