package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/internal/conversation"
	"github.com/wuwenbin0122/wwb.chat/internal/db"
	"github.com/wuwenbin0122/wwb.chat/internal/quota"
	"github.com/wuwenbin0122/wwb.chat/internal/users"
	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

// stores holds the persistence backends selected by configuration.
type stores struct {
	postgres *db.Postgres
	mongo    *db.Mongo
	redis    *redis.Client

	users         users.Repository
	ledger        quota.Ledger
	conversations conversation.Store

	logger *zap.SugaredLogger
}

func openStores(ctx context.Context, cfg *utils.Config, logger *zap.SugaredLogger) (*stores, error) {
	st := &stores{logger: logger}

	if cfg.UsesPostgres() {
		pg, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: connect: %w", err)
		}
		st.postgres = pg
		if err := pg.Ping(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("postgres: ping: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}

	if cfg.Chat.QuotaBackend == utils.BackendRedis || cfg.Analytics.Enabled {
		client, err := db.NewRedis(ctx, cfg.Redis)
		switch {
		case err == nil:
			st.redis = client
		case cfg.Chat.QuotaBackend == utils.BackendRedis:
			st.Close()
			return nil, fmt.Errorf("redis: connect: %w", err)
		default:
			logger.Warnw("redis unavailable, analytics will only be logged", "addr", cfg.Redis.Addr, "error", err)
		}
	}

	switch cfg.Chat.UserBackend {
	case utils.BackendPostgres:
		gormDB, err := db.NewGORM(cfg.Postgres)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("gorm: open: %w", err)
		}
		st.users = users.NewGormRepository(gormDB)
	default:
		st.users = users.NewMemoryRepository()
	}

	switch cfg.Chat.QuotaBackend {
	case utils.BackendPostgres:
		st.ledger = quota.NewPostgresLedger(st.postgres.Pool)
	case utils.BackendRedis:
		st.ledger = quota.NewRedisLedger(st.redis, "quota")
	default:
		st.ledger = quota.NewMemoryLedger()
	}

	switch cfg.Chat.ConversationBackend {
	case utils.BackendMongo:
		m, err := db.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("mongo: connect: %w", err)
		}
		st.mongo = m
		if err := m.EnsureCollections(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("mongo: ensure collections: %w", err)
		}
		st.conversations = conversation.NewMongoStore(m.Conversations)
	case utils.BackendPostgres:
		st.conversations = conversation.NewPostgresStore(st.postgres.Pool)
	default:
		st.conversations = conversation.NewMemoryStore()
	}

	logger.Infow("stores ready",
		"users", cfg.Chat.UserBackend,
		"quota", cfg.Chat.QuotaBackend,
		"conversations", cfg.Chat.ConversationBackend,
	)
	return st, nil
}

func (s *stores) Close() {
	if s.mongo != nil {
		if err := s.mongo.Close(context.Background()); err != nil {
			s.logger.Warnw("mongo: close error", "error", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warnw("redis: close error", "error", err)
		}
	}
	if s.postgres != nil {
		s.postgres.Close()
	}
}
