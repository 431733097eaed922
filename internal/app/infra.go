package app

import (
	"context"

	"roster-lookup/internal/config"
	"roster-lookup/internal/db"
	"roster-lookup/internal/logger"
	"roster-lookup/internal/redis"
)

type Infra struct {
	DB    *db.DB
	Redis *redis.Client
}

func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	database, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	if err := db.EnsureRecordsSchema(ctx, database.DB, cfg.RecordsSchema); err != nil {
		_ = database.Close()
		return nil, err
	}

	logger.Info("database ready", map[string]any{
		"schema": cfg.RecordsSchema,
	})

	redisClient, err := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	logger.Info("redis ready", nil)

	return &Infra{
		DB:    database,
		Redis: redisClient,
	}, nil
}

func (i *Infra) Close() error {
	redisErr := i.Redis.Close()
	if err := i.DB.Close(); err != nil {
		return err
	}
	return redisErr
}
