package db

import (
	"context"

	"stakematch/internal/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens and pings a pgx pool. Fatal on failure, the relay cannot
// archive matches without it once a DSN is configured.
func Connect(ctx context.Context, dsn string) *pgxpool.Pool {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logger.Fatal("failed to create database pool", "error", err)
	}

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("failed to ping database", "error", err)
	}

	logger.Info("database connected")
	return pool
}
