// Package database connects to PostgreSQL and applies the embedded schema.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DefaultMaxConns is enough for one session writer plus status API readers.
const DefaultMaxConns = 4

const maxConnIdleTime = 5 * time.Minute

// Options selects the database and sizes the pool.
type Options struct {
	URL string
	// MaxConns falls back to DefaultMaxConns when not positive.
	MaxConns int
	// AppName is reported as application_name unless the URL sets one.
	AppName string
}

// NewPostgresPool creates a pgx connection pool and verifies connectivity.
func NewPostgresPool(ctx context.Context, opts Options, logger *zap.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config, err := poolConfig(opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("PostgreSQL connection pool established",
		zap.String("database", config.ConnConfig.Database),
		zap.Int32("max_conns", config.MaxConns),
	)
	return pool, nil
}

func poolConfig(opts Options) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	maxConns := opts.MaxConns
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	config.MaxConns = int32(maxConns)
	config.MaxConnIdleTime = maxConnIdleTime
	if _, ok := config.ConnConfig.RuntimeParams["application_name"]; !ok && opts.AppName != "" {
		config.ConnConfig.RuntimeParams["application_name"] = opts.AppName
	}
	return config, nil
}
