// Package redis wraps the go-redis client used for session events and the
// archive job queue.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultPoolSize covers the event publisher and the queue of one process.
const DefaultPoolSize = 4

const dialTimeout = 5 * time.Second

// Options selects the redis server and sizes the pool.
type Options struct {
	Addr     string
	Password string
	DB       int
	// PoolSize falls back to DefaultPoolSize when not positive.
	PoolSize int
	// ClientName shows up in CLIENT LIST.
	ClientName string
}

// Client wraps go-redis client with optional logger.
type Client struct {
	*redis.Client
	logger *zap.Logger
}

// NewClient creates a Redis client and verifies connectivity.
func NewClient(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ro := clientOptions(opts)
	rdb := redis.NewClient(ro)

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Redis client connected",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int("pool_size", ro.PoolSize),
	)
	return &Client{Client: rdb, logger: logger}, nil
}

func clientOptions(opts Options) *redis.Options {
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	return &redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		PoolSize:    poolSize,
		ClientName:  opts.ClientName,
		DialTimeout: dialTimeout,
	}
}
