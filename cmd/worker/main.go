// Package main runs the archive worker: recordings closed by the receiver are
// uploaded to S3.
package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/internal/api"
	"github.com/digitalcircuit/remote-haptics/internal/archive"
	"github.com/digitalcircuit/remote-haptics/internal/cli"
	"github.com/digitalcircuit/remote-haptics/internal/metrics"
	"github.com/digitalcircuit/remote-haptics/internal/sessionlog"
	"github.com/digitalcircuit/remote-haptics/pkg/database"
	"github.com/digitalcircuit/remote-haptics/pkg/queue"
	"github.com/digitalcircuit/remote-haptics/pkg/redis"
	"github.com/digitalcircuit/remote-haptics/pkg/storage"
)

func main() {
	var flags cli.Flags
	cmd := &cobra.Command{
		Use:   "haptic-worker",
		Short: "Upload finished recordings to S3",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(&flags)
		},
	}
	flags.Bind(cmd)
	cli.Execute(cmd)
}

func run(flags *cli.Flags) error {
	cfg, logger, err := flags.Setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Redis.Addr == "" {
		return errors.New("REDIS_ADDR is required")
	}
	if cfg.AWS.RecordingsBucket == "" {
		return errors.New("AWS_S3_RECORDINGS_BUCKET is required")
	}

	ctx, stop := cli.SignalContext()
	defer stop()

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		ClientName: "haptic-worker",
	}, logger)
	if err != nil {
		return err
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:           cfg.AWS.Region,
		AccessKeyID:      cfg.AWS.AccessKeyID,
		SecretAccessKey:  cfg.AWS.SecretAccessKey,
		RecordingsBucket: cfg.AWS.RecordingsBucket,
	}, logger)
	if err != nil {
		return fmt.Errorf("s3: %w", err)
	}

	m := metrics.New()
	if cfg.HTTP.Addr != "" {
		status := api.New(api.Options{Metrics: m, Log: logger})
		go func() {
			if err := status.Run(ctx, cfg.HTTP.Addr); err != nil {
				logger.Error("status api", zap.Error(err))
			}
		}()
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	var processor *archive.Processor
	if cfg.Database.URL != "" {
		pool, err := database.NewPostgresPool(ctx, database.Options{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
			AppName:  "haptic-worker",
		}, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		processor = archive.NewProcessor(jobQueue, s3Client, sessionlog.NewRepository(pool), m, logger)
	} else {
		processor = archive.NewProcessor(jobQueue, s3Client, nil, m, logger)
	}

	logger.Info("worker started", zap.String("bucket", cfg.AWS.RecordingsBucket), zap.String("queue", queue.QueueArchive))
	processor.Run(ctx)
	logger.Info("worker stopped")
	return nil
}
