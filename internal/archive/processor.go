// Package archive uploads finished recordings to S3.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/internal/metrics"
	"github.com/digitalcircuit/remote-haptics/internal/models"
	"github.com/digitalcircuit/remote-haptics/pkg/queue"
	"github.com/digitalcircuit/remote-haptics/pkg/storage"
)

// JobSource hands out archive jobs and takes failed ones back.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) (dlq bool, err error)
}

// Store is the object store recordings are uploaded to.
type Store interface {
	RecordingsBucket() string
	Exists(ctx context.Context, bucket, key string) (bool, error)
	UploadFile(ctx context.Context, bucket, key, name string) (int64, error)
}

// StatusStore records the archive state of each recording.
type StatusStore interface {
	SetArchiveStatus(ctx context.Context, path string, sessionID uuid.UUID, status, key string, size int64, archiveErr error) error
}

// Processor processes recording archive jobs: upload the file to S3 and
// record the result.
type Processor struct {
	jobs    JobSource
	store   Store
	status  StatusStore
	metrics *metrics.Metrics
	logger  *zap.Logger
	backoff time.Duration
}

// NewProcessor creates an archive processor. status and m may be nil.
func NewProcessor(jobs JobSource, store Store, status StatusStore, m *metrics.Metrics, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{jobs: jobs, store: store, status: status, metrics: m, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one archive job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := job.ArchivePayload()
	if err != nil {
		return err
	}
	if _, err := os.Stat(payload.Path); err != nil {
		return fmt.Errorf("recording %s: %w", payload.Path, err)
	}

	bucket := p.store.RecordingsBucket()
	key := storage.RecordingKey(payload.Host, filepath.Base(payload.Path))

	exists, err := p.store.Exists(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("check s3 object: %w", err)
	}
	var size int64
	if exists {
		p.logger.Info("recording already archived", zap.String("path", payload.Path), zap.String("s3_key", key))
	} else {
		size, err = p.store.UploadFile(ctx, bucket, key, payload.Path)
		if err != nil {
			return fmt.Errorf("s3 upload: %w", err)
		}
	}

	if p.status != nil {
		if err := p.status.SetArchiveStatus(ctx, payload.Path, payload.SessionID, models.ArchiveStatusUploaded, key, size, nil); err != nil {
			p.logger.Error("update archive status failed", zap.Error(err), zap.String("path", payload.Path))
			return fmt.Errorf("update db: %w", err)
		}
	}

	p.metrics.ArchiveJob(models.ArchiveStatusUploaded)
	p.logger.Info("recording archived",
		zap.String("path", payload.Path),
		zap.String("s3_key", key),
		zap.Int64("size", size),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error. It returns
// when ctx is done.
func (p *Processor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("archive worker stopping")
			return
		}

		job, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger.Warn("dequeue error", zap.Error(err))
			}
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			p.fail(ctx, job, err)
			p.sleep(ctx)
		}
	}
}

func (p *Processor) fail(ctx context.Context, job *queue.Job, jobErr error) {
	dlq, err := p.jobs.Retry(ctx, job)
	if err != nil {
		p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if !dlq {
		p.metrics.ArchiveJob(models.ArchiveStatusPending)
		return
	}
	p.metrics.ArchiveJob(models.ArchiveStatusFailed)
	if p.status == nil {
		return
	}
	payload, err := job.ArchivePayload()
	if err != nil {
		return
	}
	if err := p.status.SetArchiveStatus(ctx, payload.Path, payload.SessionID, models.ArchiveStatusFailed, "", 0, jobErr); err != nil {
		p.logger.Error("update archive status failed", zap.Error(err), zap.String("path", payload.Path))
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
