// Package storage archives recordings to S3 and fetches them back.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const (
	// FolderRecordings is the S3 prefix for recording objects.
	FolderRecordings = "recordings"
	// ContentTypeRecording is stored with every uploaded recording.
	ContentTypeRecording = "text/plain; charset=utf-8"
	// URLScheme prefixes object locations given on the command line.
	URLScheme = "s3://"
)

// ErrInvalidURL is returned for object locations that are not s3://bucket/key.
var ErrInvalidURL = errors.New("invalid s3 url")

// S3Config holds S3 client configuration.
type S3Config struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	RecordingsBucket string
}

// S3 uploads and downloads recording objects.
type S3 struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	cfg        S3Config
	logger     *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or the environment (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("recordings_bucket", cfg.RecordingsBucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// RecordingKey returns the S3 object key: recordings/{host}/{file name}.
func RecordingKey(host, filename string) string {
	return path.Join(FolderRecordings, host, path.Base(filename))
}

// ParseURL splits s3://bucket/key.
func ParseURL(raw string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(raw, URLScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q has no %s prefix", ErrInvalidURL, raw, URLScheme)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q needs a bucket and a key", ErrInvalidURL, raw)
	}
	return bucket, key, nil
}

// RecordingsBucket returns the bucket recordings are archived to.
func (s *S3) RecordingsBucket() string { return s.cfg.RecordingsBucket }

// UploadFile streams the local file at name to bucket/key.
func (s *S3) UploadFile(ctx context.Context, bucket, key, name string) (int64, error) {
	f, err := os.Open(name)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", name, err)
	}
	if err := s.Upload(ctx, bucket, key, f, info.Size()); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Upload streams body to bucket/key.
func (s *S3) Upload(ctx context.Context, bucket, key string, body io.Reader, contentLength int64) error {
	var contentLengthPtr *int64
	if contentLength > 0 {
		contentLengthPtr = &contentLength
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(ContentTypeRecording),
		ContentLength: contentLengthPtr,
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	s.logger.Debug("uploaded object", zap.String("bucket", bucket), zap.String("key", key))
	return nil
}

// Download writes bucket/key to the local file at name.
func (s *S3) Download(ctx context.Context, bucket, key, name string) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	_, err = s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(name)
		return fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// Exists reports whether bucket/key is present.
func (s *S3) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound interface{ ErrorCode() string }
	if errors.As(err, &notFound) && (notFound.ErrorCode() == "NotFound" || notFound.ErrorCode() == "NoSuchKey") {
		return false, nil
	}
	return false, fmt.Errorf("head object: %w", err)
}

// FetchRecording downloads an s3:// url into dir and returns the local path.
func (s *S3) FetchRecording(ctx context.Context, rawURL, dir string) (string, error) {
	bucket, key, err := ParseURL(rawURL)
	if err != nil {
		return "", err
	}
	local := filepath.Join(dir, path.Base(key))
	if err := s.Download(ctx, bucket, key, local); err != nil {
		return "", err
	}
	return local, nil
}
