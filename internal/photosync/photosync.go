// Package photosync uploads photos captured for submissions to object
// storage once the submission that references them has been delivered.
// Pending uploads are kept in the local database so they survive a restart.
package photosync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"

	"github.com/parisxmas/OxiDB/OxiField/internal/models"
)

const (
	batchSize  = 16
	maxBackoff = 5 * time.Minute
	idlePoll   = time.Minute
)

// Uploader is the subset of the S3 client used here.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// RequestStore persists queued uploads. Implemented by
// repository.PhotoRequestRepo.
type RequestStore interface {
	Replace(ctx context.Context, req *models.PhotoRequest) error
	Due(ctx context.Context, now time.Time, limit int) ([]models.PhotoRequest, error)
	NextAttempt(ctx context.Context) (time.Time, bool, error)
	Complete(ctx context.Context, req *models.PhotoRequest) error
	Reschedule(ctx context.Context, req *models.PhotoRequest) error
}

type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
	// MediaDir holds captured photos; a photo response value is a path
	// relative to it and doubles as the object key.
	MediaDir string
}

// Manager keeps photo uploads in the local database and runs them in the
// background, retrying failures with backoff until they succeed.
type Manager struct {
	client   Uploader
	bucket   string
	mediaDir string
	store    RequestStore
	wake     chan struct{}
	now      func() time.Time
	logger   *slog.Logger
	backoff  time.Duration
}

// New builds a manager backed by S3. With no bucket configured it returns
// a disabled manager that accepts and discards requests.
func New(ctx context.Context, cfg Config, store RequestStore, logger *slog.Logger) (*Manager, error) {
	if cfg.Bucket == "" {
		return &Manager{logger: logger}, nil
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("photosync: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}
	return NewWithUploader(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.MediaDir, store, logger), nil
}

func NewWithUploader(client Uploader, bucket, mediaDir string, store RequestStore, logger *slog.Logger) *Manager {
	return &Manager{
		client:   client,
		bucket:   bucket,
		mediaDir: mediaDir,
		store:    store,
		wake:     make(chan struct{}, 1),
		now:      time.Now,
		logger:   logger,
		backoff:  time.Second,
	}
}

func (m *Manager) Enabled() bool {
	return m.client != nil
}

// EnqueueSyncWorker records the upload of the photo at remotePath. A request
// already queued for the same path is replaced.
func (m *Manager) EnqueueSyncWorker(ctx context.Context, remotePath string) error {
	if !m.Enabled() {
		m.logger.Debug("photosync: disabled, skipping upload", "path", remotePath)
		return nil
	}
	if remotePath == "" {
		return errors.New("photosync: empty path")
	}
	now := m.now().UTC()
	req := &models.PhotoRequest{
		Path:          remotePath,
		RequestID:     ulid.Make().String(),
		EnqueuedAt:    now,
		NextAttemptAt: now,
	}
	if err := m.store.Replace(ctx, req); err != nil {
		return fmt.Errorf("photosync: enqueue %s: %w", remotePath, err)
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run uploads due photos until ctx is done. Requests left over from an
// earlier process are picked up on the first pass.
func (m *Manager) Run(ctx context.Context) error {
	if !m.Enabled() {
		<-ctx.Done()
		return nil
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.wake:
		case <-timer.C:
		}

		due, err := m.store.Due(ctx, m.now(), batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Error("photosync: load due uploads", "error", err)
		}
		for _, req := range due {
			m.process(ctx, req)
			if ctx.Err() != nil {
				return nil
			}
		}

		timer.Reset(m.untilNext(ctx))
	}
}

func (m *Manager) untilNext(ctx context.Context) time.Duration {
	next, ok, err := m.store.NextAttempt(ctx)
	if err != nil || !ok {
		return idlePoll
	}
	return min(max(next.Sub(m.now()), 0), idlePoll)
}

func (m *Manager) process(ctx context.Context, req models.PhotoRequest) {
	err := m.Upload(ctx, req.Path)
	if ctx.Err() != nil {
		return
	}
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		m.logger.Error("photosync: photo missing, dropping upload", "path", req.Path, "error", err)
	default:
		req.Attempts++
		req.LastError = err.Error()
		req.NextAttemptAt = m.now().UTC().Add(m.delay(req.Attempts))
		m.logger.Warn("photosync: upload failed", "path", req.Path, "attempt", req.Attempts, "next_attempt_at", req.NextAttemptAt, "error", err)
		if err := m.store.Reschedule(ctx, &req); err != nil {
			m.logger.Error("photosync: reschedule upload", "path", req.Path, "error", err)
		}
		return
	}
	if err := m.store.Complete(ctx, &req); err != nil {
		m.logger.Error("photosync: complete upload", "path", req.Path, "error", err)
	}
}

func (m *Manager) delay(attempts int) time.Duration {
	d := m.backoff
	for i := 1; i < attempts && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

// Upload copies one photo from the media directory to the bucket.
func (m *Manager) Upload(ctx context.Context, remotePath string) error {
	key := strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+remotePath)), "/")
	if key == "" {
		return fmt.Errorf("photosync: empty path")
	}
	f, err := os.Open(filepath.Join(m.mediaDir, filepath.FromSlash(key)))
	if err != nil {
		return fmt.Errorf("photosync: open %s: %w", key, err)
	}
	defer f.Close()

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("photosync: put %s: %w", key, err)
	}
	m.logger.Info("photosync: uploaded", "key", key)
	return nil
}
