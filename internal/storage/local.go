package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/blocks"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/metrics"
)

// LocalConfig wires a LocalUploader.
type LocalConfig struct {
	Root          string
	PublicBaseURL string
	Clock         func() time.Time
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// LocalUploader writes uploads to a directory served by the API under PublicBaseURL.
type LocalUploader struct {
	root    string
	baseURL string
	clock   func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewLocalUploader creates the root directory when missing.
func NewLocalUploader(cfg LocalConfig) (*LocalUploader, error) {
	if cfg.Root == "" {
		return nil, errors.New("storage: local root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create upload root: %w", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = "/uploads"
	}
	return &LocalUploader{root: cfg.Root, baseURL: baseURL, clock: clock, metrics: cfg.Metrics, logger: logger}, nil
}

// Root is the directory uploads are written to.
func (u *LocalUploader) Root() string {
	return u.root
}

func (u *LocalUploader) Upload(ctx context.Context, upload blocks.Upload) (string, error) {
	publicURL, err := u.store(ctx, upload)
	u.metrics.UploadFinished(DriverLocal, err)
	if err != nil && !errors.Is(err, ErrEmptyFile) {
		u.logger.Error("local upload failed", zap.String("filename", upload.Filename), zap.Error(err))
	}
	return publicURL, err
}

func (u *LocalUploader) store(ctx context.Context, upload blocks.Upload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if upload.Body == nil {
		return "", ErrEmptyFile
	}
	name, err := objectName(u.clock(), upload.Filename)
	if err != nil {
		return "", err
	}
	target := filepath.Join(u.root, name)
	file, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("storage: create %s: %w", name, err)
	}
	written, copyErr := io.Copy(file, upload.Body)
	closeErr := file.Close()
	if copyErr == nil && written == 0 {
		copyErr = ErrEmptyFile
	}
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(target)
		return "", copyErr
	}
	return joinURL(u.baseURL, name), nil
}
