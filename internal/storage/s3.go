package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/blocks"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/metrics"
)

// ObjectPutter is the subset of the S3 client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Settings describe the bucket connection.
type S3Settings struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds a client from explicit credentials, or from the default
// AWS chain when none are given. A custom endpoint switches to path-style
// addressing for S3 compatible services.
func NewS3Client(ctx context.Context, settings S3Settings) (*s3.Client, error) {
	region := settings.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if settings.AccessKeyID != "" && settings.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(settings.AccessKeyID, settings.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Config wires an S3Uploader.
type S3Config struct {
	Client        ObjectPutter
	Bucket        string
	Prefix        string
	PublicBaseURL string
	Clock         func() time.Time
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// S3Uploader puts uploads into a bucket and returns their public URL.
type S3Uploader struct {
	client  ObjectPutter
	bucket  string
	prefix  string
	baseURL string
	clock   func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	if cfg.Client == nil {
		return nil, errors.New("storage: s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage: s3 bucket is required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("storage: s3 public base url is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &S3Uploader{
		client:  cfg.Client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		baseURL: cfg.PublicBaseURL,
		clock:   clock,
		metrics: cfg.Metrics,
		logger:  logger,
	}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, upload blocks.Upload) (string, error) {
	publicURL, err := u.put(ctx, upload)
	u.metrics.UploadFinished(DriverS3, err)
	if err != nil && !errors.Is(err, ErrEmptyFile) {
		u.logger.Error("s3 upload failed", zap.String("bucket", u.bucket), zap.String("filename", upload.Filename), zap.Error(err))
	}
	return publicURL, err
}

func (u *S3Uploader) put(ctx context.Context, upload blocks.Upload) (string, error) {
	if upload.Body == nil {
		return "", ErrEmptyFile
	}
	payload, err := io.ReadAll(upload.Body)
	if err != nil {
		return "", fmt.Errorf("storage: read upload: %w", err)
	}
	if len(payload) == 0 {
		return "", ErrEmptyFile
	}
	name, err := objectName(u.clock(), upload.Filename)
	if err != nil {
		return "", err
	}
	key := name
	if u.prefix != "" {
		key = u.prefix + "/" + name
	}
	head := payload[:min(len(payload), sniffLength)]
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String(contentType(upload.ContentType, upload.Filename, head)),
	})
	if err != nil {
		return "", fmt.Errorf("storage: put object %s: %w", key, err)
	}
	return joinURL(u.baseURL, key), nil
}
