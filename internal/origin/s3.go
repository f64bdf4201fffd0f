package origin

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/precache/precache/pkg/errors"
	"github.com/precache/precache/pkg/types"
)

// S3Config configures the S3 origin
type S3Config struct {
	Region string `yaml:"region"`
	Bucket string `yaml:"bucket"`

	// Object key prefix; page N is fetched from <prefix><N>.html
	Prefix string `yaml:"prefix"`

	// Custom endpoint for S3-compatible stores (MinIO, LocalStack)
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`

	// Static credentials; empty means the default AWS credential chain
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	MaxRetries int `yaml:"max_retries"`
}

// S3Provider fetches page bodies from an S3 bucket.
type S3Provider struct {
	client *s3.Client
	cfg    S3Config
	logger *slog.Logger
}

// NewS3Provider creates an S3-backed origin.
func NewS3Provider(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Provider, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "s3 origin requires a bucket").
			WithComponent("origin")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "load AWS config").
			WithComponent("origin").WithCause(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Provider{client: client, cfg: cfg, logger: logger}, nil
}

// Generate fetches the page's object from the bucket.
func (p *S3Provider) Generate(ctx context.Context, page types.PageID) (*types.PageContent, error) {
	if !page.Valid() {
		return nil, errors.NewErrorf(errors.ErrCodeValidationFailed, "invalid page %d", page).
			WithComponent("origin")
	}

	key := p.key(page)
	result, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, p.translateError(err, "GetObject", key)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, errors.NewErrorf(errors.ErrCodeOriginFetch, "read object %s", key).
			WithComponent("origin").WithOperation("GetObject").WithCause(err)
	}

	contentType := "text/html"
	if result.ContentType != nil {
		contentType = *result.ContentType
	}

	p.logger.Debug("fetched page from s3", "key", key, "bytes", len(body))
	return &types.PageContent{Body: body, ContentType: contentType}, nil
}

// HealthCheck verifies the bucket is reachable.
func (p *S3Provider) HealthCheck(ctx context.Context) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(p.cfg.Bucket),
	})
	if err != nil {
		return errors.NewErrorf(errors.ErrCodeOriginUnavailable, "bucket %s unreachable", p.cfg.Bucket).
			WithComponent("origin").WithOperation("HeadBucket").WithCause(err)
	}
	return nil
}

func (p *S3Provider) key(page types.PageID) string {
	return p.cfg.Prefix + strconv.FormatInt(int64(page), 10) + ".html"
}

// translateError maps SDK errors onto origin error codes.
func (p *S3Provider) translateError(err error, operation, key string) error {
	var noSuchKey *s3types.NoSuchKey
	var noSuchBucket *s3types.NoSuchBucket

	switch {
	case stderrors.As(err, &noSuchKey):
		return errors.NewErrorf(errors.ErrCodeOriginNotFound, "object %s not found", key).
			WithComponent("origin").WithOperation(operation).WithCause(err)
	case stderrors.As(err, &noSuchBucket):
		return errors.NewErrorf(errors.ErrCodeOriginUnavailable, "bucket %s not found", p.cfg.Bucket).
			WithComponent("origin").WithOperation(operation).WithCause(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewErrorf(errors.ErrCodeOriginTimeout, "%s %s timed out", operation, key).
			WithComponent("origin").WithOperation(operation).WithCause(err)
	default:
		return errors.NewError(errors.ErrCodeOriginFetch, fmt.Sprintf("%s %s failed", operation, key)).
			WithComponent("origin").WithOperation(operation).WithCause(err)
	}
}

var _ types.ContentProvider = (*S3Provider)(nil)
