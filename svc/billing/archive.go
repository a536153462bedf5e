package billing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dmitrymomot/jobboard/pkg/subscription"
)

var (
	ErrArchiveDisabled    = errors.New("webhook archive bucket is not configured")
	ErrArchiveConfig      = errors.New("failed to load archive storage config")
	ErrArchiveBucket      = errors.New("archive bucket not found")
	ErrArchiveDenied      = errors.New("archive bucket access denied")
	ErrArchiveUnavailable = errors.New("archive storage unavailable")
)

// ArchiveConfig locates the bucket that keeps raw webhook payloads.
// An empty bucket disables archiving.
type ArchiveConfig struct {
	Bucket         string `env:"BILLING_ARCHIVE_BUCKET"`
	Prefix         string `env:"BILLING_ARCHIVE_PREFIX" envDefault:"webhooks"`
	Region         string `env:"BILLING_ARCHIVE_REGION" envDefault:"us-east-1"`
	Endpoint       string `env:"BILLING_ARCHIVE_ENDPOINT"`
	AccessKeyID    string `env:"BILLING_ARCHIVE_ACCESS_KEY_ID"`
	SecretKey      string `env:"BILLING_ARCHIVE_SECRET_KEY"`
	ForcePathStyle bool   `env:"BILLING_ARCHIVE_FORCE_PATH_STYLE" envDefault:"false"`
}

// Enabled reports whether a bucket is configured.
func (c ArchiveConfig) Enabled() bool {
	return c.Bucket != ""
}

// ArchivedWebhook is one accepted delivery as received on the wire.
type ArchivedWebhook struct {
	Provider   subscription.Provider
	RequestID  string
	Outcome    subscription.Outcome
	Payload    []byte
	ReceivedAt time.Time
}

// PayloadArchive stores accepted webhook bodies for disputes and replays.
type PayloadArchive interface {
	Archive(ctx context.Context, hook ArchivedWebhook) error
}

// S3API is the subset of the S3 client used by S3Archive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive writes payloads to an S3 or S3-compatible bucket.
type S3Archive struct {
	client S3API
	bucket string
	prefix string
}

// ArchiveOption configures NewS3Archive.
type ArchiveOption func(*archiveOptions)

type archiveOptions struct {
	client S3API
}

// WithS3API replaces the SDK client, mostly for tests.
func WithS3API(client S3API) ArchiveOption {
	return func(o *archiveOptions) {
		o.client = client
	}
}

// NewS3Archive builds an archive from cfg. Static credentials are used when
// both keys are set, otherwise the default AWS credential chain applies.
func NewS3Archive(ctx context.Context, cfg ArchiveConfig, opts ...ArchiveOption) (*S3Archive, error) {
	if !cfg.Enabled() {
		return nil, ErrArchiveDisabled
	}

	o := &archiveOptions{}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
			))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrArchiveConfig, err)
		}
		client = s3.NewFromConfig(awsCfg, func(so *s3.Options) {
			if cfg.Endpoint != "" {
				so.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			so.UsePathStyle = cfg.ForcePathStyle
		})
	}

	return &S3Archive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Archive puts the payload under <prefix>/<provider>/<yyyy>/<mm>/<dd>/<request id>.json.
func (a *S3Archive) Archive(ctx context.Context, hook ArchivedWebhook) error {
	key := a.key(hook)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(hook.Payload),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"provider": string(hook.Provider),
			"outcome":  string(hook.Outcome),
		},
	})
	if err != nil {
		return classifyArchiveError(err, key)
	}
	return nil
}

func (a *S3Archive) key(hook ArchivedWebhook) string {
	at := hook.ReceivedAt.UTC()
	return path.Join(a.prefix, string(hook.Provider), at.Format("2006/01/02"), hook.RequestID+".json")
}

func classifyArchiveError(err error, key string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("archive %s: %w", key, err)
	}

	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return ErrArchiveBucket
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return ErrArchiveBucket
		case "AccessDenied":
			return fmt.Errorf("%w: %s", ErrArchiveDenied, key)
		case "SlowDown", "ServiceUnavailable", "RequestTimeout":
			return fmt.Errorf("%w: %s", ErrArchiveUnavailable, key)
		}
		return fmt.Errorf("archive %s failed (code: %s): %w", key, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("archive %s failed: %w", key, err)
}
