// Package s3 provides a BlobStore backed by Amazon S3 or an S3-compatible
// service.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	blob "github.com/JakeFAU/email-signature/internal/storage"
)

// Client is the subset of the S3 API the store uses.
type Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config contains the bucket and connection settings.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for S3-compatible services
	AccessKeyID     string // optional, falls back to the default chain
	SecretAccessKey string
	ForcePathStyle  bool
	PublicBaseURL   string // optional override for the public read URL
	CacheControl    string
}

// BlobStore writes headshots with single PutObject calls, which S3 applies
// atomically.
type BlobStore struct {
	client  Client
	bucket  string
	baseURL string
	cache   string
}

// New loads the AWS configuration and builds a client. The SDK's own retryer
// is limited to one attempt because the publisher owns retry policy.
func New(ctx context.Context, cfg Config) (*BlobStore, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
		o.RetryMaxAttempts = 1
	})
	return NewWithClient(client, cfg)
}

// NewWithClient builds a store around an existing client.
func NewWithClient(client Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return &BlobStore{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: BaseURL(cfg),
		cache:   cfg.CacheControl,
	}, nil
}

func validate(cfg Config) error {
	if cfg.Bucket == "" {
		return fmt.Errorf("bucket name is required")
	}
	if cfg.Region == "" {
		return fmt.Errorf("region is required")
	}
	return nil
}

// BaseURL returns the public base URL for cfg: the override when set, the
// path-style endpoint URL for S3-compatible services, or the virtual-hosted
// AWS URL.
func BaseURL(cfg Config) string {
	switch {
	case cfg.PublicBaseURL != "":
		return strings.TrimSuffix(cfg.PublicBaseURL, "/")
	case cfg.Endpoint != "":
		return strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
}

// PublicBaseURL implements storage.BlobStore.
func (s *BlobStore) PublicBaseURL() string {
	return s.baseURL
}

// PutObject implements storage.BlobStore.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return blob.ErrInvalidKey
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if s.cache != "" {
		input.CacheControl = aws.String(s.cache)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return classify(fmt.Errorf("put object: %w", err))
	}
	return nil
}

var authCodes = map[string]struct{}{
	"AccessDenied":          {},
	"InvalidAccessKeyId":    {},
	"SignatureDoesNotMatch": {},
	"ExpiredToken":          {},
	"InvalidToken":          {},
	"AllAccessDisabled":     {},
}

var transientCodes = map[string]struct{}{
	"RequestTimeout":       {},
	"SlowDown":             {},
	"ServiceUnavailable":   {},
	"InternalError":        {},
	"RequestTimeTooSkewed": {},
}

// classify tags err with a storage sentinel.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return fmt.Errorf("%w: %w", blob.ErrBucketNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if _, ok := authCodes[code]; ok {
			return fmt.Errorf("%w: %w", blob.ErrUnauthorized, err)
		}
		if _, ok := transientCodes[code]; ok {
			return fmt.Errorf("%w: %w", blob.ErrTransient, err)
		}
		if code == "NoSuchBucket" {
			return fmt.Errorf("%w: %w", blob.ErrBucketNotFound, err)
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch status := respErr.HTTPStatusCode(); {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return fmt.Errorf("%w: %w", blob.ErrUnauthorized, err)
		case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %w", blob.ErrTransient, err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", blob.ErrTransient, err)
	}
	return err
}
