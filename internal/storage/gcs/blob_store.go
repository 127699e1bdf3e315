// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	blob "github.com/JakeFAU/email-signature/internal/storage"
)

// DefaultBaseURL is the public endpoint for objects in publicly readable buckets.
const DefaultBaseURL = "https://storage.googleapis.com"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// PublicBaseURL overrides DefaultBaseURL/<bucket>, e.g. for a CDN.
	PublicBaseURL string
	// CacheControl is set on every object; keys are content-addressed.
	CacheControl string
}

// BlobStore writes headshots to a configured GCS bucket.
type BlobStore struct {
	client  *storage.Client
	bucket  string
	baseURL string
	cache   string
}

// New creates a GCS-backed blob store. Credentials come from Application
// Default Credentials when the client is built.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: BaseURL(cfg),
		cache:   cfg.CacheControl,
	}, nil
}

// BaseURL returns the public base URL for cfg.
func BaseURL(cfg Config) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(cfg.PublicBaseURL, "/")
	}
	return DefaultBaseURL + "/" + cfg.Bucket
}

// PublicBaseURL implements storage.BlobStore.
func (s *BlobStore) PublicBaseURL() string {
	return s.baseURL
}

// PutObject uploads data in a single request. GCS only makes an object visible
// once the writer closes successfully; on a write failure the upload context is
// canceled first so the partial upload is discarded.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return blob.ErrInvalidKey
	}
	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(uploadCtx)
	writer.ChunkSize = 0
	if contentType != "" {
		writer.ContentType = contentType
	}
	if s.cache != "" {
		writer.CacheControl = s.cache
	}
	if _, err := writer.Write(data); err != nil {
		cancel()
		closeErr := writer.Close()
		if closeErr != nil {
			return classify(fmt.Errorf("write object: %w (close writer: %v)", err, closeErr))
		}
		return classify(fmt.Errorf("write object: %w", err))
	}
	if err := writer.Close(); err != nil {
		return classify(fmt.Errorf("close writer: %w", err))
	}
	return nil
}

// classify tags err with a storage sentinel based on the API status code.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %w", blob.ErrBucketNotFound, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %w", blob.ErrUnauthorized, err)
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %w", blob.ErrBucketNotFound, err)
		case apiErr.Code == http.StatusRequestTimeout,
			apiErr.Code == http.StatusTooManyRequests,
			apiErr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %w", blob.ErrTransient, err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", blob.ErrTransient, err)
	}
	return err
}
