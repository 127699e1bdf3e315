// Package publish uploads normalized headshots to object storage under a
// deterministic key and returns their public URL.
//
// Keys have the form <prefix>/<name-slug>-<digest><ext>, where digest is the
// leading part of the SHA-256 of the encoded image. Re-publishing the same
// submission therefore rewrites the same object with identical bytes, while a
// different person's headshot, or a new photo of the same person, never lands on
// an existing key.
//
// Buckets must already allow public reads; this package never touches ACLs.
package publish

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/email-signature/internal/logging"
	"github.com/JakeFAU/email-signature/internal/retry"
	"github.com/JakeFAU/email-signature/internal/signature"
	"github.com/JakeFAU/email-signature/internal/slug"
	"github.com/JakeFAU/email-signature/internal/storage"
)

// DigestLength is the number of hex characters of the content digest kept in keys.
const DigestLength = 16

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Config controls key layout and upload behavior.
type Config struct {
	// Prefix is the logical namespace, e.g. "headshots".
	Prefix string
	// AttemptTimeout bounds each upload attempt.
	AttemptTimeout time.Duration
	Retry          retry.Policy
	// OnAttempt, when set, receives "ok", "retry" or "error" per attempt.
	OnAttempt func(result string)
	// OnUploaded, when set, receives the size of each stored object.
	OnUploaded func(size int)
}

// Publisher implements signature.Publisher.
type Publisher struct {
	store  storage.BlobStore
	hasher Hasher
	cfg    Config
	logger *zap.Logger
}

// New builds a Publisher.
func New(store storage.BlobStore, hasher Hasher, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if cfg.AttemptTimeout <= 0 {
		return nil, fmt.Errorf("attempt timeout must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = storage.Retryable
	}
	return &Publisher{store: store, hasher: hasher, cfg: cfg, logger: logger}, nil
}

// Key derives the storage key for a subject's normalized headshot.
func (p *Publisher) Key(subject string, img signature.NormalizedImage) (string, error) {
	digest, err := p.hasher.Hash(img.Data)
	if err != nil {
		return "", fmt.Errorf("hash headshot: %w", err)
	}
	if len(digest) > DigestLength {
		digest = digest[:DigestLength]
	}
	name := slug.Make(subject, "-")
	if name == "" {
		name = "headshot"
	}
	ext := img.Extension
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	base := fmt.Sprintf("%s-%s%s", name, digest, ext)
	if p.cfg.Prefix == "" {
		return base, nil
	}
	return p.cfg.Prefix + "/" + base, nil
}

// Publish uploads img and returns its key and public URL. Transient failures
// are retried with backoff; credential failures are returned at once. All
// failures are *signature.PublishError.
func (p *Publisher) Publish(ctx context.Context, subject string, img signature.NormalizedImage) (signature.PublishedArtifact, error) {
	if len(img.Data) == 0 {
		return signature.PublishedArtifact{}, &signature.PublishError{Err: errors.New("empty image")}
	}
	key, err := p.Key(subject, img)
	if err != nil {
		return signature.PublishedArtifact{}, &signature.PublishError{Err: err}
	}

	logger := logging.FromContext(ctx, p.logger)
	policy := p.cfg.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("headshot upload failed; retrying",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}

	err = policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		defer cancel()
		putErr := p.store.PutObject(attemptCtx, key, img.ContentType, img.Data)
		p.observe(putErr, policy.ShouldRetry(putErr, attempt))
		return putErr
	})
	if err != nil {
		return signature.PublishedArtifact{}, &signature.PublishError{Key: key, Err: err}
	}
	if p.cfg.OnUploaded != nil {
		p.cfg.OnUploaded(len(img.Data))
	}

	return signature.PublishedArtifact{
		Key: key,
		URL: ObjectURL(p.store.PublicBaseURL(), key),
	}, nil
}

func (p *Publisher) observe(err error, willRetry bool) {
	if p.cfg.OnAttempt == nil {
		return
	}
	switch {
	case err == nil:
		p.cfg.OnAttempt("ok")
	case willRetry:
		p.cfg.OnAttempt("retry")
	default:
		p.cfg.OnAttempt("error")
	}
}

// ObjectURL joins base and key, percent-encoding each key segment.
func ObjectURL(base, key string) string {
	segments := strings.Split(strings.Trim(key, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.Join(segments, "/")
}
