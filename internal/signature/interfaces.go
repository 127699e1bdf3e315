package signature

import (
	"context"
	"time"
)

// FieldValidator turns a raw request into validated fields.
type FieldValidator interface {
	Validate(req Request) (Fields, error)
}

// Normalizer converts an uploaded image into the canonical headshot.
type Normalizer interface {
	Normalize(ctx context.Context, upload Upload) (NormalizedImage, error)
}

// Publisher uploads a normalized headshot and returns where it can be fetched.
type Publisher interface {
	Publish(ctx context.Context, subject string, img NormalizedImage) (PublishedArtifact, error)
}

// Renderer fills the signature template.
type Renderer interface {
	Render(fields Fields, headshotURL string) (Document, error)
}

// DocumentStore persists rendered documents for later download.
type DocumentStore interface {
	Save(ctx context.Context, doc Document) error
}

// Notifier announces a rendered signature.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// StageObserver records per-stage timings.
type StageObserver interface {
	ObserveStage(stage string, d time.Duration)
}
