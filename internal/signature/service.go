package signature

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/email-signature/internal/logging"
)

// Stage names used for logging and metrics.
const (
	StageValidate  = "validate"
	StageNormalize = "normalize"
	StagePublish   = "publish"
	StageRender    = "render"
	StagePersist   = "persist"
)

// Service runs the signature pipeline for one submission at a time. It holds
// no per-request state and is safe for concurrent use.
type Service struct {
	validator  FieldValidator
	normalizer Normalizer
	publisher  Publisher
	renderer   Renderer
	documents  DocumentStore
	notifier   Notifier
	clock      Clock
	observer   StageObserver
	logger     *zap.Logger
}

// NewService wires the pipeline stages. notifier and observer may be nil.
func NewService(
	validator FieldValidator,
	normalizer Normalizer,
	publisher Publisher,
	renderer Renderer,
	documents DocumentStore,
	notifier Notifier,
	clock Clock,
	observer StageObserver,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		validator:  validator,
		normalizer: normalizer,
		publisher:  publisher,
		renderer:   renderer,
		documents:  documents,
		notifier:   notifier,
		clock:      clock,
		observer:   observer,
		logger:     logger,
	}
}

// Generate validates the request, normalizes and publishes the headshot,
// renders the signature and persists a copy. Each stage fails closed: nothing
// is published unless the fields and the image are both valid.
func (s *Service) Generate(ctx context.Context, req Request, upload Upload) (Result, error) {
	logger := logging.FromContext(ctx, s.logger)

	var fields Fields
	if err := s.timed(StageValidate, func() error {
		var vErr error
		fields, vErr = s.validator.Validate(req)
		return vErr
	}); err != nil {
		logger.Info("submission rejected", zap.String("stage", StageValidate), zap.Error(err))
		return Result{}, err
	}
	logger = logger.With(zap.String("display_name", fields.DisplayName))

	var img NormalizedImage
	if err := s.timed(StageNormalize, func() error {
		var nErr error
		img, nErr = s.normalizer.Normalize(ctx, upload)
		return nErr
	}); err != nil {
		logger.Info("headshot rejected", zap.String("filename", upload.Filename), zap.Error(err))
		return Result{}, err
	}

	var artifact PublishedArtifact
	if err := s.timed(StagePublish, func() error {
		var pErr error
		artifact, pErr = s.publisher.Publish(ctx, fields.DisplayName, img)
		return pErr
	}); err != nil {
		logger.Error("headshot publish failed", zap.Error(err))
		return Result{}, err
	}
	logger.Info("headshot published", zap.String("key", artifact.Key), zap.String("url", artifact.URL))

	var doc Document
	if err := s.timed(StageRender, func() error {
		var rErr error
		doc, rErr = s.renderer.Render(fields, artifact.URL)
		return rErr
	}); err != nil {
		logger.Error("signature render failed", zap.Error(err))
		return Result{}, &RenderError{Err: err}
	}

	if err := s.timed(StagePersist, func() error {
		return s.documents.Save(ctx, doc)
	}); err != nil {
		logger.Error("signature persist failed", zap.String("filename", doc.Filename), zap.Error(err))
		return Result{}, fmt.Errorf("persist signature: %w", err)
	}
	logger.Info("signature rendered", zap.String("filename", doc.Filename))

	s.notify(ctx, logger, fields, artifact, doc)

	return Result{Document: doc, Artifact: artifact, Fields: fields}, nil
}

func (s *Service) notify(ctx context.Context, logger *zap.Logger, fields Fields, artifact PublishedArtifact, doc Document) {
	if s.notifier == nil {
		return
	}
	event := Event{
		DisplayName: fields.DisplayName,
		Email:       fields.Email,
		Filename:    doc.Filename,
		HeadshotURL: artifact.URL,
		RenderedAt:  s.now(),
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		logger.Warn("signature notification failed", zap.Error(err))
	}
}

func (s *Service) timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	if s.observer != nil {
		s.observer.ObserveStage(stage, time.Since(start))
	}
	return err
}

func (s *Service) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}
