// Package server builds the application's dependencies and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/email-signature/internal/api"
	"github.com/JakeFAU/email-signature/internal/clock/system"
	"github.com/JakeFAU/email-signature/internal/config"
	"github.com/JakeFAU/email-signature/internal/fields"
	"github.com/JakeFAU/email-signature/internal/hash/sha256"
	"github.com/JakeFAU/email-signature/internal/headshot"
	"github.com/JakeFAU/email-signature/internal/logging"
	"github.com/JakeFAU/email-signature/internal/metrics"
	pubsubnotify "github.com/JakeFAU/email-signature/internal/notify/pubsub"
	"github.com/JakeFAU/email-signature/internal/publish"
	"github.com/JakeFAU/email-signature/internal/render"
	"github.com/JakeFAU/email-signature/internal/retry"
	"github.com/JakeFAU/email-signature/internal/signature"
	blob "github.com/JakeFAU/email-signature/internal/storage"
	"github.com/JakeFAU/email-signature/internal/storage/documents"
	gcsstorage "github.com/JakeFAU/email-signature/internal/storage/gcs"
	localstorage "github.com/JakeFAU/email-signature/internal/storage/local"
	memorystorage "github.com/JakeFAU/email-signature/internal/storage/memory"
	s3storage "github.com/JakeFAU/email-signature/internal/storage/s3"
	"github.com/JakeFAU/email-signature/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	documents      *documents.Store
	pubsubClient   *pubsub.Client
	pubsubTopic    *pubsub.Topic
	storage        *storage.Client
	tracerShutdown func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg config.Config, logger *zap.Logger) (*App, error) {
	// Only non-sensitive fields are logged.
	type SanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		StorageBackend string `json:"storage_backend"`
		Bucket         string `json:"bucket,omitempty"`
		Notifications  bool   `json:"notifications"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:     cfg.Server.Port,
		StorageBackend: cfg.Storage.Backend,
		Bucket:         cfg.Storage.Bucket,
		Notifications:  cfg.PubSub.TopicName != "",
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close releases clients and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

// abort releases whatever a failed build had already created.
func (a *App) abort(ctx context.Context) {
	a.closeInfrastructure()
	a.closeObservability(ctx)
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on some terminals; nothing useful to do about it.
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger. On error every
// client and the tracer provider created so far are released.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.SampleRatio)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	defer func() {
		if err != nil {
			app.abort(context.WithoutCancel(ctx))
		}
	}()
	metrics.Init()

	app.logger.Info("building application dependencies")
	blobStore, mediaDir, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}

	notifier, err := setupNotifier(ctx, app)
	if err != nil {
		return nil, err
	}

	normalizer, err := setupNormalizer(cfg)
	if err != nil {
		return nil, err
	}

	publisher, err := publish.New(blobStore, sha256.New(), publish.Config{
		Prefix:         cfg.Storage.Prefix,
		AttemptTimeout: cfg.Storage.AttemptTimeout(),
		Retry: retry.Policy{
			MaxAttempts: cfg.Storage.MaxRetries + 1,
			BaseDelay:   cfg.Storage.BackoffInitial(),
			MaxDelay:    cfg.Storage.BackoffMax(),
		},
		OnAttempt:  metrics.ObservePublishAttempt,
		OnUploaded: metrics.ObserveUploadedBytes,
	}, logger.Named("publish"))
	if err != nil {
		return nil, fmt.Errorf("publisher init failed: %w", err)
	}

	renderer, err := render.New(BrandFromConfig(cfg.Brand, cfg.Image.Width))
	if err != nil {
		return nil, fmt.Errorf("renderer init failed: %w", err)
	}

	app.documents, err = documents.New(cfg.Documents.Dir)
	if err != nil {
		return nil, fmt.Errorf("document store init failed: %w", err)
	}

	service := signature.NewService(
		fields.New(),
		normalizer,
		publisher,
		renderer,
		app.documents,
		notifier,
		system.New(),
		metrics.StageObserver{},
		logger.Named("signature"),
	)

	app.apiServer, err = api.NewServer(service, app.documents, api.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		RequestTimeout: cfg.RequestTimeout(),
		MediaDir:       mediaDir,
		Ready:          app.ready,
	}, logger.Named("api"))
	if err != nil {
		return nil, fmt.Errorf("api server init failed: %w", err)
	}

	return app, nil
}

// setupStorage returns the headshot store and, for the local backend, the
// directory to serve under /media/.
func setupStorage(ctx context.Context, app *App) (blob.BlobStore, string, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend")
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket:        cfg.Bucket,
			PublicBaseURL: cfg.PublicBaseURL,
			CacheControl:  cfg.CacheControl,
		})
		if err != nil {
			return nil, "", fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", cfg.Bucket), zap.String("base_url", store.PublicBaseURL()))
		return store, "", nil
	case config.BackendS3:
		app.logger.Info("using S3 storage backend")
		s3 := app.cfg.S3
		store, err := s3storage.New(ctx, s3storage.Config{
			Bucket:          cfg.Bucket,
			Region:          s3.Region,
			Endpoint:        s3.Endpoint,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			ForcePathStyle:  s3.ForcePathStyle,
			PublicBaseURL:   cfg.PublicBaseURL,
			CacheControl:    cfg.CacheControl,
		})
		if err != nil {
			return nil, "", fmt.Errorf("s3 blob store init failed: %w", err)
		}
		app.logger.Debug("S3 storage backend", zap.String("bucket", cfg.Bucket), zap.String("base_url", store.PublicBaseURL()))
		return store, "", nil
	case config.BackendLocal:
		app.logger.Info("using local storage backend")
		baseURL := cfg.PublicBaseURL
		if baseURL == "" {
			baseURL = fmt.Sprintf("http://localhost:%d/media", app.cfg.Server.Port)
		}
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir, PublicBaseURL: baseURL})
		if err != nil {
			return nil, "", fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", store.Dir()), zap.String("base_url", baseURL))
		return store, store.Dir(), nil
	default:
		app.logger.Warn("using in-memory storage backend; headshot URLs will not resolve")
		return memorystorage.NewBlobStore(cfg.PublicBaseURL), "", nil
	}
}

func setupNotifier(ctx context.Context, app *App) (signature.Notifier, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("No Pub/Sub topic configured, notifications disabled")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubTopic = app.pubsubClient.Topic(app.cfg.PubSub.TopicName)
	app.logger.Info(
		"Pub/Sub notifier initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return pubsubnotify.New(app.pubsubTopic), nil
}

func setupNormalizer(cfg config.Config) (*headshot.Normalizer, error) {
	background, err := config.ParseHexColor(cfg.Image.Background)
	if err != nil {
		return nil, fmt.Errorf("image background: %w", err)
	}
	normalizer, err := headshot.New(headshot.Config{
		Width:      cfg.Image.Width,
		Height:     cfg.Image.Height,
		Quality:    cfg.Image.Quality,
		Background: background,
		MaxBytes:   cfg.Server.MaxUploadBytes,
		MaxPixels:  cfg.Image.MaxPixels,
	})
	if err != nil {
		return nil, fmt.Errorf("normalizer init failed: %w", err)
	}
	return normalizer, nil
}

// BrandFromConfig maps brand settings onto the template's brand. The headshot
// box is b.HeadshotSize when set, otherwise imageWidth.
func BrandFromConfig(b config.BrandConfig, imageWidth int) render.Brand {
	brand := render.DefaultBrand()
	brand.Footer = nil
	if b.HeaderImageURL != "" && b.HeaderHeight > 0 {
		brand.Header = &render.Banner{
			Href: b.HeaderURL, ImageURL: b.HeaderImageURL, Alt: b.HeaderAlt, Width: brand.Width, Height: b.HeaderHeight,
		}
	}
	if b.HomeURL != "" && b.BannerURL != "" {
		brand.Footer = append(brand.Footer, render.Banner{
			Href: b.HomeURL, ImageURL: b.BannerURL, Alt: b.BannerAlt, Width: 320, Height: 82,
		})
	}
	if b.PodcastURL != "" && b.PodcastImageURL != "" {
		brand.Footer = append(brand.Footer, render.Banner{
			Href: b.PodcastURL, ImageURL: b.PodcastImageURL, Alt: b.PodcastAlt, Width: 120, Height: 80,
		})
	}
	if b.TextColor != "" {
		brand.TextColor = b.TextColor
	}
	if b.LinkColor != "" {
		brand.LinkColor = b.LinkColor
	}
	if b.FontFamily != "" {
		brand.FontFamily = b.FontFamily
	}
	if b.ScheduleLabel != "" {
		brand.ScheduleLabel = b.ScheduleLabel
	}
	switch {
	case b.HeadshotSize > 0:
		brand.HeadshotSize = b.HeadshotSize
	case imageWidth > 0:
		brand.HeadshotSize = imageWidth
	}
	return brand
}

func (a *App) ready(_ context.Context) error {
	info, err := os.Stat(a.cfg.Documents.Dir)
	if err != nil {
		return fmt.Errorf("documents dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("documents dir %q is not a directory", a.cfg.Documents.Dir)
	}
	return nil
}
