// Package config loads and validates signature service configuration via Viper.
package config

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends accepted by storage.backend.
const (
	BackendGCS    = "gcs"
	BackendS3     = "s3"
	BackendLocal  = "local"
	BackendMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Image     ImageConfig     `mapstructure:"image"`
	Storage   StorageConfig   `mapstructure:"storage"`
	S3        S3Config        `mapstructure:"s3"`
	Documents DocumentsConfig `mapstructure:"documents"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Brand     BrandConfig     `mapstructure:"brand"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int   `mapstructure:"port"`
	RequestTimeoutSeconds int   `mapstructure:"request_timeout_seconds"`
	MaxUploadBytes        int64 `mapstructure:"max_upload_bytes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig controls trace context generation.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ImageConfig describes the canonical headshot.
type ImageConfig struct {
	Width      int    `mapstructure:"width"`
	Height     int    `mapstructure:"height"`
	Quality    int    `mapstructure:"quality"`
	Background string `mapstructure:"background"`
	MaxPixels  int    `mapstructure:"max_pixels"`
}

// StorageConfig selects and tunes the headshot blob store.
type StorageConfig struct {
	Backend          string `mapstructure:"backend"`
	Bucket           string `mapstructure:"bucket"`
	Prefix           string `mapstructure:"prefix"`
	PublicBaseURL    string `mapstructure:"public_base_url"`
	LocalDir         string `mapstructure:"local_dir"`
	CacheControl     string `mapstructure:"cache_control"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// S3Config carries the AWS-specific settings used when storage.backend is s3.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// DocumentsConfig locates rendered signature documents.
type DocumentsConfig struct {
	Dir string `mapstructure:"dir"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// BrandConfig holds the static assets and colours of the signature template.
type BrandConfig struct {
	HomeURL         string `mapstructure:"home_url"`
	BannerURL       string `mapstructure:"banner_url"`
	BannerAlt       string `mapstructure:"banner_alt"`
	PodcastURL      string `mapstructure:"podcast_url"`
	PodcastImageURL string `mapstructure:"podcast_image_url"`
	PodcastAlt      string `mapstructure:"podcast_alt"`
	TextColor       string `mapstructure:"text_color"`
	LinkColor       string `mapstructure:"link_color"`
	FontFamily      string `mapstructure:"font_family"`
	ScheduleLabel   string `mapstructure:"schedule_label"`
	// HeadshotSize is the rendered headshot box; zero means image.width.
	HeadshotSize int `mapstructure:"headshot_size"`
	// HeaderImageURL, when set, adds a banner above the signature.
	HeaderImageURL string `mapstructure:"header_image_url"`
	HeaderURL      string `mapstructure:"header_url"`
	HeaderAlt      string `mapstructure:"header_alt"`
	HeaderHeight   int    `mapstructure:"header_height"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SIGNATURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Cloud Run injects PORT.
	if err := v.BindEnv("server.port", "SIGNATURE_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "email-signature")
	v.SetDefault("telemetry.sample_ratio", 0.1)
	v.SetDefault("image.width", 150)
	v.SetDefault("image.height", 150)
	v.SetDefault("image.quality", 95)
	v.SetDefault("image.background", "#ffffff")
	v.SetDefault("image.max_pixels", 40_000_000)
	v.SetDefault("storage.backend", BackendGCS)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "headshots")
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.local_dir", "static/headshots")
	v.SetDefault("storage.cache_control", "public, max-age=31536000, immutable")
	v.SetDefault("storage.timeout_seconds", 15)
	v.SetDefault("storage.max_retries", 3)
	v.SetDefault("storage.backoff_initial_ms", 250)
	v.SetDefault("storage.backoff_max_ms", 2000)
	// Empty defaults register the keys so env-only overrides reach Unmarshal.
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.force_path_style", false)
	v.SetDefault("documents.dir", "static/signatures")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("brand.home_url", "https://hedyandhopp.com/")
	v.SetDefault("brand.banner_url", "https://i.imgur.com/iLpJv2j.png")
	v.SetDefault("brand.banner_alt", "Hedy & Hopp")
	v.SetDefault("brand.podcast_url", "https://podcasters.spotify.com/pod/show/wearemarketinghappy")
	v.SetDefault("brand.podcast_image_url", "https://i.imgur.com/tpTA5J3.png")
	v.SetDefault("brand.podcast_alt", "We Are, Marketing Happy Podcast")
	v.SetDefault("brand.text_color", "#5c5a5b")
	v.SetDefault("brand.link_color", "#DB499A")
	v.SetDefault("brand.font_family", "'Avenir', 'Helvetica Neue', Helvetica, Arial, sans-serif")
	v.SetDefault("brand.schedule_label", "Schedule Time With Me")
	v.SetDefault("brand.headshot_size", 0)
	v.SetDefault("brand.header_image_url", "")
	v.SetDefault("brand.header_url", "")
	v.SetDefault("brand.header_alt", "")
	v.SetDefault("brand.header_height", 100)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be > 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within 0..1")
	}
	if c.Image.Width <= 0 || c.Image.Height <= 0 {
		return fmt.Errorf("image.width and image.height must be > 0")
	}
	if c.Image.Quality < 1 || c.Image.Quality > 100 {
		return fmt.Errorf("image.quality must be within 1..100")
	}
	if c.Brand.HeadshotSize < 0 {
		return fmt.Errorf("brand.headshot_size must be >= 0")
	}
	if _, err := ParseHexColor(c.Image.Background); err != nil {
		return fmt.Errorf("image.background: %w", err)
	}
	if c.Image.MaxPixels <= 0 {
		return fmt.Errorf("image.max_pixels must be > 0")
	}
	if err := c.Storage.validate(c.S3); err != nil {
		return err
	}
	if strings.TrimSpace(c.Documents.Dir) == "" {
		return fmt.Errorf("documents.dir must be set")
	}
	if (c.PubSub.TopicName == "") != (c.PubSub.ProjectID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

func (s StorageConfig) validate(s3 S3Config) error {
	switch s.Backend {
	case BackendGCS:
		if s.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	case BackendS3:
		if s.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the s3 backend")
		}
		if s3.Region == "" {
			return fmt.Errorf("s3.region must be set for the s3 backend")
		}
	case BackendLocal:
		if s.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not one of gcs, s3, local, memory", s.Backend)
	}
	if s.TimeoutSeconds <= 0 {
		return fmt.Errorf("storage.timeout_seconds must be > 0")
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("storage.max_retries must be >= 0")
	}
	if s.BackoffInitialMs <= 0 || s.BackoffMaxMs < s.BackoffInitialMs {
		return fmt.Errorf("storage.backoff_initial_ms must be > 0 and <= storage.backoff_max_ms")
	}
	return nil
}

// RequestTimeout bounds one signature request end to end.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// AttemptTimeout bounds a single blob store write.
func (s StorageConfig) AttemptTimeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// BackoffInitial is the first retry delay.
func (s StorageConfig) BackoffInitial() time.Duration {
	return time.Duration(s.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps the retry delay.
func (s StorageConfig) BackoffMax() time.Duration {
	return time.Duration(s.BackoffMaxMs) * time.Millisecond
}

// ParseHexColor parses "#rgb" or "#rrggbb" into an opaque colour.
func ParseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 || !strings.HasPrefix(strings.TrimSpace(s), "#") {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	return color.NRGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 0xff}, nil
}
