// Package headshot turns an uploaded raster image into the canonical headshot:
// a fixed-size, opaque JPEG.
//
// Every image goes through the same steps. The extension is checked against the
// allow-list before any bytes are decoded. The image is decoded with EXIF
// orientation applied, scaled and centre-cropped to fill the target box (aspect
// ratio preserved, no padding), flattened onto an opaque background and encoded
// as a baseline JPEG at a fixed quality.
package headshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/JakeFAU/email-signature/internal/signature"
)

// ContentType is the MIME type of every normalized headshot.
const ContentType = "image/jpeg"

// Extension is the file extension of every normalized headshot.
const Extension = ".jpg"

var allowedExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
}

// Config controls the output geometry and encoding.
type Config struct {
	Width      int
	Height     int
	Quality    int
	Background color.Color
	// MaxBytes bounds the upload size; zero disables the check.
	MaxBytes int64
	// MaxPixels bounds the decoded width*height; zero disables the check.
	MaxPixels int
}

// DefaultConfig returns a 150x150, quality-95, white-background config.
func DefaultConfig() Config {
	return Config{
		Width:      150,
		Height:     150,
		Quality:    95,
		Background: color.White,
		MaxBytes:   10 << 20,
		MaxPixels:  40_000_000,
	}
}

// Normalizer implements signature.Normalizer.
type Normalizer struct {
	cfg Config
}

// New validates cfg and returns a Normalizer.
func New(cfg Config) (*Normalizer, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("target dimensions must be > 0, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Quality < 1 || cfg.Quality > 100 {
		return nil, fmt.Errorf("jpeg quality must be within 1..100, got %d", cfg.Quality)
	}
	if cfg.Background == nil {
		cfg.Background = color.White
	}
	return &Normalizer{cfg: cfg}, nil
}

// AllowedExtension reports whether filename carries a supported extension.
func AllowedExtension(filename string) bool {
	_, ok := allowedExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Normalize reads the upload and returns the canonical headshot. Failures are
// always *signature.ImageError; decoder errors never leak unwrapped.
func (n *Normalizer) Normalize(ctx context.Context, upload signature.Upload) (signature.NormalizedImage, error) {
	if upload.Content == nil || strings.TrimSpace(upload.Filename) == "" {
		return signature.NormalizedImage{}, signature.NewImageError(signature.ImageMissing, nil)
	}
	if !AllowedExtension(upload.Filename) {
		return signature.NormalizedImage{}, signature.NewImageError(
			signature.ImageUnsupportedType,
			fmt.Errorf("extension %q not allowed", filepath.Ext(upload.Filename)),
		)
	}

	raw, err := n.readAll(upload.Content)
	if err != nil {
		return signature.NormalizedImage{}, err
	}
	if err := ctx.Err(); err != nil {
		return signature.NormalizedImage{}, fmt.Errorf("normalize headshot: %w", err)
	}

	if err := n.checkBounds(raw); err != nil {
		return signature.NormalizedImage{}, err
	}

	src, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return signature.NormalizedImage{}, signature.NewImageError(signature.ImageDecodeFailed, err)
	}

	out := n.transform(src)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(n.cfg.Quality)); err != nil {
		return signature.NormalizedImage{}, signature.NewImageError(signature.ImageEncodeFailed, err)
	}

	return signature.NormalizedImage{
		Data:        buf.Bytes(),
		Width:       n.cfg.Width,
		Height:      n.cfg.Height,
		ContentType: ContentType,
		Extension:   Extension,
	}, nil
}

// transform fills the target box and flattens any transparency.
func (n *Normalizer) transform(src image.Image) image.Image {
	filled := imaging.Fill(src, n.cfg.Width, n.cfg.Height, imaging.Center, imaging.Lanczos)
	background := imaging.New(n.cfg.Width, n.cfg.Height, n.cfg.Background)
	return imaging.Overlay(background, filled, image.Pt(0, 0), 1.0)
}

func (n *Normalizer) readAll(r io.Reader) ([]byte, error) {
	if n.cfg.MaxBytes <= 0 {
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, signature.NewImageError(signature.ImageDecodeFailed, fmt.Errorf("read upload: %w", err))
		}
		return raw, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r, n.cfg.MaxBytes+1))
	if err != nil {
		return nil, signature.NewImageError(signature.ImageDecodeFailed, fmt.Errorf("read upload: %w", err))
	}
	if int64(len(raw)) > n.cfg.MaxBytes {
		return nil, signature.NewImageError(
			signature.ImageTooLarge,
			fmt.Errorf("upload exceeds %d bytes", n.cfg.MaxBytes),
		)
	}
	return raw, nil
}

// checkBounds reads only the image header so oversized images are rejected
// before their pixels are allocated.
func (n *Normalizer) checkBounds(raw []byte) error {
	if len(raw) == 0 {
		return signature.NewImageError(signature.ImageDecodeFailed, errors.New("empty upload"))
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return signature.NewImageError(signature.ImageDecodeFailed, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return signature.NewImageError(
			signature.ImageDecodeFailed,
			fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height),
		)
	}
	if n.cfg.MaxPixels > 0 && cfg.Width*cfg.Height > n.cfg.MaxPixels {
		return signature.NewImageError(
			signature.ImageTooLarge,
			fmt.Errorf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, n.cfg.MaxPixels),
		)
	}
	return nil
}
