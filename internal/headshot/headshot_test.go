package headshot

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/email-signature/internal/signature"
)

// transparentPNG draws a w x h image whose left half is opaque red and whose
// right half is fully transparent.
func transparentPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			img.Set(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func opaqueJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func palettedGIF(t *testing.T, w, h int) []byte {
	t.Helper()
	palette := color.Palette{color.Transparent, color.RGBA{G: 255, A: 255}}
	img := image.NewPaletted(image.Rect(0, 0, w, h), palette)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetColorIndex(x, y, 1)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := New(DefaultConfig())
	require.NoError(t, err)
	return n
}

func requireImageError(t *testing.T, err error, kind signature.ImageErrorKind) {
	t.Helper()
	var iErr *signature.ImageError
	require.True(t, errors.As(err, &iErr), "expected ImageError, got %v", err)
	require.Equal(t, kind, iErr.Kind)
}

// decodeOutput checks the canonical encoding and returns the decoded image.
func decodeOutput(t *testing.T, img signature.NormalizedImage) image.Image {
	t.Helper()
	require.Equal(t, ContentType, img.ContentType)
	require.Equal(t, Extension, img.Extension)
	decoded, format, err := image.Decode(bytes.NewReader(img.Data))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	return decoded
}

func TestNormalize_SupportedFormatsYieldTargetSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		filename string
		data     func(t *testing.T) []byte
	}{
		{name: "png with alpha", filename: "me.png", data: func(t *testing.T) []byte { return transparentPNG(t, 500, 500) }},
		{name: "wide jpeg", filename: "me.JPG", data: func(t *testing.T) []byte { return opaqueJPEG(t, 400, 200) }},
		{name: "tall jpeg", filename: "me.jpeg", data: func(t *testing.T) []byte { return opaqueJPEG(t, 90, 300) }},
		{name: "paletted gif", filename: "me.gif", data: func(t *testing.T) []byte { return palettedGIF(t, 64, 64) }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n := newNormalizer(t)
			out, err := n.Normalize(context.Background(), signature.Upload{
				Filename: tt.filename,
				Content:  bytes.NewReader(tt.data(t)),
			})
			require.NoError(t, err)
			assert.Equal(t, 150, out.Width)
			assert.Equal(t, 150, out.Height)

			decoded := decodeOutput(t, out)
			assert.Equal(t, image.Rect(0, 0, 150, 150), decoded.Bounds())
			_, hasAlpha := decoded.(*image.NRGBA)
			assert.False(t, hasAlpha)
		})
	}
}

func TestNormalize_FlattensTransparencyOntoBackground(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t)
	out, err := n.Normalize(context.Background(), signature.Upload{
		Filename: "alpha.png",
		Content:  bytes.NewReader(transparentPNG(t, 500, 500)),
	})
	require.NoError(t, err)
	decoded := decodeOutput(t, out)

	for _, pt := range []image.Point{{5, 5}, {140, 140}, {75, 10}} {
		_, _, _, a := decoded.At(pt.X, pt.Y).RGBA()
		require.Equal(t, uint32(0xffff), a, "pixel %v must be opaque", pt)
	}

	r, g, b, _ := decoded.At(140, 75).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))

	r, g, b, _ = decoded.At(10, 75).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(60))
	assert.Less(t, b>>8, uint32(60))
}

func TestNormalize_CustomBackgroundAndSize(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Width = 120
	cfg.Height = 80
	cfg.Background = color.Black
	n, err := New(cfg)
	require.NoError(t, err)

	out, err := n.Normalize(context.Background(), signature.Upload{
		Filename: "alpha.png",
		Content:  bytes.NewReader(transparentPNG(t, 300, 300)),
	})
	require.NoError(t, err)
	decoded := decodeOutput(t, out)
	require.Equal(t, image.Rect(0, 0, 120, 80), decoded.Bounds())

	r, g, b, _ := decoded.At(115, 40).RGBA()
	assert.Less(t, r>>8, uint32(20))
	assert.Less(t, g>>8, uint32(20))
	assert.Less(t, b>>8, uint32(20))
}

type explodingReader struct{ t *testing.T }

func (r explodingReader) Read([]byte) (int, error) {
	r.t.Error("content must not be read for a disallowed extension")
	return 0, errors.New("read attempted")
}

func TestNormalize_RejectsExtensionBeforeDecode(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t)
	for _, name := range []string{"me.bmp", "notes.txt", "me", "me.png.exe", "me.svg"} {
		_, err := n.Normalize(context.Background(), signature.Upload{
			Filename: name,
			Content:  explodingReader{t: t},
		})
		requireImageError(t, err, signature.ImageUnsupportedType)
	}
}

func TestNormalize_Missing(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t)
	_, err := n.Normalize(context.Background(), signature.Upload{Filename: "", Content: bytes.NewReader(nil)})
	requireImageError(t, err, signature.ImageMissing)

	_, err = n.Normalize(context.Background(), signature.Upload{Filename: "me.png"})
	requireImageError(t, err, signature.ImageMissing)
}

func TestNormalize_CorruptAndTruncated(t *testing.T) {
	t.Parallel()

	n := newNormalizer(t)
	valid := transparentPNG(t, 200, 200)

	cases := map[string][]byte{
		"garbage":   []byte("definitely not an image"),
		"truncated": valid[:len(valid)/2],
		"empty":     {},
	}
	for name, data := range cases {
		_, err := n.Normalize(context.Background(), signature.Upload{
			Filename: "me.png",
			Content:  bytes.NewReader(data),
		})
		requireImageError(t, err, signature.ImageDecodeFailed)
		require.NotEmpty(t, err.Error(), name)
	}
}

func TestNormalize_TooLarge(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxBytes = 64
	n, err := New(cfg)
	require.NoError(t, err)
	_, err = n.Normalize(context.Background(), signature.Upload{
		Filename: "me.png",
		Content:  bytes.NewReader(transparentPNG(t, 200, 200)),
	})
	requireImageError(t, err, signature.ImageTooLarge)

	cfg = DefaultConfig()
	cfg.MaxPixels = 100 * 100
	n, err = New(cfg)
	require.NoError(t, err)
	_, err = n.Normalize(context.Background(), signature.Upload{
		Filename: "me.png",
		Content:  bytes.NewReader(transparentPNG(t, 200, 200)),
	})
	requireImageError(t, err, signature.ImageTooLarge)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Width = 0
	_, err := New(cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.Quality = 101
	_, err = New(cfg)
	require.Error(t, err)
}

func TestAllowedExtension(t *testing.T) {
	t.Parallel()

	assert.True(t, AllowedExtension("A.PNG"))
	assert.True(t, AllowedExtension("b.jpeg"))
	assert.False(t, AllowedExtension("c.webp"))
	assert.False(t, AllowedExtension("png"))
}
