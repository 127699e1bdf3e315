package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/email-signature/internal/config"
	"github.com/JakeFAU/email-signature/internal/render"
)

func testConfig(t *testing.T, backend string) config.Config {
	t.Helper()
	return config.Config{
		Server:    config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 30, MaxUploadBytes: 10 << 20},
		Telemetry: config.TelemetryConfig{ServiceName: "email-signature-test", SampleRatio: 1},
		Image:     config.ImageConfig{Width: 150, Height: 150, Quality: 95, Background: "#ffffff", MaxPixels: 40_000_000},
		Storage: config.StorageConfig{
			Backend:          backend,
			Prefix:           "headshots",
			LocalDir:         t.TempDir(),
			TimeoutSeconds:   5,
			MaxRetries:       2,
			BackoffInitialMs: 1,
			BackoffMaxMs:     2,
		},
		Documents: config.DocumentsConfig{Dir: t.TempDir()},
		Brand: config.BrandConfig{
			HomeURL:         "https://hedyandhopp.com/",
			BannerURL:       "https://i.imgur.com/iLpJv2j.png",
			BannerAlt:       "Hedy & Hopp",
			TextColor:       "#5c5a5b",
			LinkColor:       "#DB499A",
			FontFamily:      "Helvetica, Arial, sans-serif",
			ScheduleLabel:   "Schedule Time With Me",
			PodcastURL:      "https://podcasters.spotify.com/pod/show/wearemarketinghappy",
			PodcastImageURL: "https://i.imgur.com/tpTA5J3.png",
			PodcastAlt:      "Podcast",
		},
	}
}

func alphaPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 40, B: 90, A: uint8((x + y) % 256)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func submit(t *testing.T, h http.Handler, path string, fields map[string]string, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("headshot", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var janeForm = map[string]string{
	"first_name":  "Jane",
	"last_name":   "Doe",
	"title":       "engineer",
	"cell_number": "555-123-4567",
	"email":       "jane@x.com",
}

// Not parallel: Build installs the global tracer provider.
func TestBuildMemoryBackendEndToEnd(t *testing.T) {
	app, err := BuildWithLogger(t.Context(), testConfig(t, config.BackendMemory), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	rec := submit(t, app.Handler(), "/v1/signatures", janeForm, "jane.png", alphaPNG(t, 500, 500))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		HTML        string `json:"html"`
		Filename    string `json:"filename"`
		DownloadURL string `json:"download_url"`
		HeadshotURL string `json:"headshot_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "signature_jane_doe.html", resp.Filename)
	require.True(t, strings.HasPrefix(resp.HeadshotURL, "https://memory.invalid/blobs/headshots/jane-doe-"), resp.HeadshotURL)
	require.Contains(t, resp.HTML, "(555) 123-4567")
	require.Contains(t, resp.HTML, `href="mailto:jane@x.com"`)
	require.NotContains(t, resp.HTML, "Schedule Time With Me")
	require.Contains(t, resp.HTML, `src="`+resp.HeadshotURL+`"`)
	require.Contains(t, resp.HTML, `width="150" height="150"`, "headshot box follows image.width")

	download := httptest.NewRecorder()
	app.Handler().ServeHTTP(download, httptest.NewRequest(http.MethodGet, resp.DownloadURL, nil))
	require.Equal(t, http.StatusOK, download.Code)
	require.Equal(t, resp.HTML, download.Body.String())

	ready := httptest.NewRecorder()
	app.Handler().ServeHTTP(ready, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, ready.Code)
}

// Not parallel: Build installs the global tracer provider.
func TestBuildLocalBackendServesMedia(t *testing.T) {
	cfg := testConfig(t, config.BackendLocal)
	cfg.Storage.PublicBaseURL = "http://signatures.test/media"
	app, err := BuildWithLogger(t.Context(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	rec := submit(t, app.Handler(), "/v1/signatures", janeForm, "jane.png", alphaPNG(t, 500, 500))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		HeadshotURL string `json:"headshot_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	u, err := url.Parse(resp.HeadshotURL)
	require.NoError(t, err)
	require.Equal(t, "signatures.test", u.Host)

	media := httptest.NewRecorder()
	app.Handler().ServeHTTP(media, httptest.NewRequest(http.MethodGet, u.Path, nil))
	require.Equal(t, http.StatusOK, media.Code)

	img, err := jpeg.Decode(bytes.NewReader(media.Body.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 150, img.Bounds().Dx())
	require.Equal(t, 150, img.Bounds().Dy())
}

// Not parallel: Build installs the global tracer provider.
func TestBuildRejectsMissingEmail(t *testing.T) {
	app, err := BuildWithLogger(t.Context(), testConfig(t, config.BackendMemory), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	form := map[string]string{}
	for k, v := range janeForm {
		form[k] = v
	}
	delete(form, "email")
	rec := submit(t, app.Handler(), "/", form, "jane.png", alphaPNG(t, 50, 50))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Please enter an email address.")
	require.Contains(t, rec.Body.String(), `value="Jane"`)
}

func pubsubEmulator(t *testing.T) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	t.Setenv("PUBSUB_EMULATOR_HOST", srv.Addr)
}

// Not parallel: Build installs the global tracer provider.
func TestBuildReleasesResourcesOnError(t *testing.T) {
	pubsubEmulator(t)
	cfg := testConfig(t, config.BackendMemory)
	cfg.PubSub = config.PubSubConfig{ProjectID: "test-project", TopicName: "signatures"}
	cfg.Image.Background = "#zz"

	app, err := BuildWithLogger(t.Context(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "image background")
	require.Nil(t, app)

	_, span := otel.Tracer("build-test").Start(context.Background(), "after-failed-build")
	defer span.End()
	require.False(t, span.IsRecording(), "tracer provider should be shut down")
}

// Not parallel: uses t.Setenv.
func TestAbortStopsNotifier(t *testing.T) {
	pubsubEmulator(t)
	cfg := testConfig(t, config.BackendMemory)
	cfg.PubSub = config.PubSubConfig{ProjectID: "test-project", TopicName: "signatures"}

	app, err := NewApp(cfg, zap.NewNop())
	require.NoError(t, err)
	notifier, err := setupNotifier(t.Context(), app)
	require.NoError(t, err)
	require.NotNil(t, notifier)
	require.NotNil(t, app.pubsubTopic)

	app.abort(context.Background())

	res := app.pubsubTopic.Publish(context.Background(), &pubsub.Message{Data: []byte("x")})
	_, err = res.Get(context.Background())
	require.Error(t, err, "publishing after abort should fail")
}

func TestBrandFromConfig(t *testing.T) {
	t.Parallel()

	brand := BrandFromConfig(config.BrandConfig{
		HomeURL:   "https://example.com/",
		BannerURL: "https://example.com/banner.png",
		BannerAlt: "Example",
		LinkColor: "#000000",
	}, 150)
	require.Len(t, brand.Footer, 1)
	require.Equal(t, "https://example.com/banner.png", brand.Footer[0].ImageURL)
	require.Equal(t, "#000000", brand.LinkColor)
	require.Equal(t, "#5c5a5b", brand.TextColor)
	require.True(t, strings.HasSuffix(brand.FontFamily, "sans-serif"))
	require.Nil(t, brand.Header)

	brand = BrandFromConfig(config.BrandConfig{
		HeaderImageURL: "https://example.com/header.png",
		HeaderURL:      "https://example.com/",
		HeaderHeight:   90,
	}, 150)
	require.NotNil(t, brand.Header)
	require.Equal(t, render.Banner{
		Href: "https://example.com/", ImageURL: "https://example.com/header.png", Width: 600, Height: 90,
	}, *brand.Header)
	require.Empty(t, brand.Footer)
}

func TestBrandFromConfigHeadshotSize(t *testing.T) {
	t.Parallel()

	require.Equal(t, 150, BrandFromConfig(config.BrandConfig{}, 150).HeadshotSize)
	require.Equal(t, 96, BrandFromConfig(config.BrandConfig{HeadshotSize: 96}, 150).HeadshotSize)
	require.Equal(t, render.DefaultBrand().HeadshotSize, BrandFromConfig(config.BrandConfig{}, 0).HeadshotSize)
}
