package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/email-signature/internal/hash/sha256"
	"github.com/JakeFAU/email-signature/internal/retry"
	"github.com/JakeFAU/email-signature/internal/signature"
	"github.com/JakeFAU/email-signature/internal/storage"
	"github.com/JakeFAU/email-signature/internal/storage/memory"
)

func testImage(data string) signature.NormalizedImage {
	return signature.NormalizedImage{
		Data:        []byte(data),
		Width:       150,
		Height:      150,
		ContentType: "image/jpeg",
		Extension:   ".jpg",
	}
}

type attemptRecorder struct {
	mu      sync.Mutex
	results []string
}

func (r *attemptRecorder) record(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func newPublisher(t *testing.T, store storage.BlobStore, rec *attemptRecorder) *Publisher {
	t.Helper()
	cfg := Config{
		Prefix:         "/headshots/",
		AttemptTimeout: time.Second,
		Retry:          retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
	if rec != nil {
		cfg.OnAttempt = rec.record
	}
	p, err := New(store, sha256.New(), cfg, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestPublishStoresObjectAndBuildsURL(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore("https://storage.googleapis.com/brand-bucket")
	p := newPublisher(t, store, nil)

	art, err := p.Publish(context.Background(), "JANE DOE", testImage("jpeg-bytes"))
	require.NoError(t, err)

	digest, err := sha256.New().Hash([]byte("jpeg-bytes"))
	require.NoError(t, err)
	wantKey := "headshots/jane-doe-" + digest[:DigestLength] + ".jpg"
	assert.Equal(t, wantKey, art.Key)
	assert.Equal(t, "https://storage.googleapis.com/brand-bucket/"+wantKey, art.URL)

	data, contentType, ok := store.Get(wantKey)
	require.True(t, ok)
	assert.Equal(t, "jpeg-bytes", string(data))
	assert.Equal(t, "image/jpeg", contentType)
}

func TestPublishIsIdempotentForSameSubmission(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore("")
	p := newPublisher(t, store, nil)

	first, err := p.Publish(context.Background(), "Jane Doe", testImage("same"))
	require.NoError(t, err)
	second, err := p.Publish(context.Background(), "Jane Doe", testImage("same"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.Keys())
	data, _, ok := store.Get(first.Key)
	require.True(t, ok)
	assert.Equal(t, "same", string(data))
}

func TestPublishKeysDoNotCollide(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore("")
	p := newPublisher(t, store, nil)

	a, err := p.Publish(context.Background(), "Jane Doe", testImage("photo-a"))
	require.NoError(t, err)
	b, err := p.Publish(context.Background(), "Jane Doe", testImage("photo-b"))
	require.NoError(t, err)
	c, err := p.Publish(context.Background(), "John Roe", testImage("photo-a"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Key, b.Key)
	assert.NotEqual(t, a.Key, c.Key)
	assert.Equal(t, 3, store.Keys())
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore("")
	store.FailNext(
		fmt.Errorf("%w: 503", storage.ErrTransient),
		context.DeadlineExceeded,
	)
	rec := &attemptRecorder{}
	p := newPublisher(t, store, rec)

	art, err := p.Publish(context.Background(), "Jane Doe", testImage("x"))
	require.NoError(t, err)
	assert.NotEmpty(t, art.URL)
	assert.Equal(t, 3, store.Puts())
	assert.Equal(t, []string{"retry", "retry", "ok"}, rec.results)
}

func TestPublishDoesNotRetryUnauthorized(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore("")
	store.FailNext(fmt.Errorf("%w: 403 forbidden", storage.ErrUnauthorized))
	rec := &attemptRecorder{}
	p := newPublisher(t, store, rec)

	_, err := p.Publish(context.Background(), "Jane Doe", testImage("x"))
	var pErr *signature.PublishError
	require.True(t, errors.As(err, &pErr))
	assert.ErrorIs(t, err, storage.ErrUnauthorized)
	assert.True(t, strings.HasPrefix(pErr.Key, "headshots/jane-doe-"))
	assert.Equal(t, 1, store.Puts())
	assert.Equal(t, []string{"error"}, rec.results)
	assert.Equal(t, 0, store.Keys())
}

func TestPublishGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore("")
	transient := fmt.Errorf("%w: 500", storage.ErrTransient)
	store.FailNext(transient, transient, transient, transient)
	p := newPublisher(t, store, nil)

	_, err := p.Publish(context.Background(), "Jane Doe", testImage("x"))
	var pErr *signature.PublishError
	require.True(t, errors.As(err, &pErr))
	assert.ErrorIs(t, err, storage.ErrTransient)
	assert.Equal(t, 3, store.Puts())
}

func TestPublishRejectsEmptyImage(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore("")
	p := newPublisher(t, store, nil)
	_, err := p.Publish(context.Background(), "Jane Doe", signature.NormalizedImage{})
	var pErr *signature.PublishError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, 0, store.Puts())
}

func TestKeyFallsBackForUnsluggableNames(t *testing.T) {
	t.Parallel()

	p := newPublisher(t, memory.NewBlobStore(""), nil)
	key, err := p.Key("?!. ", testImage("x"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "headshots/headshot-"), key)
	assert.True(t, strings.HasSuffix(key, ".jpg"), key)
}

func TestKeyKeepsNonLatinNames(t *testing.T) {
	t.Parallel()

	p := newPublisher(t, memory.NewBlobStore(""), nil)
	han, err := p.Key("李小龍", testImage("x"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(han, "headshots/李小龍-"), han)

	cyr, err := p.Key("ИВАН ПЕТРОВ", testImage("x"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cyr, "headshots/иван-петров-"), cyr)

	u := ObjectURL("https://storage.googleapis.com/b", han)
	assert.True(t, strings.HasPrefix(u, "https://storage.googleapis.com/b/headshots/%E6%9D%8E%E5%B0%8F%E9%BE%8D-"), u)
}

func TestObjectURLEscapesSegments(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"https://storage.googleapis.com/b/head%20shots/o%27brien%3F%23.jpg",
		ObjectURL("https://storage.googleapis.com/b/", "head shots/o'brien?#.jpg"),
	)
	assert.Equal(t, "memory://blobs/a/b.jpg", ObjectURL("memory://blobs", "/a/b.jpg"))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, sha256.New(), Config{AttemptTimeout: time.Second}, nil)
	require.Error(t, err)
	_, err = New(memory.NewBlobStore(""), nil, Config{AttemptTimeout: time.Second}, nil)
	require.Error(t, err)
	_, err = New(memory.NewBlobStore(""), sha256.New(), Config{}, nil)
	require.Error(t, err)
}

func TestPublishReportsUploadedSize(t *testing.T) {
	t.Parallel()

	var sizes []int
	p, err := New(memory.NewBlobStore(""), sha256.New(), Config{
		AttemptTimeout: time.Second,
		OnUploaded:     func(size int) { sizes = append(sizes, size) },
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), "Jane Doe", testImage("12345"))
	require.NoError(t, err)
	assert.Equal(t, []int{5}, sizes)
}
