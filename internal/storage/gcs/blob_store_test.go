package gcs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	blob "github.com/JakeFAU/email-signature/internal/storage"
)

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)

	store, err := New(&storage.Client{}, Config{Bucket: "brand-assets"})
	require.NoError(t, err)
	require.Equal(t, "https://storage.googleapis.com/brand-assets", store.PublicBaseURL())
}

func TestBaseURLOverride(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://cdn.example.com/img", BaseURL(Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com/img/"}))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "forbidden", err: &googleapi.Error{Code: http.StatusForbidden}, want: blob.ErrUnauthorized},
		{name: "unauthorized", err: &googleapi.Error{Code: http.StatusUnauthorized}, want: blob.ErrUnauthorized},
		{name: "not found", err: &googleapi.Error{Code: http.StatusNotFound}, want: blob.ErrBucketNotFound},
		{name: "bucket missing", err: storage.ErrBucketNotExist, want: blob.ErrBucketNotFound},
		{name: "throttled", err: &googleapi.Error{Code: http.StatusTooManyRequests}, want: blob.ErrTransient},
		{name: "server error", err: &googleapi.Error{Code: http.StatusServiceUnavailable}, want: blob.ErrTransient},
		{name: "timeout", err: fmt.Errorf("write: %w", timeoutErr{}), want: blob.ErrTransient},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classify(fmt.Errorf("close writer: %w", tt.err))
			require.ErrorIs(t, got, tt.want)
		})
	}

	plain := errors.New("boom")
	require.Equal(t, plain, classify(plain))
	require.NoError(t, classify(nil))
}
