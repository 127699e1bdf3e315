package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	t.Parallel()

	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(fmt.Errorf("%w: 403", ErrUnauthorized)))
	assert.False(t, Retryable(fmt.Errorf("wrap: %w", ErrBucketNotFound)))
	assert.False(t, Retryable(ErrInvalidKey))
	assert.True(t, Retryable(fmt.Errorf("%w: 503", ErrTransient)))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.True(t, Retryable(errors.New("connection reset by peer")))
}
