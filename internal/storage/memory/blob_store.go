// Package memory stores blob content in-memory for development and tests.
package memory

import (
	"context"
	"strings"
	"sync"

	blob "github.com/JakeFAU/email-signature/internal/storage"
)

// BlobStore stores objects in a map keyed by object key.
type BlobStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	types    map[string]string
	puts     int
	baseURL  string
	failures []error
}

// NewBlobStore creates a new in-memory blob store serving from baseURL.
func NewBlobStore(baseURL string) *BlobStore {
	if baseURL == "" {
		baseURL = "https://memory.invalid/blobs"
	}
	return &BlobStore{
		data:    make(map[string][]byte),
		types:   make(map[string]string),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// FailNext queues errors returned by the next PutObject calls, in order.
func (s *BlobStore) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// PublicBaseURL implements storage.BlobStore.
func (s *BlobStore) PublicBaseURL() string {
	return s.baseURL
}

// PutObject stores a copy of data.
func (s *BlobStore) PutObject(_ context.Context, key string, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.puts++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return err
	}
	if strings.TrimSpace(key) == "" {
		return blob.ErrInvalidKey
	}
	s.data[key] = append([]byte(nil), data...)
	s.types[key] = contentType
	return nil
}

// Get returns a copy of the object stored under key.
func (s *BlobStore) Get(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), data...), s.types[key], true
}

// Keys returns the number of stored objects.
func (s *BlobStore) Keys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Puts returns how many times PutObject was called, including failures.
func (s *BlobStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
