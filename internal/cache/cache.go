// Package cache defines the key-value cache used by the matching adapter,
// with in-process and Redis implementations.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss signals that the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache stores opaque values with a time to live. Implementations are safe
// for concurrent use.
type Cache interface {
	// Get returns ErrMiss when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
