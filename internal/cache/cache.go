package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrCacheMiss is returned when a key is absent or expired
var ErrCacheMiss = errors.New("cache miss")

const keyPrefix = "neurai:pacs"

// Cache stores serialized PACS query results
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Clear removes all keys matching pattern. Only a trailing * is portable
	// across implementations.
	Clear(ctx context.Context, pattern string) error
	Close() error
}

// Key builds a namespaced key from its parts, e.g. Key("studies", id).
func Key(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}

// Digest turns arbitrary query input into a key segment free of glob
// characters.
func Digest(data []byte) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, data).String()
}
