// Package pagecache stores rendered dashboard responses and drops them when
// the underlying data changes.
package pagecache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// DefaultTTL bounds how stale a page can get if an invalidation is lost.
const DefaultTTL = 10 * time.Minute

// Entry is one cached response.
type Entry struct {
	Status      int
	ContentType string
	Body        []byte
}

// Cache keeps every query variant of a path so Revalidate can drop them all.
type Cache interface {
	Get(ctx context.Context, path, query string) (*Entry, bool, error)
	Set(ctx context.Context, path, query string, e *Entry) error
	Revalidate(ctx context.Context, path string) error
}

func queryHash(query string) string {
	sum := sha1.Sum([]byte(query))
	return hex.EncodeToString(sum[:8])
}
