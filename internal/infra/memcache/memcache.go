package memcache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/bryanwahyu/bimwatch/internal/domain/cache"
)

// Store adapts patrickmn/go-cache to the Cache port. Expired entries are
// swept in the background; all operations are best-effort.
type Store struct {
	c *gocache.Cache
}

func New(defaultTTL, cleanupInterval time.Duration) *Store {
	if defaultTTL <= 0 {
		defaultTTL = time.Minute
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	return &Store{c: gocache.New(defaultTTL, cleanupInterval)}
}

func (s *Store) Get(key string) (any, bool) {
	return s.c.Get(key)
}

func (s *Store) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	s.c.Set(key, value, ttl)
}

func (s *Store) Invalidate(key string) {
	s.c.Delete(key)
}

var _ cache.Cache = (*Store)(nil)
