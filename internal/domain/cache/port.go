package cache

import "time"

// Cache is a best-effort TTL cache. Implementations must never return stale
// entries past their TTL; callers must never depend on a hit for
// correctness. A nil or failing cache degrades to direct store calls.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Invalidate(key string)
}
