package dns

import (
	"context"
	"time"

	"github.com/localplatform/homeroute/internal/logging"
)

// RunCacheReaper purges expired cache entries every interval until ctx is
// cancelled. Wrapped in a closure over cache and interval, it fits the
// internal/supervisor.Factory signature for Background-priority
// supervision.
func RunCacheReaper(ctx context.Context, cache *Cache, interval time.Duration) error {
	log := logging.WithComponent("dns")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := cache.PurgeExpired(); n > 0 {
				log.Debug("purged expired cache entries", "count", n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
