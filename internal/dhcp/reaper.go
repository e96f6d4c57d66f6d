package dhcp

import (
	"context"
	"time"

	"github.com/localplatform/homeroute/internal/logging"
)

// RunExpirationReaper purges expired leases every interval until ctx is
// cancelled, persisting the store after any purge that removed a lease.
// Wrapped in a closure over store and interval, it fits the
// internal/supervisor.Factory signature for Background-priority
// supervision.
func RunExpirationReaper(ctx context.Context, store *LeaseStore, interval time.Duration) error {
	log := logging.WithComponent("dhcp")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := store.PurgeExpired(); n > 0 {
				log.Info("purged expired leases", "count", n)
				if err := store.Save(); err != nil {
					log.Error("failed to persist leases after purge", "error", err)
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}
