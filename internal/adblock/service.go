package adblock

import (
	"context"
	"time"

	"github.com/localplatform/homeroute/internal/logging"
	"github.com/localplatform/homeroute/internal/metrics"
)

// Service periodically refreshes an Engine's blocked set from the
// configured sources, falling back to the on-disk cache when every
// source download fails (e.g. on boot before the WAN link is up).
type Service struct {
	cfg     Config
	engine  *Engine
	log     *logging.Logger
	metrics *metrics.Registry
}

// NewService wires cfg's allowlist into engine and returns a Service
// ready to run its refresh loop.
func NewService(cfg Config, engine *Engine) *Service {
	engine.SetAllowed(cfg.Allowlist)
	return &Service{cfg: cfg, engine: engine, log: logging.WithComponent("adblock"), metrics: metrics.Get()}
}

// Refresh downloads every configured source, merges the results into
// the engine, and persists the merged set to the cache. If every source
// fails, it loads the last-good cache instead.
func (s *Service) Refresh() error {
	if len(s.cfg.Sources) == 0 {
		return nil
	}
	domains, results := DownloadAll(s.cfg.Sources)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			s.log.Warn("adblock source download failed", "source", r.Name, "error", r.Err)
			s.metrics.AdblockUpdateTotal.WithLabelValues(r.Name, "error").Inc()
			failed++
			continue
		}
		s.log.Info("adblock source downloaded", "source", r.Name, "domains", r.DomainCount)
		s.metrics.AdblockUpdateTotal.WithLabelValues(r.Name, "ok").Inc()
		s.metrics.AdblockListSize.WithLabelValues(r.Name).Set(float64(r.DomainCount))
	}

	if failed == len(results) {
		cached, err := LoadCache(s.cfg.CachePath)
		if err != nil {
			return err
		}
		s.log.Warn("all adblock sources failed, using cached list", "domains", len(cached))
		s.engine.SetBlocked(cached)
		s.metrics.AdblockListSize.WithLabelValues("cache").Set(float64(len(cached)))
		return nil
	}

	s.engine.SetBlocked(domains)
	s.log.Info("adblock list refreshed", "total_domains", len(domains))
	return SaveCache(domains, s.cfg.CachePath)
}

// Run loads the cache (if any), refreshes once immediately, then
// refreshes again every AutoUpdateEvery until ctx is cancelled. It
// implements the internal/supervisor.Factory signature.
func (s *Service) Run(ctx context.Context) error {
	if cached, err := LoadCache(s.cfg.CachePath); err == nil {
		s.engine.SetBlocked(cached)
		s.log.Info("loaded adblock cache", "domains", len(cached))
	}

	if err := s.Refresh(); err != nil {
		s.log.Warn("initial adblock refresh failed", "error", err)
	}

	interval := s.cfg.AutoUpdateEvery
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Refresh(); err != nil {
				s.log.Warn("adblock refresh failed", "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
