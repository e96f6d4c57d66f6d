// Command homeroute is the root daemon composition root: it loads and
// validates the configuration, wires every subsystem together, and runs
// them under the priority-aware supervisor until signalled to stop
// (spec.md §4.6, §6). Exit codes: 0 clean, 1 configuration error, 2
// unrecoverable runtime error, matching spec.md §6's CLI surface.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/localplatform/homeroute/internal/adblock"
	"github.com/localplatform/homeroute/internal/agent"
	"github.com/localplatform/homeroute/internal/auth"
	"github.com/localplatform/homeroute/internal/config"
	"github.com/localplatform/homeroute/internal/dhcp"
	hrdns "github.com/localplatform/homeroute/internal/dns"
	"github.com/localplatform/homeroute/internal/events"
	"github.com/localplatform/homeroute/internal/logging"
	"github.com/localplatform/homeroute/internal/metrics"
	"github.com/localplatform/homeroute/internal/pki"
	"github.com/localplatform/homeroute/internal/proxy"
	"github.com/localplatform/homeroute/internal/supervisor"
	hrtls "github.com/localplatform/homeroute/internal/tls"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "/etc/homeroute/homeroute.hcl", "path to the root daemon configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "homeroute: load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "homeroute: invalid config: %v\n", err)
		os.Exit(1)
	}

	logging.SetDefault(logging.New(logging.DefaultConfig()))
	log := logging.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("fatal runtime error", "error", err)
		os.Exit(2)
	}
}

// run builds every subsystem and blocks until ctx is cancelled or a
// Critical service exhausts its retry budget (which, per
// internal/supervisor, never happens -- Critical retries forever, so in
// practice run only returns on signal).
func run(ctx context.Context, cfg *config.Config) error {
	log := logging.WithComponent("main")
	hub := events.NewHub()
	go logEvents(ctx, hub)

	ca := pki.New(cfg.ToPKIConfig())
	if err := ca.Init(); err != nil {
		return fmt.Errorf("init certificate authority: %w", err)
	}

	proxyCfg, err := cfg.ToProxyConfig()
	if err != nil {
		return fmt.Errorf("proxy config: %w", err)
	}

	certManager := hrtls.NewManager()
	if err := issueProxyCert(ca, certManager, proxyCfg.BaseDomain); err != nil {
		return fmt.Errorf("issue proxy certificate: %w", err)
	}

	authDir := cfg.AgentDataDir() // sibling of agent state; out-of-scope store, local default is fine
	sessions, err := auth.NewSessionStore(authDir)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	users := auth.NewUserStore(authDir)

	dhcpCfg, err := cfg.ToDHCPConfig()
	if err != nil {
		return fmt.Errorf("dhcp config: %w", err)
	}
	leaseStore := dhcp.NewLeaseStore(dhcpCfg.LeaseFile)
	dhcpHandler := dhcp.NewHandler(&dhcpCfg, leaseStore, dhcpCfg.Gateway, hub)
	dhcpServer, err := dhcp.NewServer(dhcpHandler, dhcpCfg.Interface)
	if err != nil {
		return fmt.Errorf("bind dhcp server: %w", err)
	}

	adblockCfg, err := cfg.ToAdblockConfig()
	if err != nil {
		return fmt.Errorf("adblock config: %w", err)
	}
	adblockEngine := adblock.NewEngine()
	adblockService := adblock.NewService(adblockCfg, adblockEngine)

	dnsCfg, err := cfg.ToDNSConfig()
	if err != nil {
		return fmt.Errorf("dns config: %w", err)
	}
	var blockChecker hrdns.BlockChecker
	if dnsCfg.AdblockEnabled {
		blockChecker = adblockEngine
	}
	resolver := hrdns.NewResolver(&dnsCfg, leaseStore, blockChecker, hub)
	dnsServer := hrdns.NewServer(resolver, ":53")

	agentRegistry, err := agent.NewRegistry(cfg.AgentDataDir(), hub)
	if err != nil {
		return fmt.Errorf("open agent registry: %w", err)
	}

	proxyServer, err := proxy.NewServer(proxyCfg, certManager, sessions, users, hub)
	if err != nil {
		return fmt.Errorf("build proxy server: %w", err)
	}
	agentRegistry.OnRoutesChanged(func(_ []agent.Route) {
		proxyServer.ReloadConfig(reconcileRoutes(agentRegistry, proxyCfg.Routes))
	})

	registry := supervisor.NewRegistry()
	sup := supervisor.New(registry, hub)

	type service struct {
		name     string
		priority supervisor.Priority
		factory  supervisor.Factory
	}
	services := []service{
		{"dhcp", supervisor.Critical, dhcpServer.Run},
		{"dns", supervisor.Critical, dnsServer.Run},
		{"proxy", supervisor.Critical, proxyServer.Run},
		{"agent-registry", supervisor.Important, agentRegistry.Run},
		{"agent-ws-listener", supervisor.Important, agentWebSocketListener(cfg.AgentAddr(), agentRegistry)},
	}
	if adblockCfg.Enabled {
		services = append(services, service{"adblock", supervisor.Background, adblockService.Run})
	}
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		services = append(services, service{"metrics", supervisor.Background, metricsServer(cfg.Metrics.Addr)})
	}

	done := make(chan struct{})
	for _, svc := range services {
		go func(svc service) {
			sup.Run(ctx, svc.name, svc.priority, svc.factory)
		}(svc)
	}
	log.Info("homeroute started", "services", len(services))

	go func() {
		<-ctx.Done()
		close(done)
	}()
	<-done
	return nil
}

// logEvents drains the hub's global subscription and logs every event at
// debug level, a minimal always-on consumer so Publish never fans out to
// zero subscribers.
func logEvents(ctx context.Context, hub *events.Hub) {
	log := logging.WithComponent("events")
	ch := hub.Subscribe(256)
	defer hub.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			log.Debug("event", "type", e.Type, "source", e.Source, "data", e.Data)
		}
	}
}

// issueProxyCert mints (or, on restart, re-mints) the local CA leaf the
// proxy's SNI resolver serves for baseDomain and its wildcard subdomain,
// spec.md §4.9's certificate bundle shape converted into an in-memory
// tls.Certificate for internal/tls.Manager.
func issueProxyCert(ca *pki.Authority, certs *hrtls.Manager, baseDomain string) error {
	bundle, err := ca.Issue([]string{baseDomain, "*." + baseDomain})
	if err != nil {
		return err
	}
	cert, err := tls.LoadX509KeyPair(bundle.CertPath, bundle.KeyPath)
	if err != nil {
		return fmt.Errorf("load issued cert: %w", err)
	}
	certs.Set(baseDomain, &cert)
	certs.Set("*."+baseDomain, &cert)
	return nil
}

// reconcileRoutes rebuilds the full proxy route table: every connected
// agent's published routes (backend reached by the agent's container
// name on the shared docker network) plus the statically configured
// routes from the root config.
func reconcileRoutes(reg *agent.Registry, static []proxy.RouteConfig) []proxy.RouteConfig {
	routes := make([]proxy.RouteConfig, 0, len(static))
	routes = append(routes, static...)
	for _, a := range reg.All() {
		if a.Status != agent.StatusConnected {
			continue
		}
		for _, r := range a.Routes {
			routes = append(routes, proxy.RouteConfig{
				ID:            fmt.Sprintf("agent-%s-%d", a.Slug, r.TargetPort),
				Domain:        r.Domain,
				TargetHost:    a.ContainerName,
				TargetPort:    int(r.TargetPort),
				RequireAuth:   r.AuthRequired,
				Enabled:       true,
				AllowedGroups: r.AllowedGroups,
			})
		}
	}
	return routes
}

// agentWebSocketListener returns a Factory that serves the agent
// registry's WebSocket upgrade endpoint on addr until ctx is cancelled.
func agentWebSocketListener(addr string, reg *agent.Registry) supervisor.Factory {
	return func(ctx context.Context) error {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", reg.ServeWS)
		srv := &http.Server{Addr: addr, Handler: mux}
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	}
}

// metricsServer returns a Factory that serves the Prometheus exporter on
// addr until ctx is cancelled.
func metricsServer(addr string) supervisor.Factory {
	return func(ctx context.Context) error {
		srv := &http.Server{Addr: addr, Handler: metrics.Handler()}
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	}
}
