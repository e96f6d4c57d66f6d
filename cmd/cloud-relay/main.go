// Command cloud-relay is the QUIC tunnel binary (spec.md §4.8): on a
// public VPS it runs relay.Server, accepting the on-prem relay.Client's
// mTLS QUIC connection and forwarding TCP traffic through it; on the
// on-prem side (role "client") it runs relay.Client, dialing out to the
// VPS and piping the tunnel to the local reverse proxy. Exit codes: 0
// clean, 1 configuration error, 2 unrecoverable runtime error.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/localplatform/homeroute/internal/config"
	"github.com/localplatform/homeroute/internal/logging"
	"github.com/localplatform/homeroute/internal/pki"
	"github.com/localplatform/homeroute/internal/relay"
)

func main() {
	configPath := flag.String("config", "/etc/homeroute/cloud-relay.hcl", "path to the cloud-relay configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cloud-relay: load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "cloud-relay: invalid config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Relay == nil {
		fmt.Fprintln(os.Stderr, "cloud-relay: relay block is not configured")
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

func run(ctx context.Context, cfg *config.Config) error {
	relayCfg, err := cfg.ToRelayConfig()
	if err != nil {
		return fmt.Errorf("relay config: %w", err)
	}

	ca := pki.New(cfg.ToPKIConfig())
	if err := ca.Init(); err != nil {
		return fmt.Errorf("init certificate authority: %w", err)
	}
	certs, err := ca.IssueTunnelCerts(cfg.Relay.VPSHost)
	if err != nil {
		return fmt.Errorf("issue tunnel certs: %w", err)
	}

	switch cfg.Relay.Role {
	case "vps":
		tlsConfig, err := relay.ServerTLSConfig(certs)
		if err != nil {
			return fmt.Errorf("build vps tls config: %w", err)
		}
		return relay.NewServer(relayCfg, tlsConfig).Run(ctx)
	case "client":
		tlsConfig, err := relay.ClientTLSConfig(certs)
		if err != nil {
			return fmt.Errorf("build client tls config: %w", err)
		}
		return relay.NewClient(relayCfg, tlsConfig).Run(ctx)
	default:
		return fmt.Errorf("relay.role must be %q or %q, got %q", "vps", "client", cfg.Relay.Role)
	}
}
