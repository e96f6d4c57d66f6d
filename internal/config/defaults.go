package config

// Default returns a Config with DHCP, DNS, adblock and the agent listener
// enabled (the relay and metrics blocks are present but disabled), using the
// default ports/paths each subsystem package itself documents (mirrored
// here rather than imported, since a zero-value HCL decode must already
// produce sane values before any subsystem package is consulted).
func Default() *Config {
	return &Config{
		SchemaVersion: CurrentSchemaVersion,
		StateDir:      "/var/lib/homeroute",
		Network:       &Network{BaseDomain: "home.arpa"},
		DHCP: &DHCP{
			Enabled:          true,
			DefaultLeaseTime: 86400,
		},
		DNS: &DNS{
			Enabled:         true,
			ExpandHosts:     true,
			AdblockEnabled:  true,
			BlockResponse:   "zero_ip",
			CacheMaxEntries: 10_000,
			UpstreamTimeout: 2_000,
		},
		Adblock: &Adblock{
			Enabled:         true,
			BlockResponse:   "zero_ip",
			AutoUpdateEvery: "24h",
		},
		Proxy: &Proxy{
			HTTPPort:             80,
			HTTPSPort:            443,
			TLSMode:              "local-ca",
			BackendDialTimeoutMS: 30_000,
		},
		PKI: &PKI{
			Organization:         "HomeRoute Local CA",
			CommonName:           "HomeRoute Root CA",
			RootValidityDays:     3650,
			CertValidityDays:     365,
			RenewalThresholdDays: 30,
		},
		Agent: &Agent{Enabled: true, Addr: ":7900"},
		Relay: &Relay{
			Role:             "client",
			QUICPort:         4443,
			TCPPort:          443,
			HTTPRedirectPort: 80,
			PingIntervalMS:   5_000,
			PongTimeoutMS:    30_000,
		},
		Metrics: &Metrics{Addr: ":9100"},
	}
}
