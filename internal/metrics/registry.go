// Package metrics is HomeRoute's Prometheus exporter: one process-wide
// Registry of counters/gauges/histograms for each dataplane subsystem,
// grounded on grimm-is-glacic/internal/metrics's promauto-based registry.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds every HomeRoute metric (spec.md §8's testable
// properties, exposed for external observability rather than assertion).
type Registry struct {
	// DHCP
	DHCPLeaseCount    prometheus.Gauge
	DHCPRequestsTotal *prometheus.CounterVec // label: message_type (discover/request/...)
	DHCPPoolExhausted prometheus.Counter

	// DNS
	DNSQueriesTotal  *prometheus.CounterVec // labels: qtype, result (answered/blocked/nxdomain/servfail)
	DNSCacheHits     prometheus.Counter
	DNSCacheMisses   prometheus.Counter
	DNSUpstreamMS    *prometheus.HistogramVec // label: upstream

	// Adblock
	AdblockListSize    *prometheus.GaugeVec // label: source
	AdblockUpdateTotal *prometheus.CounterVec // labels: source, status

	// Proxy
	ProxyRequestsTotal  *prometheus.CounterVec // labels: route, status
	ProxyRequestSeconds *prometheus.HistogramVec
	ProxyAuthDenied     prometheus.Counter

	// Supervisor
	ServiceRestartsTotal *prometheus.CounterVec // label: service
	ServiceState         *prometheus.GaugeVec   // labels: service, state (1 if current)

	// Agent registry
	AgentsConnected prometheus.Gauge
	AgentHeartbeats *prometheus.CounterVec // label: agent

	// Cloud relay
	RelayActiveStreams prometheus.Gauge
	RelayBytesTotal    *prometheus.CounterVec // label: direction (rx/tx)
	RelayReconnects    prometheus.Counter
}

// Get returns the process-wide Registry, creating it (and registering
// every metric with the default Prometheus registerer) on first call.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.DHCPLeaseCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "homeroute_dhcp_leases",
		Help: "Current number of active DHCP leases",
	})
	r.DHCPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homeroute_dhcp_requests_total",
		Help: "Total DHCP messages handled by type",
	}, []string{"message_type"})
	r.DHCPPoolExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homeroute_dhcp_pool_exhausted_total",
		Help: "Total DHCP requests that found no free address",
	})

	r.DNSQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homeroute_dns_queries_total",
		Help: "Total DNS queries by type and result",
	}, []string{"qtype", "result"})
	r.DNSCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homeroute_dns_cache_hits_total",
		Help: "Total DNS cache hits",
	})
	r.DNSCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homeroute_dns_cache_misses_total",
		Help: "Total DNS cache misses",
	})
	r.DNSUpstreamMS = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "homeroute_dns_upstream_duration_seconds",
		Help:    "Upstream resolver response latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"upstream"})

	r.AdblockListSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "homeroute_adblock_list_size",
		Help: "Number of blocked domains contributed by each source",
	}, []string{"source"})
	r.AdblockUpdateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homeroute_adblock_updates_total",
		Help: "Total blocklist refresh attempts by source and outcome",
	}, []string{"source", "status"})

	r.ProxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homeroute_proxy_requests_total",
		Help: "Total proxied HTTP requests by route and status class",
	}, []string{"route", "status"})
	r.ProxyRequestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "homeroute_proxy_request_duration_seconds",
		Help:    "Proxied request latency, backend dial through response",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	r.ProxyAuthDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homeroute_proxy_auth_denied_total",
		Help: "Total requests denied by forward-auth",
	})

	r.ServiceRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homeroute_service_restarts_total",
		Help: "Total supervised service restarts",
	}, []string{"service"})
	r.ServiceState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "homeroute_service_state",
		Help: "1 if the service is currently in this state, else 0",
	}, []string{"service", "state"})

	r.AgentsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "homeroute_agents_connected",
		Help: "Current number of connected on-prem agents",
	})
	r.AgentHeartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homeroute_agent_heartbeats_total",
		Help: "Total heartbeats received per agent",
	}, []string{"agent"})

	r.RelayActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "homeroute_relay_active_streams",
		Help: "Current number of relayed TCP streams",
	})
	r.RelayBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homeroute_relay_bytes_total",
		Help: "Total bytes relayed through the tunnel by direction",
	}, []string{"direction"})
	r.RelayReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homeroute_relay_reconnects_total",
		Help: "Total times the relay client reconnected to the VPS",
	})

	return r
}

// Handler returns the promhttp handler for the default Prometheus
// registerer, for mounting under Config.Metrics.Addr.
func Handler() http.Handler {
	return promhttp.Handler()
}
