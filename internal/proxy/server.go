package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/localplatform/homeroute/internal/auth"
	"github.com/localplatform/homeroute/internal/events"
	"github.com/localplatform/homeroute/internal/logging"
	"github.com/localplatform/homeroute/internal/metrics"
	hrtls "github.com/localplatform/homeroute/internal/tls"
)

// Server is HomeRoute's TLS-terminating reverse proxy: an HTTPS listener
// that routes by Host header against RouteTable, and an HTTP listener that
// redirects everything to HTTPS except ACME challenge passthrough
// (spec.md §4.5).
type Server struct {
	cfg         Config
	routes      *RouteTable
	certs       *hrtls.Manager
	sessions    *auth.SessionStore
	users       *auth.UserStore
	accessLog   *AccessLogger
	hub         *events.Hub
	log         *logging.Logger
	acme        http.Handler // optional ACME HTTP-01 challenge handler
	privateNets []*net.IPNet
	dialTimeout time.Duration
	metrics     *metrics.Registry
}

// NewServer builds a proxy Server. sessions/users may be nil if no route
// requires auth.
func NewServer(cfg Config, certs *hrtls.Manager, sessions *auth.SessionStore, users *auth.UserStore, hub *events.Hub) (*Server, error) {
	accessLog, err := StartAccessLogger(cfg.AccessLogPath)
	if err != nil {
		return nil, fmt.Errorf("start access logger: %w", err)
	}
	dialTimeout := time.Duration(cfg.BackendDialTimeoutMS) * time.Millisecond
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}
	return &Server{
		cfg:         cfg,
		routes:      NewRouteTable(cfg.Routes),
		certs:       certs,
		sessions:    sessions,
		users:       users,
		accessLog:   accessLog,
		hub:         hub,
		log:         logging.WithComponent("proxy"),
		privateNets: privateNetworks(),
		dialTimeout: dialTimeout,
		metrics:     metrics.Get(),
	}, nil
}

// SetACMEHandler installs the HTTP-01 challenge handler passed through on
// port 80 under /.well-known/acme-challenge/.
func (s *Server) SetACMEHandler(h http.Handler) { s.acme = h }

// ReloadConfig atomically replaces the route table. In-flight connections
// keep running against the RouteTable snapshot they started with.
func (s *Server) ReloadConfig(routes []RouteConfig) {
	s.routes.Store(routes)
}

// Run starts the HTTP redirect listener and the HTTPS listener, blocking
// until ctx is cancelled. Implements internal/supervisor.Factory.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.HTTPPort),
		Handler: http.HandlerFunc(s.handleHTTP),
	}
	httpsSrv := &http.Server{
		Addr:      fmt.Sprintf(":%d", s.cfg.HTTPSPort),
		Handler:   http.HandlerFunc(s.handleHTTPS),
		TLSConfig: s.certs.Config(),
	}

	errCh := make(chan error, 2)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	go func() { errCh <- httpsSrv.ListenAndServeTLS("", "") }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
		httpsSrv.Shutdown(shutdownCtx)
		if s.accessLog != nil {
			s.accessLog.Close()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		httpSrv.Close()
		httpsSrv.Close()
		return err
	}
}

// handleHTTP implements spec.md §4.5's HTTP/80 behavior: ACME passthrough,
// otherwise a 301 to the HTTPS equivalent.
func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	if s.acme != nil && strings.HasPrefix(r.URL.Path, "/.well-known/acme-challenge/") {
		s.acme.ServeHTTP(w, r)
		return
	}
	target := "https://" + hostOnly(r.Host) + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// handleHTTPS implements the per-request flow of spec.md §4.5.
func (s *Server) handleHTTPS(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	host := strings.ToLower(hostOnly(r.Host))

	route, ok := s.routes.Lookup(host)
	if !ok {
		http.NotFound(w, r)
		s.recordRequest("unknown", http.StatusNotFound, start)
		s.logAccess(r, host, http.StatusNotFound, start)
		return
	}

	if route.LocalOnly && !s.isPrivatePeer(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		s.recordRequest(route.ID, http.StatusForbidden, start)
		s.logAccess(r, host, http.StatusForbidden, start)
		return
	}

	if route.RequireAuth {
		result := s.checkAuth(r, host, route.AllowedGroups)
		switch result.Outcome {
		case auth.ForwardAuthUnauthorized:
			http.Redirect(w, r, result.LoginURL, http.StatusFound)
			s.metrics.ProxyAuthDenied.Inc()
			s.recordRequest(route.ID, http.StatusFound, start)
			s.logAccess(r, host, http.StatusFound, start)
			return
		case auth.ForwardAuthForbidden:
			http.Error(w, result.Message, http.StatusForbidden)
			s.metrics.ProxyAuthDenied.Inc()
			s.recordRequest(route.ID, http.StatusForbidden, start)
			s.logAccess(r, host, http.StatusForbidden, start)
			return
		}
		for k, v := range result.Headers() {
			r.Header.Set(k, v)
		}
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.proxyTo(route).ServeHTTP(rec, r)
	s.recordRequest(route.ID, rec.status, start)
	s.logAccess(r, host, rec.status, start)
}

// recordRequest updates ProxyRequestsTotal and ProxyRequestSeconds for one
// completed request.
func (s *Server) recordRequest(routeID string, status int, start time.Time) {
	s.metrics.ProxyRequestsTotal.WithLabelValues(routeID, statusClass(status)).Inc()
	s.metrics.ProxyRequestSeconds.WithLabelValues(routeID).Observe(time.Since(start).Seconds())
}

// statusClass reduces an HTTP status code to its "Nxx" class for the
// ProxyRequestsTotal status label.
func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

func (s *Server) checkAuth(r *http.Request, host string, allowedGroups []string) auth.ForwardAuthResult {
	cookie := ""
	if c, err := r.Cookie("auth_session"); err == nil {
		cookie = c.Value
	}
	return auth.CheckForwardAuth(s.sessions, s.users, cookie, host, r.URL.RequestURI(), "https", allowedGroups)
}

// proxyTo builds a reverse proxy for one backend. httputil.ReverseProxy
// already copies raw bytes after a 101 response, satisfying the
// WebSocket-passthrough requirement with no extra code.
func (s *Server) proxyTo(route RouteConfig) *httputil.ReverseProxy {
	target := &url.URL{Scheme: "http", Host: net.JoinHostPort(route.TargetHost, strconv.Itoa(route.TargetPort))}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = &http.Transport{
		DialContext: (&net.Dialer{Timeout: s.dialTimeout}).DialContext,
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.log.Warn("backend proxy error", "route", route.ID, "error", err)
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy
}

func (s *Server) logAccess(r *http.Request, host string, status int, start time.Time) {
	duration := time.Since(start)
	clientIP := hostOnly(r.RemoteAddr)

	if s.accessLog != nil {
		s.accessLog.Log(AccessLogEntry{
			Timestamp:  NowTimestamp(),
			ClientIP:   clientIP,
			Host:       host,
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     status,
			DurationMS: duration.Milliseconds(),
			UserAgent:  r.UserAgent(),
		})
	}
	if s.hub != nil {
		s.hub.Publish(events.Event{
			Type:   events.TypeProxyAccess,
			Source: "proxy",
			Data: events.ProxyAccessData{
				ClientIP:   clientIP,
				Host:       host,
				Method:     r.Method,
				Path:       r.URL.Path,
				Status:     status,
				DurationMS: duration.Milliseconds(),
			},
		})
	}
}

func (s *Server) isPrivatePeer(r *http.Request) bool {
	ipStr := hostOnly(r.RemoteAddr)
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range s.privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// hostOnly strips a trailing ":port" from host (a bare Host header, or a
// RemoteAddr), lowercasing is left to the caller.
func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func privateNetworks() []*net.IPNet {
	cidrs := []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "127.0.0.0/8", "::1/128", "fc00::/7"}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}

// statusRecorder captures the status code a handler wrote, for access
// logging after ServeHTTP returns. It forwards Hijack so a WebSocket
// upgrade (101 response, raw byte passthrough) still works through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}
