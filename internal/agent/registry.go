package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/localplatform/homeroute/internal/auth"
	"github.com/localplatform/homeroute/internal/clock"
	"github.com/localplatform/homeroute/internal/events"
	"github.com/localplatform/homeroute/internal/herr"
	"github.com/localplatform/homeroute/internal/logging"
	"github.com/localplatform/homeroute/internal/metrics"
)

// heartbeatInterval and missedLimit implement spec.md §4.7's liveness rule:
// heartbeats every 30s, missing >= 3 consecutive marks an agent Disconnected.
const (
	heartbeatInterval = 30 * time.Second
	missedLimit       = 3
	reaperInterval    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Registry is the agent connection registry: it holds the durable agent
// index, the live WebSocket sessions, and reconciles published routes into
// a single route set for the reverse proxy (spec.md §4.7).
type Registry struct {
	path    string
	clk     clock.Clock
	log     *logging.Logger
	hub     *events.Hub
	metrics *metrics.Registry

	mu         sync.Mutex
	agents     map[string]*Agent // by agent ID
	nextSuffix uint16

	sessMu   sync.Mutex
	sessions map[string]*session // by agent ID

	// onRoutesChanged is called with the full reconciled route set whenever
	// publish_routes or a disconnect changes it. The composition root wires
	// this to proxy.Server.ReloadConfig.
	onRoutesChanged func([]Route)
}

// session is one live WebSocket connection to an authenticated agent.
type session struct {
	agentID string
	conn    *websocket.Conn
	send    chan RegistryMessage
}

// NewRegistry loads (or initializes) the agent index at <dataDir>/agents.json.
func NewRegistry(dataDir string, hub *events.Hub) (*Registry, error) {
	r := &Registry{
		path:     filepath.Join(dataDir, "agents.json"),
		clk:      &clock.RealClock{},
		log:      logging.WithComponent("agent"),
		hub:      hub,
		metrics:  metrics.Get(),
		agents:   make(map[string]*Agent),
		sessions: make(map[string]*session),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// WithClock overrides the registry's clock for deterministic tests.
func (r *Registry) WithClock(c clock.Clock) *Registry {
	r.clk = c
	return r
}

// OnRoutesChanged registers the callback invoked after every route
// reconciliation, with the union of all connected agents' routes.
func (r *Registry) OnRoutesChanged(fn func([]Route)) {
	r.onRoutesChanged = fn
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return herr.Wrap(herr.IO, "read agent registry", err)
	}
	var state registryState
	if err := json.Unmarshal(data, &state); err != nil {
		return herr.Wrap(herr.IO, "parse agent registry", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range state.Agents {
		r.agents[a.ID] = a
	}
	r.nextSuffix = state.NextSuffix
	return nil
}

// save persists the registry atomically (write-temp + rename, per spec.md
// §5's "registry saves are atomic").
func (r *Registry) save() error {
	r.mu.Lock()
	state := registryState{NextSuffix: r.nextSuffix}
	for _, a := range r.agents {
		state.Agents = append(state.Agents, a)
	}
	r.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return herr.Wrap(herr.IO, "marshal agent registry", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return herr.Wrap(herr.IO, "create agent registry dir", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return herr.Wrap(herr.IO, "write temp agent registry", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return herr.Wrap(herr.IO, "rename agent registry", err)
	}
	return nil
}

// Register creates a new pending agent record for slug, authenticated by
// the caller-supplied token. The caller distributes that plaintext token
// to the agent out of band; only its Argon2id hash is stored.
func (r *Registry) Register(slug, containerName string, token string) (*Agent, error) {
	hash, err := auth.HashPassword(token)
	if err != nil {
		return nil, herr.Wrap(herr.IO, "hash agent token", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if a.Slug == slug {
			return nil, herr.New(herr.Validation, fmt.Sprintf("agent slug %q already registered", slug))
		}
	}
	suffix := r.nextSuffix
	r.nextSuffix++

	a := &Agent{
		ID:            fmt.Sprintf("agent-%s", slug),
		Slug:          slug,
		ContainerName: containerName,
		TokenHash:     hash,
		IPv6Suffix:    suffix,
		Status:        StatusPending,
		CreatedAt:     r.clk.Now(),
	}
	r.agents[a.ID] = a
	return a, nil
}

// Get returns the agent with the given ID.
func (r *Registry) Get(id string) (*Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	return a, ok
}

// BySlug returns the agent registered under slug.
func (r *Registry) BySlug(slug string) (*Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if a.Slug == slug {
			return a, true
		}
	}
	return nil, false
}

// All returns every agent record, in no particular order.
func (r *Registry) All() []*Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// authenticate verifies token against the agent record named by slug,
// matching spec.md §4.7's "Session" auth step.
func (r *Registry) authenticate(slug, token string) (*Agent, error) {
	a, ok := r.BySlug(slug)
	if !ok {
		return nil, herr.New(herr.Authn, "unknown agent slug")
	}
	if !auth.VerifyPassword(token, a.TokenHash) {
		return nil, herr.New(herr.Authn, "invalid agent token")
	}
	return a, nil
}

// ServeWS upgrades r to a WebSocket and runs the agent session until the
// connection closes.
func (reg *Registry) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		reg.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	sess := &session{conn: conn, send: make(chan RegistryMessage, 64)}
	go reg.handleSession(sess)
}

// handleSession reads the agent's first auth message synchronously, then
// runs readPump/writePump for the life of the connection.
func (reg *Registry) handleSession(sess *session) {
	defer sess.conn.Close()

	_, raw, err := sess.conn.ReadMessage()
	if err != nil {
		return
	}
	msg, err := ParseAgentMessage(raw)
	if err != nil || msg.Type != MsgAuth {
		sess.conn.WriteJSON(newAuthResultError("expected auth message"))
		return
	}
	a, err := reg.authenticate(msg.ServiceName, msg.Token)
	if err != nil {
		sess.conn.WriteJSON(newAuthResultError(err.Error()))
		return
	}

	sess.agentID = a.ID
	reg.mu.Lock()
	a.Status = StatusConnected
	a.AgentVersion = msg.Version
	now := reg.clk.Now()
	a.LastHeartbeat = &now
	a.missedHeartbeats = 0
	reg.mu.Unlock()
	reg.save()

	reg.sessMu.Lock()
	reg.sessions[a.ID] = sess
	reg.sessMu.Unlock()
	reg.metrics.AgentsConnected.Set(float64(reg.connectedCount()))

	if reg.hub != nil {
		reg.hub.Publish(events.Event{
			Type:   events.TypeAgentConnect,
			Source: "agent",
			Data:   events.AgentStateData{AgentID: a.ID, Slug: a.Slug},
		})
	}

	sess.send <- newAuthResultOK()

	go reg.writePump(sess)
	reg.readPump(sess, a)
}

func (reg *Registry) writePump(sess *session) {
	for msg := range sess.send {
		if err := sess.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (reg *Registry) readPump(sess *session, a *Agent) {
	defer reg.disconnect(a)
	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := ParseAgentMessage(raw)
		if err != nil {
			continue
		}
		reg.handleMessage(a, msg)
	}
}

func (reg *Registry) handleMessage(a *Agent, msg AgentMessage) {
	switch msg.Type {
	case MsgHeartbeat:
		reg.mu.Lock()
		now := reg.clk.Now()
		a.LastHeartbeat = &now
		a.missedHeartbeats = 0
		reg.mu.Unlock()
		reg.metrics.AgentHeartbeats.WithLabelValues(a.Slug).Inc()
	case MsgMetrics:
		reg.mu.Lock()
		a.Metrics = msg.Metrics
		reg.mu.Unlock()
	case MsgServiceStateChanged:
		if reg.hub != nil {
			reg.hub.Publish(events.Event{
				Type:   events.TypeServiceState,
				Source: "agent",
				Data: events.ServiceStateData{
					Name:  fmt.Sprintf("%s/%s", a.Slug, msg.ServiceType),
					State: string(msg.NewState),
				},
			})
		}
	case MsgPublishRoutes:
		reg.mu.Lock()
		a.Routes = msg.Routes
		reg.mu.Unlock()
		reg.reconcileRoutes()
		reg.save()
	case MsgConfigAck, MsgSchemaMetadata:
		// acknowledged / informational, nothing to reconcile
	case MsgError:
		reg.log.Warn("agent reported error", "agent", a.Slug, "message", msg.Message)
	}
}

// reconcileRoutes recomputes the union of every connected agent's published
// routes and notifies the registered callback (spec.md §4.7 "Route
// reconciliation").
func (reg *Registry) reconcileRoutes() {
	reg.mu.Lock()
	var all []Route
	for _, a := range reg.agents {
		if a.Status == StatusConnected {
			all = append(all, a.Routes...)
		}
	}
	reg.mu.Unlock()

	if reg.onRoutesChanged != nil {
		reg.onRoutesChanged(all)
	}
}

func (reg *Registry) disconnect(a *Agent) {
	reg.sessMu.Lock()
	if sess, ok := reg.sessions[a.ID]; ok {
		close(sess.send)
		delete(reg.sessions, a.ID)
	}
	reg.sessMu.Unlock()

	reg.mu.Lock()
	a.Status = StatusDisconnected
	a.Routes = nil
	reg.mu.Unlock()

	reg.reconcileRoutes()
	reg.save()
	reg.metrics.AgentsConnected.Set(float64(reg.connectedCount()))

	if reg.hub != nil {
		reg.hub.Publish(events.Event{
			Type:   events.TypeAgentOffline,
			Source: "agent",
			Data:   events.AgentStateData{AgentID: a.ID, Slug: a.Slug},
		})
	}
}

// connectedCount returns the number of agents currently marked Connected,
// for the AgentsConnected gauge.
func (reg *Registry) connectedCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	n := 0
	for _, a := range reg.agents {
		if a.Status == StatusConnected {
			n++
		}
	}
	return n
}

// Run periodically checks every connected agent's liveness until ctx is
// cancelled. Implements internal/supervisor.Factory, and spec.md §4.7's
// "missing >= 3 consecutive [heartbeats] -> status=Disconnected" rule.
func (reg *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			reg.reapExpired()
		}
	}
}

func (reg *Registry) reapExpired() {
	now := reg.clk.Now()
	var expired []*Agent

	reg.mu.Lock()
	for _, a := range reg.agents {
		if a.Status != StatusConnected || a.LastHeartbeat == nil {
			continue
		}
		a.missedHeartbeats = int(now.Sub(*a.LastHeartbeat) / heartbeatInterval)
		if a.missedHeartbeats >= missedLimit {
			expired = append(expired, a)
		}
	}
	reg.mu.Unlock()

	for _, a := range expired {
		reg.disconnect(a)
	}
}
