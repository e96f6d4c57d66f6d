package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/localplatform/homeroute/internal/clock"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	reg, err := NewRegistry(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	a, err := reg.Register("myapp", "ct-myapp", "supersecrettoken")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if a.Status != StatusPending {
		t.Errorf("expected pending status, got %s", a.Status)
	}

	got, err := reg.authenticate("myapp", "supersecrettoken")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("expected agent %s, got %s", a.ID, got.ID)
	}

	if _, err := reg.authenticate("myapp", "wrongtoken"); err == nil {
		t.Error("expected error for wrong token")
	}
	if _, err := reg.authenticate("nosuchslug", "supersecrettoken"); err == nil {
		t.Error("expected error for unknown slug")
	}
}

func TestRegisterDuplicateSlugRejected(t *testing.T) {
	reg, err := NewRegistry(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := reg.Register("myapp", "ct-1", "tok1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Register("myapp", "ct-2", "tok2"); err == nil {
		t.Error("expected error for duplicate slug")
	}
}

func TestRegistryPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	reg, err := NewRegistry(dir, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := reg.Register("myapp", "ct-myapp", "tok"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := NewRegistry(dir, nil)
	if err != nil {
		t.Fatalf("NewRegistry reload: %v", err)
	}
	a, ok := reloaded.BySlug("myapp")
	if !ok {
		t.Fatal("expected agent to survive reload")
	}
	if a.ContainerName != "ct-myapp" {
		t.Errorf("unexpected container name %q", a.ContainerName)
	}
}

func TestReapExpiredMarksDisconnectedAfterMissedHeartbeats(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mc := clock.NewMockClock(base)

	reg, err := NewRegistry(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	reg.WithClock(mc)

	a, err := reg.Register("myapp", "ct-myapp", "tok")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	a.Status = StatusConnected
	now := mc.Now()
	a.LastHeartbeat = &now

	var reconciled [][]Route
	reg.OnRoutesChanged(func(r []Route) { reconciled = append(reconciled, r) })

	// Three consecutive ticks past the heartbeat interval with no new
	// heartbeat arriving should flip the agent to Disconnected.
	for i := 0; i < 3; i++ {
		mc.Advance(heartbeatInterval)
		reg.reapExpired()
	}

	if a.Status != StatusDisconnected {
		t.Errorf("expected agent disconnected after 3 missed heartbeats, got %s", a.Status)
	}
	if len(reconciled) == 0 {
		t.Error("expected route reconciliation to run on disconnect")
	}
}

func TestReapExpiredToleratesOneOrTwoMissedHeartbeats(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mc := clock.NewMockClock(base)

	reg, err := NewRegistry(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	reg.WithClock(mc)

	a, err := reg.Register("myapp", "ct-myapp", "tok")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	a.Status = StatusConnected
	now := mc.Now()
	a.LastHeartbeat = &now

	mc.Advance(heartbeatInterval)
	reg.reapExpired()
	mc.Advance(heartbeatInterval)
	reg.reapExpired()

	if a.Status != StatusConnected {
		t.Errorf("expected agent to stay connected after 2 missed heartbeats, got %s", a.Status)
	}
}

func TestHandlePublishRoutesReconciles(t *testing.T) {
	reg, err := NewRegistry(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	a, err := reg.Register("myapp", "ct-myapp", "tok")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	a.Status = StatusConnected

	var got []Route
	reg.OnRoutesChanged(func(r []Route) { got = r })

	reg.handleMessage(a, AgentMessage{
		Type:   MsgPublishRoutes,
		Routes: []Route{{Domain: "myapp.example.com", TargetPort: 8080, ServiceType: ServiceTypeApp}},
	})

	if len(got) != 1 || got[0].Domain != "myapp.example.com" {
		t.Errorf("unexpected reconciled routes: %+v", got)
	}
}

func TestRegistryPersistenceFilePath(t *testing.T) {
	dir := t.TempDir()
	reg, err := NewRegistry(dir, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if reg.path != filepath.Join(dir, "agents.json") {
		t.Errorf("unexpected registry path %q", reg.path)
	}
}

// TestServeWSEndToEnd drives a real WebSocket connection through auth,
// heartbeat, and publish_routes, matching the style of
// grimm-is-glacic/internal/api/websocket_test.go.
func TestServeWSEndToEnd(t *testing.T) {
	reg, err := NewRegistry(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := reg.Register("myapp", "ct-myapp", "supersecrettoken"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	routeChanged := make(chan []Route, 4)
	reg.OnRoutesChanged(func(r []Route) { routeChanged <- r })

	ts := httptest.NewServer(http.HandlerFunc(reg.ServeWS))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(AgentMessage{Type: MsgAuth, Token: "supersecrettoken", ServiceName: "myapp", Version: "9.9.9"}); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read auth result: %v", err)
	}
	var result RegistryMessage
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unmarshal auth result: %v", err)
	}
	if result.Type != MsgAuthResult || !result.Success {
		t.Fatalf("expected successful auth_result, got %+v", result)
	}

	a, ok := reg.BySlug("myapp")
	if !ok {
		t.Fatal("expected agent to exist")
	}
	if a.Status != StatusConnected {
		t.Errorf("expected connected status after auth, got %s", a.Status)
	}
	if a.AgentVersion != "9.9.9" {
		t.Errorf("expected recorded agent version, got %q", a.AgentVersion)
	}

	if err := conn.WriteJSON(AgentMessage{
		Type:   MsgPublishRoutes,
		Routes: []Route{{Domain: "myapp.example.com", TargetPort: 8080, ServiceType: ServiceTypeApp}},
	}); err != nil {
		t.Fatalf("write publish_routes: %v", err)
	}

	select {
	case routes := <-routeChanged:
		if len(routes) != 1 || routes[0].Domain != "myapp.example.com" {
			t.Errorf("unexpected reconciled routes: %+v", routes)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for route reconciliation")
	}

	conn.Close()
	// Give the server's readPump a moment to observe the close and
	// mark the agent disconnected.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a, _ := reg.BySlug("myapp"); a.Status == StatusDisconnected {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected agent to be marked disconnected after connection close")
}
