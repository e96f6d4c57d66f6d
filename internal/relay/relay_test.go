package relay

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localplatform/homeroute/internal/pki"
)

// testTunnelCerts issues a fresh mTLS cert set for "127.0.0.1" off a
// throwaway CA, mirroring internal/pki/ca_test.go's testAuthority helper
// (unexported there, so rebuilt here against the exported constructor).
func testTunnelCerts(t *testing.T) *pki.TunnelCertSet {
	t.Helper()
	a := pki.New(pki.Config{
		StoragePath:          filepath.Join(t.TempDir(), "ca"),
		Organization:         "Test Org",
		CommonName:           "Test Root CA",
		RootValidityDays:     3650,
		CertValidityDays:     365,
		RenewalThresholdDays: 30,
	})
	require.NoError(t, a.Init())
	set, err := a.IssueTunnelCerts("127.0.0.1")
	require.NoError(t, err)
	return set
}

// freeUDPPort grabs an ephemeral UDP port and releases it immediately;
// good enough for single-process test runs.
func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()
	_, portStr, err := net.SplitHostPort(conn.LocalAddr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// echoListener starts a TCP listener that, for each connection, reads the
// PROXY protocol v1 header line then echoes everything after it back to
// the caller. It returns the address to use as Config.LocalTarget and the
// channel on which the received PROXY header line is published.
func echoListener(t *testing.T, headers chan<- string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				headers <- line
				buf := make([]byte, 4096)
				for {
					n, err := r.Read(buf)
					if n > 0 {
						if _, werr := conn.Write(buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	return ln.Addr().String()
}

// TestRelayEndToEnd exercises the full tunnel: a Client dials a Server
// over loopback QUIC with mTLS, the Server relays a plain TCP connection
// through the tunnel to the Client's LocalTarget, and the bytes (plus a
// PROXY protocol v1 header carrying the original client IP) round-trip.
func TestRelayEndToEnd(t *testing.T) {
	set := testTunnelCerts(t)
	serverTLS, err := ServerTLSConfig(set)
	require.NoError(t, err)
	clientTLS, err := ClientTLSConfig(set)
	require.NoError(t, err)

	quicPort := freeUDPPort(t)
	tcpPort := freeTCPPort(t)

	headers := make(chan string, 1)
	localTarget := echoListener(t, headers)

	srvCfg := Config{
		QUICPort:     quicPort,
		TCPPort:      tcpPort,
		PingInterval: 200 * time.Millisecond,
		PongTimeout:  2 * time.Second,
	}
	server := NewServer(srvCfg, serverTLS)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)

	clientCfg := Config{
		VPSAddr:     "127.0.0.1:" + strconv.Itoa(quicPort),
		LocalTarget: localTarget,
	}
	client := NewClient(clientCfg, clientTLS)
	go client.Run(ctx)

	// give the client time to establish the tunnel before dialing relay TCP.
	require.Eventually(t, func() bool {
		return server.currentActive() != nil
	}, 5*time.Second, 20*time.Millisecond)

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(tcpPort))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello through the tunnel"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello through the tunnel", string(buf[:n]))

	select {
	case line := <-headers:
		assert.Contains(t, line, "PROXY TCP4 127.0.0.1 ")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for proxy protocol header")
	}
}

// TestRelayTCPClosesImmediatelyWithNoActiveConnection asserts spec.md
// §4.8's rule: with no tunnel connection established, a TCP connection to
// the relay port is closed with no bytes sent.
func TestRelayTCPClosesImmediatelyWithNoActiveConnection(t *testing.T) {
	set := testTunnelCerts(t)
	serverTLS, err := ServerTLSConfig(set)
	require.NoError(t, err)

	tcpPort := freeTCPPort(t)
	server := NewServer(Config{QUICPort: freeUDPPort(t), TCPPort: tcpPort}, serverTLS)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)

	// wait for the TCP listener to come up.
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(tcpPort), 50*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(tcpPort))
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 8)
	n, _ := conn.Read(buf)
	assert.Equal(t, 0, n)
}
