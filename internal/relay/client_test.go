package relay

import (
	"bufio"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteProxyProtocolHeaderIPv4(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- writeProxyProtocolHeader(client, net.ParseIP("198.51.100.9")) }()

	r := bufio.NewReader(server)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Contains(t, line, "PROXY TCP4 198.51.100.9 ")
	assert.Contains(t, line, " 0 ")
}

func TestWriteProxyProtocolHeaderIPv6(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- writeProxyProtocolHeader(client, net.ParseIP("2001:db8::9")) }()

	r := bufio.NewReader(server)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Contains(t, line, "PROXY TCP6 2001:db8::9 ")
}
