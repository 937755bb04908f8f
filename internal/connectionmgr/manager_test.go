package connectionmgr

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisconnectIsIdempotent(t *testing.T) {
	m := New("matrix.test:23")

	assert.NotPanics(t, func() {
		m.Disconnect()
		m.Disconnect()
	})

	client, server := net.Pipe()
	defer server.Close()
	m.SetConn(client)
	require.Equal(t, Ready, m.State())

	m.Disconnect()
	m.Disconnect()
	require.NoError(t, m.Close())
	assert.Equal(t, Disconnected, m.State())
}

func TestDisconnectSwallowsCloseOfBrokenSocket(t *testing.T) {
	client, server := net.Pipe()
	server.Close()
	client.Close()

	m := New("matrix.test:23")
	m.SetConn(client)

	assert.NotPanics(t, m.Disconnect)
	assert.Equal(t, Disconnected, m.State())
}

func TestEnsureConnectedIsIdempotent(t *testing.T) {
	d := &pipeDialer{dev: echoDevice("")}
	m := newTestManager(t, d)

	require.NoError(t, m.EnsureConnected(context.Background()))
	require.NoError(t, m.EnsureConnected(context.Background()))
	require.NoError(t, m.EnsureConnected(context.Background()))

	assert.EqualValues(t, 1, d.dials.Load())
	assert.Equal(t, Ready, m.State())
}

func TestEnsureConnectedRedialsClosedPeer(t *testing.T) {
	d := &pipeDialer{dev: echoDevice("")}
	m := newTestManager(t, d)

	client, server := net.Pipe()
	m.SetConn(client)
	server.Close()

	require.NoError(t, m.EnsureConnected(context.Background()))
	assert.EqualValues(t, 1, d.dials.Load())
}

func TestEnsureConnectedDrainsStaleOutput(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })

	m := New("matrix.test:23")
	m.SetIdleTimeout(testIdle)
	m.SetConn(client)
	t.Cleanup(m.Disconnect)

	late := make(chan struct{})
	go func() {
		server.Write([]byte("OUT01:IN03\r\n"))
		close(late)
	}()

	// The late reply belongs to nobody; it must not count as the next reply.
	require.Eventually(t, func() bool {
		if err := m.EnsureConnected(context.Background()); err != nil {
			return false
		}
		select {
		case <-late:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, Ready, m.State())
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	m := New(addr)
	m.DialTimeout = time.Second

	err = m.Connect(context.Background())
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "dial", ce.Op)
	assert.Equal(t, addr, ce.Addr)
	assert.Equal(t, Disconnected, m.State())
}

func TestConnectReplacesExisting(t *testing.T) {
	d := &pipeDialer{dev: echoDevice("")}
	m := newTestManager(t, d)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))
	assert.EqualValues(t, 2, d.dials.Load())
	assert.Equal(t, Ready, m.State())
}

func TestParseTransport(t *testing.T) {
	tr, err := ParseTransport("")
	require.NoError(t, err)
	assert.Equal(t, TransportRaw, tr)

	tr, err = ParseTransport("Telnet")
	require.NoError(t, err)
	assert.Equal(t, TransportTelnet, tr)
	assert.Equal(t, "telnet", tr.String())

	_, err = ParseTransport("serial")
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "ready", Ready.String())
}
