package connectionmgr

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rjboer/hdmimatrix/internal/logging"
)

const testIdle = 50 * time.Millisecond

// fakeDevice plays the matrix side of a net.Pipe: it reads CRLF-terminated
// commands and writes back whatever respond returns.
type fakeDevice struct {
	respond    func(cmd string) string
	closeAfter bool // hang up after the first reply

	mu       sync.Mutex
	received []string
}

func (d *fakeDevice) serve(conn net.Conn) {
	go func() {
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			d.mu.Lock()
			d.received = append(d.received, line)
			d.mu.Unlock()

			if out := d.respond(strings.TrimRight(line, "\r\n")); out != "" {
				if _, err := conn.Write([]byte(out)); err != nil {
					return
				}
			}
			if d.closeAfter {
				return
			}
		}
	}()
}

func (d *fakeDevice) commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.received...)
}

// pipeDialer hands out a fresh pipe to dev on every dial.
type pipeDialer struct {
	dev  *fakeDevice
	wrap func(n int, c net.Conn) net.Conn
	err  error

	dials atomic.Int32
}

func (p *pipeDialer) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	n := int(p.dials.Add(1))
	if p.err != nil {
		return nil, p.err
	}
	client, server := net.Pipe()
	p.dev.serve(server)
	if p.wrap != nil {
		return p.wrap(n, client), nil
	}
	return client, nil
}

func newTestManager(t *testing.T, d *pipeDialer) *Manager {
	t.Helper()
	m := New("matrix.test:23")
	m.SetIdleTimeout(testIdle)
	m.SetDialer(d.DialContext)
	t.Cleanup(m.Disconnect)
	return m
}

func echoDevice(reply string) *fakeDevice {
	return &fakeDevice{respond: func(string) string { return reply }}
}

// failingConn fails every write as a reset socket would.
type failingConn struct {
	net.Conn
}

func (failingConn) Write([]byte) (int, error) {
	return 0, errors.New("write: broken pipe")
}

// slowConn stretches each write and records whether two writes overlapped.
type slowConn struct {
	net.Conn
	writing  *atomic.Bool
	overlaps *atomic.Int32
}

func (c slowConn) Write(b []byte) (int, error) {
	if !c.writing.CompareAndSwap(false, true) {
		c.overlaps.Add(1)
	}
	defer c.writing.Store(false)
	time.Sleep(5 * time.Millisecond)
	return c.Conn.Write(b)
}

func listenTCP(t *testing.T, dev *fakeDevice) (addr string, accepted *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted = &atomic.Int32{}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			dev.serve(c)
		}
	}()
	return ln.Addr().String(), accepted
}

// hookLogger runs onInfo for every Info message and drops everything else.
type hookLogger struct {
	onInfo func(msg string)
}

func (h hookLogger) Debug(string, ...logging.Field)       {}
func (h hookLogger) Info(msg string, _ ...logging.Field)  { h.onInfo(msg) }
func (h hookLogger) Warn(string, ...logging.Field)        {}
func (h hookLogger) Error(string, ...logging.Field)       {}
func (h hookLogger) With(...logging.Field) logging.Logger { return h }
