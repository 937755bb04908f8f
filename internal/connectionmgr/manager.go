package connectionmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ziutek/telnet"
	"golang.org/x/sync/semaphore"

	"github.com/rjboer/hdmimatrix/internal/logging"
)

const (
	DefaultPort         = 23
	DefaultDialTimeout  = 5 * time.Second
	DefaultIdleTimeout  = 300 * time.Millisecond
	DefaultWriteTimeout = 5 * time.Second

	readChunk = 1024

	// probeWindow bounds the liveness check done before every command.
	probeWindow = time.Millisecond
	// maxStale caps how much leftover output a liveness check will drain.
	maxStale = 64 << 10
)

// Transport selects how the TCP stream is wrapped.
type Transport int

const (
	// TransportRaw uses the TCP stream as is.
	TransportRaw Transport = iota
	// TransportTelnet answers telnet option negotiation and unescapes IAC
	// sequences before bytes reach the reply parser.
	TransportTelnet
)

func (t Transport) String() string {
	switch t {
	case TransportRaw:
		return "raw"
	case TransportTelnet:
		return "telnet"
	default:
		return "unknown"
	}
}

// ParseTransport converts a config string to a Transport.
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw", "":
		return TransportRaw, nil
	case "telnet":
		return TransportTelnet, nil
	default:
		return TransportRaw, fmt.Errorf("unsupported transport %q", s)
	}
}

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// DialFunc opens the underlying stream. It matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Manager owns the single connection to one matrix and serializes every
// command sent over it.
type Manager struct {
	Address   string
	Transport Transport

	DialTimeout  time.Duration
	IdleTimeout  time.Duration // quiet period that ends a reply
	WriteTimeout time.Duration
	// CommandDeadline bounds one read phase overall. Zero means a device
	// that never goes quiet holds the gate indefinitely.
	CommandDeadline time.Duration

	Logger logging.Logger

	gateOnce sync.Once
	gate     *semaphore.Weighted
	dial     DialFunc

	mu      sync.Mutex
	conn    net.Conn
	closing bool // peer closed its side; redial before next use

	state atomic.Int32
}

// ---------- Construction / lifecycle ----------

func New(addr string) *Manager {
	return &Manager{
		Address:      addr,
		Transport:    TransportRaw,
		DialTimeout:  DefaultDialTimeout,
		IdleTimeout:  DefaultIdleTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// SetDialer replaces the dial function (tests, tunnels).
func (m *Manager) SetDialer(d DialFunc) {
	m.dial = d
}

// SetConn injects an already open connection (tests, tunnels).
func (m *Manager) SetConn(conn net.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.closing = false
	m.mu.Unlock()
	if conn != nil {
		m.state.Store(int32(Ready))
	} else {
		m.state.Store(int32(Disconnected))
	}
}

func (m *Manager) SetLogger(l logging.Logger) {
	m.Logger = l
}

func (m *Manager) SetIdleTimeout(d time.Duration) {
	m.IdleTimeout = d
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Connect opens a fresh connection, replacing any existing one.
func (m *Manager) Connect(ctx context.Context) error {
	if err := m.sem().Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.sem().Release(1)
	_, err := m.connect(ctx)
	return err
}

// EnsureConnected dials only when there is no usable connection.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	if err := m.sem().Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.sem().Release(1)
	_, err := m.ensureConnected(ctx)
	return err
}

// Disconnect closes the connection if there is one. Close errors are
// swallowed; calling it repeatedly is fine.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.closing = false
	m.mu.Unlock()

	m.state.Store(int32(Disconnected))
	if c == nil {
		return
	}
	_ = c.Close()
	m.log().Info("disconnected")
}

// Close implements io.Closer.
func (m *Manager) Close() error {
	m.Disconnect()
	return nil
}

// ---------- Logging ----------

func (m *Manager) log() logging.Logger {
	l := m.Logger
	if l == nil {
		l = logging.Default()
	}
	return l.With(logging.F("addr", m.Address))
}

// ---------- Connection handling (gate held) ----------

func (m *Manager) sem() *semaphore.Weighted {
	m.gateOnce.Do(func() {
		m.gate = semaphore.NewWeighted(1)
	})
	return m.gate
}

func (m *Manager) dialer() DialFunc {
	if m.dial != nil {
		return m.dial
	}
	d := &net.Dialer{}
	return d.DialContext
}

// connect dials and returns the new connection. Callers use the returned
// value rather than rereading m.conn, which Disconnect may clear at any time.
func (m *Manager) connect(ctx context.Context) (net.Conn, error) {
	m.Disconnect()
	m.state.Store(int32(Connecting))

	if m.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.DialTimeout)
		defer cancel()
	}

	c, err := m.dialer()(ctx, "tcp", m.Address)
	if err != nil {
		m.state.Store(int32(Disconnected))
		m.log().Error("connect failed", logging.F("err", err))
		return nil, &ConnectionError{Op: "dial", Addr: m.Address, Err: err}
	}

	if m.Transport == TransportTelnet {
		tc, err := telnet.NewConn(c)
		if err != nil {
			_ = c.Close()
			m.state.Store(int32(Disconnected))
			return nil, &ConnectionError{Op: "dial", Addr: m.Address, Err: err}
		}
		c = tc
	}

	m.mu.Lock()
	m.conn = c
	m.closing = false
	m.mu.Unlock()
	m.state.Store(int32(Ready))

	m.log().Info("connected", logging.F("transport", m.Transport.String()))
	return c, nil
}

func (m *Manager) ensureConnected(ctx context.Context) (net.Conn, error) {
	m.mu.Lock()
	c, closing := m.conn, m.closing
	m.mu.Unlock()

	if c != nil && !closing && m.alive(c) {
		return c, nil
	}
	if c != nil {
		m.log().Debug("connection no longer usable, reconnecting")
	}
	return m.connect(ctx)
}

// alive reports whether c can still carry a command. Output left over from
// an earlier reply is drained and discarded so it cannot leak into the next
// one.
func (m *Manager) alive(c net.Conn) bool {
	var scratch [readChunk]byte
	drained := 0
	defer func() {
		if drained > 0 {
			m.log().Debug("discarded stale bytes", logging.F("bytes", drained))
		}
	}()

	for drained < maxStale {
		if err := c.SetReadDeadline(time.Now().Add(probeWindow)); err != nil {
			return false
		}
		n, err := c.Read(scratch[:])
		drained += n
		switch {
		case err == nil:
			continue
		case isTimeout(err):
			return true
		default:
			return false
		}
	}
	return true
}

// drop discards c after an I/O fault, unless it was already replaced.
func (m *Manager) drop(c net.Conn) {
	m.mu.Lock()
	if m.conn != c {
		m.mu.Unlock()
		_ = c.Close()
		return
	}
	m.mu.Unlock()
	m.Disconnect()
}

func (m *Manager) markClosing(c net.Conn) {
	m.mu.Lock()
	if m.conn == c {
		m.closing = true
	}
	m.mu.Unlock()
}

// ---------- Raw I/O ----------

func (m *Manager) idleTimeout() time.Duration {
	if m.IdleTimeout > 0 {
		return m.IdleTimeout
	}
	return DefaultIdleTimeout
}

// writeAll writes the full buffer to the socket, handling short writes.
func (m *Manager) writeAll(c net.Conn, b []byte) error {
	for len(b) > 0 {
		if m.WriteTimeout > 0 {
			_ = c.SetWriteDeadline(time.Now().Add(m.WriteTimeout))
		}
		n, err := c.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// readUntilIdle appends to buf until the device stays quiet for one idle
// timeout or closes the stream. The protocol has no terminator or length
// field, so silence is the end-of-message signal.
func (m *Manager) readUntilIdle(c net.Conn, buf *[]byte) error {
	chunk := make([]byte, readChunk)
	start := time.Now()
	idle := m.idleTimeout()

	for {
		if m.CommandDeadline > 0 && time.Since(start) >= m.CommandDeadline {
			return ErrCommandDeadline
		}
		if err := c.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return err
		}

		n, err := c.Read(chunk)
		*buf = append(*buf, chunk[:n]...)

		switch {
		case err == nil:
			continue
		case isTimeout(err):
			return nil
		case errors.Is(err, io.EOF):
			m.markClosing(c)
			return nil
		default:
			return err
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
