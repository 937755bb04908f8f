package connectionmgr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/rjboer/hdmimatrix/internal/logging"
	"github.com/rjboer/hdmimatrix/internal/reply"
)

const lineEnding = "\r\n"

// pendingCommand is one in-flight request and the bytes read back for it.
type pendingCommand struct {
	id   string
	text string
	buf  []byte
}

func newPendingCommand(text string) *pendingCommand {
	return &pendingCommand{
		id:   ulid.Make().String(),
		text: text,
		buf:  make([]byte, 0, readChunk),
	}
}

func (p *pendingCommand) wire() []byte {
	return []byte(p.text + lineEnding)
}

func validateCommand(cmd string) error {
	if strings.TrimSpace(cmd) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCommand)
	}
	if strings.ContainsAny(cmd, "\r\n") {
		return fmt.Errorf("%w: %q contains a line break", ErrInvalidCommand, cmd)
	}
	return nil
}

// Exec sends one command and returns the cleaned reply lines.
//
// Commands run one at a time in arrival order. ctx covers the wait for the
// turn and the dial, if one is needed; once the command is on the wire it
// runs to completion. A reply with no bytes at all yields []string{""}. Any
// I/O failure drops the connection and is returned as a *ConnectionError
// carrying the command id used in the log; the next call redials.
func (m *Manager) Exec(ctx context.Context, command string) ([]string, error) {
	if err := validateCommand(command); err != nil {
		return nil, err
	}

	gate := m.sem()
	if err := gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer gate.Release(1)

	p := newPendingCommand(command)
	c, err := m.ensureConnected(ctx)
	if err != nil {
		var ce *ConnectionError
		if errors.As(err, &ce) {
			ce.ID = p.id
		}
		return nil, err
	}
	return m.roundTrip(c, p)
}

// ExecSingle returns the last cleaned reply line, or "" if there is none.
// Single-target queries answer with one payload line; taking the last one
// tolerates leading noise the cleaner did not recognize.
func (m *Manager) ExecSingle(ctx context.Context, command string) (string, error) {
	lines, err := m.Exec(ctx, command)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", nil
	}
	return lines[len(lines)-1], nil
}

func (m *Manager) roundTrip(c net.Conn, p *pendingCommand) ([]string, error) {
	log := m.log().With(logging.F("cmd", p.text), logging.F("id", p.id))

	if c == nil {
		return nil, m.fail(c, p, log, "write", net.ErrClosed)
	}

	log.Debug("sending command")
	if err := m.writeAll(c, p.wire()); err != nil {
		return nil, m.fail(c, p, log, "write", err)
	}
	if err := m.readUntilIdle(c, &p.buf); err != nil {
		return nil, m.fail(c, p, log, "read", err)
	}

	if len(p.buf) == 0 {
		log.Warn("no response received")
		return []string{""}, nil
	}

	lines := reply.Clean(p.buf, p.text)
	log.Debug("reply", logging.F("bytes", len(p.buf)), logging.F("lines", lines))
	return lines, nil
}

func (m *Manager) fail(c net.Conn, p *pendingCommand, log logging.Logger, op string, err error) error {
	log.Warn("command failed, dropping connection", logging.F("op", op), logging.F("err", err))
	if c != nil {
		m.drop(c)
	}
	return &ConnectionError{Op: op, Addr: m.Address, ID: p.id, Err: err}
}
