// Package matrix exposes the typed operations of an HDMI matrix switcher on
// top of the serialized command channel.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rjboer/hdmimatrix/internal/connectionmgr"
	"github.com/rjboer/hdmimatrix/internal/logging"
	"github.com/rjboer/hdmimatrix/internal/reply"
)

var (
	ErrInvalidPort   = errors.New("port id must be 1 or greater")
	ErrInvalidCEC    = errors.New("invalid CEC command")
	ErrUnknownSource = errors.New("current source unknown")
	ErrUnknownName   = errors.New("unknown name")
)

// RoutingMap maps an output id to the input id it shows.
type RoutingMap map[int]int

// LinkMap maps a port id to whether a cable is connected.
type LinkMap map[int]bool

// Executor runs one protocol command and returns cleaned reply lines.
// *connectionmgr.Manager implements it.
type Executor interface {
	Exec(ctx context.Context, command string) ([]string, error)
	ExecSingle(ctx context.Context, command string) (string, error)
}

// Controller is the set of operations an orchestration layer polls and
// drives. Every method may fail with a *connectionmgr.ConnectionError.
type Controller interface {
	Type(ctx context.Context) (string, error)
	Power(ctx context.Context) (bool, error)
	SetPower(ctx context.Context, on bool) error
	OutputSource(ctx context.Context, output int) (int, bool, error)
	OutputSources(ctx context.Context) (RoutingMap, bool, error)
	InLink(ctx context.Context, input int) (bool, error)
	InLinks(ctx context.Context) (LinkMap, bool, error)
	OutLink(ctx context.Context, output int) (bool, error)
	OutLinks(ctx context.Context) (LinkMap, bool, error)
	SetOutputSource(ctx context.Context, input, output int) error
	SetCECIn(ctx context.Context, input int, command string) error
	SetCECOut(ctx context.Context, output int, command string) error
}

// Client implements Controller.
type Client struct {
	exec   Executor
	log    logging.Logger
	layout Layout
}

var _ Controller = (*Client)(nil)

// NewClient wraps exec. A nil logger falls back to logging.Default().
func NewClient(exec Executor, log logging.Logger) *Client {
	if log == nil {
		log = logging.Default()
	}
	return &Client{exec: exec, log: log}
}

// Dial builds a Client backed by its own connection manager. The connection
// is opened lazily by the first command.
func Dial(addr string, log logging.Logger) (*Client, *connectionmgr.Manager) {
	m := connectionmgr.New(addr)
	m.SetLogger(log)
	return NewClient(m, log), m
}

// Type returns the device model string.
func (c *Client) Type(ctx context.Context) (string, error) {
	return c.exec.ExecSingle(ctx, "r type!")
}

// Power reports whether the matrix is switched on.
func (c *Client) Power(ctx context.Context) (bool, error) {
	res, err := c.exec.ExecSingle(ctx, "r power!")
	if err != nil {
		return false, err
	}
	return reply.PowerOn(res), nil
}

func (c *Client) SetPower(ctx context.Context, on bool) error {
	state := 0
	if on {
		state = 1
	}
	return c.send(ctx, fmt.Sprintf("s power %d!", state))
}

// OutputSource returns the input routed to output. ok is false when the
// reply carries no readable input id.
func (c *Client) OutputSource(ctx context.Context, output int) (input int, ok bool, err error) {
	if err := checkPort(output); err != nil {
		return 0, false, err
	}
	res, err := c.exec.ExecSingle(ctx, fmt.Sprintf("r av out %d!", output))
	if err != nil {
		return 0, false, err
	}
	input, ok = reply.Source(res)
	if !ok {
		c.log.Warn("could not parse output source", logging.F("output", output), logging.F("reply", res))
	}
	return input, ok, nil
}

// OutputSources returns the routing of every output. ok is false when any
// reply line fails to parse; a partial map is never returned.
func (c *Client) OutputSources(ctx context.Context) (RoutingMap, bool, error) {
	lines, err := c.exec.Exec(ctx, "r av out 0!")
	if err != nil {
		return nil, false, err
	}
	if !hasPayload(lines) {
		c.log.Warn("empty routing reply")
		return nil, false, nil
	}
	m, err := reply.Routes(lines)
	if err != nil {
		c.log.Warn("could not parse routing reply", logging.F("err", err), logging.F("lines", lines))
		return nil, false, nil
	}
	return RoutingMap(m), true, nil
}

func (c *Client) InLink(ctx context.Context, input int) (bool, error) {
	return c.link(ctx, reply.In, input)
}

func (c *Client) InLinks(ctx context.Context) (LinkMap, bool, error) {
	return c.links(ctx, reply.In)
}

func (c *Client) OutLink(ctx context.Context, output int) (bool, error) {
	return c.link(ctx, reply.Out, output)
}

func (c *Client) OutLinks(ctx context.Context) (LinkMap, bool, error) {
	return c.links(ctx, reply.Out)
}

func (c *Client) link(ctx context.Context, dir reply.Direction, port int) (bool, error) {
	if err := checkPort(port); err != nil {
		return false, err
	}
	res, err := c.exec.ExecSingle(ctx, fmt.Sprintf("r link %s %d!", dir, port))
	if err != nil {
		return false, err
	}
	return reply.Connected(res), nil
}

func (c *Client) links(ctx context.Context, dir reply.Direction) (LinkMap, bool, error) {
	lines, err := c.exec.Exec(ctx, fmt.Sprintf("r link %s 0!", dir))
	if err != nil {
		return nil, false, err
	}
	if !hasPayload(lines) {
		c.log.Warn("empty link reply", logging.F("dir", dir.String()))
		return nil, false, nil
	}
	m, err := reply.Links(lines, dir)
	if err != nil {
		c.log.Warn("could not parse link reply", logging.F("dir", dir.String()), logging.F("err", err), logging.F("lines", lines))
		return nil, false, nil
	}
	return LinkMap(m), true, nil
}

// SetOutputSource routes input to output.
func (c *Client) SetOutputSource(ctx context.Context, input, output int) error {
	if err := checkPort(input); err != nil {
		return err
	}
	if err := checkPort(output); err != nil {
		return err
	}
	return c.send(ctx, fmt.Sprintf("s in %d av out %d!", input, output))
}

// SetCECIn passes a CEC command through to the source on input.
func (c *Client) SetCECIn(ctx context.Context, input int, command string) error {
	if err := checkPort(input); err != nil {
		return err
	}
	if err := checkCEC(command); err != nil {
		return err
	}
	return c.send(ctx, fmt.Sprintf("s cec in %d %s!", input, command))
}

// SetCECOut passes a CEC command through to the display on output.
func (c *Client) SetCECOut(ctx context.Context, output int, command string) error {
	if err := checkPort(output); err != nil {
		return err
	}
	if err := checkCEC(command); err != nil {
		return err
	}
	return c.send(ctx, fmt.Sprintf("s cec hdmi out %d %s!", output, command))
}

// Raw sends command unmodified and returns the cleaned reply lines.
func (c *Client) Raw(ctx context.Context, command string) ([]string, error) {
	return c.exec.Exec(ctx, command)
}

// send issues a set command; the acknowledgement text is not interpreted.
func (c *Client) send(ctx context.Context, command string) error {
	res, err := c.exec.ExecSingle(ctx, command)
	if err != nil {
		return err
	}
	c.log.Debug("command acknowledged", logging.F("cmd", command), logging.F("reply", res))
	return nil
}

func checkPort(id int) error {
	if id < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, id)
	}
	return nil
}

func checkCEC(cmd string) error {
	if strings.TrimSpace(cmd) == "" || strings.ContainsAny(cmd, "!\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidCEC, cmd)
	}
	return nil
}

func hasPayload(lines []string) bool {
	for _, l := range lines {
		if l != "" {
			return true
		}
	}
	return false
}
