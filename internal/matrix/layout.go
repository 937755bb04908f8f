package matrix

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rjboer/hdmimatrix/internal/logging"
)

// Layout names the ports of a matrix. Sources[i] is input i+1 and Zones[i]
// is output i+1.
type Layout struct {
	Sources []string
	Zones   []string
}

// SourceID returns the input id for a source name.
func (l Layout) SourceID(name string) (int, bool) {
	return indexOf(l.Sources, name)
}

// ZoneID returns the output id for a zone name.
func (l Layout) ZoneID(name string) (int, bool) {
	return indexOf(l.Zones, name)
}

// SourceName returns the name of input id, or "" when it has none.
func (l Layout) SourceName(id int) string {
	if id < 1 || id > len(l.Sources) {
		return ""
	}
	return l.Sources[id-1]
}

// ZoneName returns the name of output id, or "" when it has none.
func (l Layout) ZoneName(id int) string {
	if id < 1 || id > len(l.Zones) {
		return ""
	}
	return l.Zones[id-1]
}

// Validate rejects empty and duplicate names.
func (l Layout) Validate() error {
	if err := checkNames("source", l.Sources); err != nil {
		return err
	}
	return checkNames("zone", l.Zones)
}

func indexOf(names []string, name string) (int, bool) {
	for i, n := range names {
		if n == name {
			return i + 1, true
		}
	}
	return 0, false
}

func checkNames(kind string, names []string) error {
	seen := make(map[string]bool, len(names))
	for i, n := range names {
		if n == "" {
			return fmt.Errorf("%s %d has an empty name", kind, i+1)
		}
		if seen[n] {
			return fmt.Errorf("%s name %q used twice", kind, n)
		}
		seen[n] = true
	}
	return nil
}

// SetLayout attaches port names used by SelectSource and the CLI.
func (c *Client) SetLayout(l Layout) {
	c.layout = l
}

func (c *Client) Layout() Layout {
	return c.layout
}

// SelectSource routes the input named name to output and returns its id.
// Names are matched exactly; an unknown name sends nothing.
func (c *Client) SelectSource(ctx context.Context, output int, name string) (int, error) {
	input, ok := c.layout.SourceID(name)
	if !ok {
		c.log.Warn("unknown source", logging.F("source", name), logging.F("output", output))
		return 0, fmt.Errorf("%w: source %q", ErrUnknownName, name)
	}
	if err := c.SetOutputSource(ctx, input, output); err != nil {
		return 0, err
	}
	c.log.Info("selected source", logging.F("output", output), logging.F("source", name), logging.F("input", input))
	return input, nil
}

// OutputPower switches the display on output on or off by sending a CEC
// power command to the input currently routed there.
func (c *Client) OutputPower(ctx context.Context, output int, on bool) error {
	input, ok, err := c.OutputSource(ctx, output)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: output %d", ErrUnknownSource, output)
	}
	return c.SetCECIn(ctx, input, onOffWord(on))
}

// OutputID resolves s as a zone name or a numeric output id.
func (c *Client) OutputID(s string) (int, error) {
	if id, ok := c.layout.ZoneID(s); ok {
		return id, nil
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: zone %q", ErrUnknownName, s)
	}
	if id < 1 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPort, id)
	}
	return id, nil
}

func onOffWord(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
