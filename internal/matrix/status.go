package matrix

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rjboer/hdmimatrix/internal/logging"
)

// Status is one refresh of the values a dashboard shows for a matrix.
type Status struct {
	Type    string
	Power   bool
	Outputs RoutingMap // nil when the routing reply could not be parsed
}

// Status queries model, power and routing. The queries are issued together
// and queue on the command gate; any failure fails the whole snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		t, err := c.Type(ctx)
		st.Type = t
		return err
	})
	g.Go(func() error {
		on, err := c.Power(ctx)
		st.Power = on
		return err
	})
	g.Go(func() error {
		outs, ok, err := c.OutputSources(ctx)
		if ok {
			st.Outputs = outs
		}
		return err
	})

	if err := g.Wait(); err != nil {
		c.log.Error("status update failed", logging.F("err", err))
		return Status{}, err
	}
	return st, nil
}

// NextSource advances output to the next of inputs sources, wrapping from
// the last back to input 1, and returns the new input.
func (c *Client) NextSource(ctx context.Context, output, inputs int) (int, error) {
	if inputs < 1 {
		return 0, fmt.Errorf("%w: %d inputs", ErrInvalidPort, inputs)
	}
	cur, ok, err := c.OutputSource(ctx, output)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: output %d", ErrUnknownSource, output)
	}

	next := cur%inputs + 1
	if err := c.SetOutputSource(ctx, next, output); err != nil {
		return 0, err
	}
	c.log.Info("switched source", logging.F("output", output), logging.F("from", cur), logging.F("to", next))
	return next, nil
}
