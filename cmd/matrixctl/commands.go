package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/rjboer/hdmimatrix/internal/matrix"
)

var errUsage = errors.New("usage")

// device is everything the CLI calls on a matrix.
type device interface {
	matrix.Controller
	Status(ctx context.Context) (matrix.Status, error)
	NextSource(ctx context.Context, output, inputs int) (int, error)
	SelectSource(ctx context.Context, output int, name string) (int, error)
	OutputPower(ctx context.Context, output int, on bool) error
	OutputID(s string) (int, error)
	Layout() matrix.Layout
	Raw(ctx context.Context, command string) ([]string, error)
}

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

func dispatch(ctx context.Context, d device, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usagef("missing command")
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "type":
		t, err := d.Type(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, t)

	case "power":
		return powerCmd(ctx, d, rest, out)

	case "route":
		if len(rest) != 2 {
			return usagef("route <in> <out>")
		}
		in, err := portArg(rest[0])
		if err != nil {
			return err
		}
		o, err := outputArg(d, rest[1])
		if err != nil {
			return err
		}
		return d.SetOutputSource(ctx, in, o)

	case "source":
		return sourceCmd(ctx, d, rest, out)

	case "links":
		return linksCmd(ctx, d, rest, out)

	case "cec":
		if len(rest) < 3 {
			return usagef("cec in|out <id> <cmd>")
		}
		id, err := portArg(rest[1])
		if err != nil {
			return err
		}
		text := strings.Join(rest[2:], " ")
		switch rest[0] {
		case "in":
			return d.SetCECIn(ctx, id, text)
		case "out":
			return d.SetCECOut(ctx, id, text)
		default:
			return usagef("cec direction must be in or out, got %q", rest[0])
		}

	case "next":
		if len(rest) < 1 || len(rest) > 2 {
			return usagef("next <out> [inputs]")
		}
		o, err := outputArg(d, rest[0])
		if err != nil {
			return err
		}
		n := len(d.Layout().Sources)
		if len(rest) == 2 {
			if n, err = portArg(rest[1]); err != nil {
				return err
			}
		}
		if n == 0 {
			return usagef("next: input count required when no sources are configured")
		}
		in, err := d.NextSource(ctx, o, n)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, routeLine(d.Layout(), o, in))

	case "select":
		if len(rest) < 2 {
			return usagef("select <out> <source name>")
		}
		o, err := outputArg(d, rest[0])
		if err != nil {
			return err
		}
		in, err := d.SelectSource(ctx, o, strings.Join(rest[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(out, routeLine(d.Layout(), o, in))

	case "output":
		if len(rest) != 2 {
			return usagef("output <out> on|off")
		}
		o, err := outputArg(d, rest[0])
		if err != nil {
			return err
		}
		switch strings.ToLower(rest[1]) {
		case "on":
			return d.OutputPower(ctx, o, true)
		case "off":
			return d.OutputPower(ctx, o, false)
		default:
			return usagef("output on|off, got %q", rest[1])
		}

	case "status":
		st, err := d.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "model: %s\n", st.Type)
		fmt.Fprintf(out, "power: %s\n", onOff(st.Power))
		if st.Outputs == nil {
			fmt.Fprintln(out, "routing: unavailable")
		} else {
			printRoutes(out, d.Layout(), st.Outputs)
		}

	case "raw":
		if len(rest) == 0 {
			return usagef("raw <command...>")
		}
		lines, err := d.Raw(ctx, strings.Join(rest, " "))
		if err != nil {
			return err
		}
		for _, l := range lines {
			fmt.Fprintln(out, l)
		}

	default:
		return usagef("unknown command %q", cmd)
	}
	return nil
}

func powerCmd(ctx context.Context, d device, rest []string, out io.Writer) error {
	if len(rest) == 0 {
		on, err := d.Power(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, onOff(on))
		return nil
	}
	switch strings.ToLower(rest[0]) {
	case "on", "1":
		return d.SetPower(ctx, true)
	case "off", "0":
		return d.SetPower(ctx, false)
	default:
		return usagef("power on|off, got %q", rest[0])
	}
}

func sourceCmd(ctx context.Context, d device, rest []string, out io.Writer) error {
	if len(rest) != 1 {
		return usagef("source <out>|all")
	}
	if rest[0] == "all" {
		m, ok, err := d.OutputSources(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("routing reply could not be parsed")
		}
		printRoutes(out, d.Layout(), m)
		return nil
	}

	o, err := outputArg(d, rest[0])
	if err != nil {
		return err
	}
	in, ok, err := d.OutputSource(ctx, o)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("source of output %d unknown", o)
	}
	fmt.Fprintln(out, routeLine(d.Layout(), o, in))
	return nil
}

func linksCmd(ctx context.Context, d device, rest []string, out io.Writer) error {
	if len(rest) < 1 || len(rest) > 2 || (rest[0] != "in" && rest[0] != "out") {
		return usagef("links in|out [id]")
	}
	dir := rest[0]

	if len(rest) == 2 {
		id, err := portArg(rest[1])
		if err != nil {
			return err
		}
		var linked bool
		if dir == "in" {
			linked, err = d.InLink(ctx, id)
		} else {
			linked, err = d.OutLink(ctx, id)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %d: %s\n", dir, id, linkText(linked))
		return nil
	}

	var (
		m   matrix.LinkMap
		ok  bool
		err error
	)
	if dir == "in" {
		m, ok, err = d.InLinks(ctx)
	} else {
		m, ok, err = d.OutLinks(ctx)
	}
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("link reply could not be parsed")
	}
	for _, id := range slices.Sorted(maps.Keys(m)) {
		fmt.Fprintf(out, "%s %d: %s\n", dir, id, linkText(m[id]))
	}
	return nil
}

func printRoutes(out io.Writer, l matrix.Layout, m matrix.RoutingMap) {
	for _, o := range slices.Sorted(maps.Keys(m)) {
		fmt.Fprintln(out, routeLine(l, o, m[o]))
	}
}

// routeLine renders one route, adding configured names when there are any.
func routeLine(l matrix.Layout, o, in int) string {
	s := fmt.Sprintf("out %d <- in %d", o, in)
	zone, src := l.ZoneName(o), l.SourceName(in)
	switch {
	case zone != "" && src != "":
		s += fmt.Sprintf(" (%s: %s)", zone, src)
	case src != "":
		s += fmt.Sprintf(" (%s)", src)
	case zone != "":
		s += fmt.Sprintf(" (%s)", zone)
	}
	return s
}

// outputArg accepts a zone name or an output id.
func outputArg(d device, s string) (int, error) {
	id, err := d.OutputID(s)
	if err != nil {
		return 0, usagef("%v", err)
	}
	return id, nil
}

func portArg(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, usagef("port id must be a positive integer, got %q", s)
	}
	return n, nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func linkText(connected bool) string {
	if connected {
		return "connected"
	}
	return "disconnected"
}
