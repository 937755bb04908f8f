// Command matrixctl drives an HDMI matrix switcher from the shell.
//
//	matrixctl -host 192.168.1.50 status
//	matrixctl -config matrix.yaml route 2 1
//	matrixctl -host matrix.lan console
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/hdmimatrix/internal/config"
	"github.com/rjboer/hdmimatrix/internal/connectionmgr"
	"github.com/rjboer/hdmimatrix/internal/logging"
	"github.com/rjboer/hdmimatrix/internal/matrix"
)

const usageText = `usage: matrixctl [flags] <command> [args]

commands (<out> is an output id or a zone name from the config):
  type                      show the device model
  power [on|off]            show or switch power
  route <in> <out>          show input <in> on output <out>
  source <out>|all          show the input routed to an output
  links in|out [id]         show cable link state
  cec in|out <id> <cmd>     pass a CEC command through
  next <out> [inputs]       advance an output to the next input
  select <out> <source>     route a named source to an output
  output <out> on|off       switch the display on an output via CEC
  status                    model, power and routing in one go
  raw <command...>          send a protocol command as is
  console                   interactive session

flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("matrixctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usageText)
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "YAML config file")
	host := fs.String("host", "", "matrix host (overrides config)")
	port := fs.Int("port", 0, "matrix TCP port (overrides config)")
	idle := fs.Duration("idle", 0, "quiet period that ends a reply (overrides config)")
	wait := fs.Duration("wait", 0, "keep retrying the first connection for up to this long")
	verbose := fs.Bool("v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "matrixctl:", err)
		return 1
	}
	if *host != "" {
		cfg.Matrix.Host = *host
	}
	if *port != 0 {
		cfg.Matrix.Port = *port
	}
	if *idle != 0 {
		cfg.Matrix.IdleTimeout = *idle
	}
	if *verbose {
		cfg.Logging.Level = "DEBUG"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "matrixctl:", err)
		return 2
	}

	log, closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintln(stderr, "matrixctl: logging:", err)
		return 1
	}
	defer closer.Close()
	logging.SetDefault(log)

	mgr := connectionmgr.New(cfg.Matrix.Address())
	if err := cfg.Matrix.Apply(mgr); err != nil {
		fmt.Fprintln(stderr, "matrixctl:", err)
		return 2
	}
	mgr.SetLogger(log)
	defer mgr.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *wait > 0 {
		if err := waitForDevice(ctx, mgr, *wait, log); err != nil {
			fmt.Fprintln(stderr, "matrixctl:", err)
			return 1
		}
	}

	client := matrix.NewClient(mgr, log)
	client.SetLayout(cfg.Matrix.Layout())

	if fs.Arg(0) == "console" {
		if err := console(ctx, client, stdin, stdout); err != nil {
			fmt.Fprintln(stderr, "matrixctl:", err)
			return 1
		}
		return 0
	}

	if err := dispatch(ctx, client, fs.Args(), stdout); err != nil {
		fmt.Fprintln(stderr, "matrixctl:", err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

// waitForDevice retries the first connection with exponential backoff, for
// matrices that are still booting when the command runs.
func waitForDevice(ctx context.Context, mgr *connectionmgr.Manager, limit time.Duration, log logging.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = limit

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := mgr.EnsureConnected(ctx)
		if err != nil {
			log.Warn("matrix not reachable yet", logging.F("attempt", attempt), logging.F("err", err))
		}
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
	}
	return nil
}
