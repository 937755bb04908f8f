package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

const (
	consolePrompt   = "matrix> "
	historyFileName = ".matrixctl_history"
	historySize     = 500
)

// lineEditor reads console input with readline on a terminal and a plain
// scanner otherwise (pipes, scripts, editors).
type lineEditor struct {
	rl      *readline.Instance
	scanner *bufio.Scanner
	out     io.Writer
}

func newLineEditor(in *os.File, out io.Writer) *lineEditor {
	if in == nil {
		return &lineEditor{scanner: bufio.NewScanner(strings.NewReader("")), out: out}
	}
	if !term.IsTerminal(int(in.Fd())) || os.Getenv("INSIDE_EMACS") != "" {
		return &lineEditor{scanner: bufio.NewScanner(in), out: out}
	}

	home, _ := os.UserHomeDir()
	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt:                 consolePrompt,
		HistoryFile:            filepath.Join(home, historyFileName),
		HistoryLimit:           historySize,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: readline init failed (%v), using basic input\n", err)
		return &lineEditor{scanner: bufio.NewScanner(in), out: out}
	}
	return &lineEditor{rl: rl, out: out}
}

// line returns the next input line or io.EOF.
func (le *lineEditor) line() (string, error) {
	if le.rl != nil {
		l, err := le.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				return "", io.EOF
			}
			return "", err
		}
		if s := strings.TrimSpace(l); s != "" {
			le.rl.SaveToHistory(s)
		}
		return l, nil
	}

	fmt.Fprint(le.out, consolePrompt)
	if !le.scanner.Scan() {
		if err := le.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return le.scanner.Text(), nil
}

func (le *lineEditor) close() {
	if le.rl != nil {
		le.rl.Close()
		le.rl = nil
	}
}

// console runs matrixctl commands line by line. Input that is not a known
// command is sent to the matrix verbatim.
func console(ctx context.Context, d device, in *os.File, out io.Writer) error {
	le := newLineEditor(in, out)
	defer le.close()
	return consoleLoop(ctx, d, le.line, out)
}

func consoleLoop(ctx context.Context, d device, next func() (string, error), out io.Writer) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		l, err := next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		args := strings.Fields(l)
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "quit", "exit":
			return nil
		case "help":
			fmt.Fprint(out, usageText)
			continue
		}

		if !knownCommand(args[0]) {
			args = append([]string{"raw"}, args...)
		}
		if err := dispatch(ctx, d, args, out); err != nil {
			fmt.Fprintln(out, "error:", err)
		}
	}
}

func knownCommand(name string) bool {
	switch name {
	case "type", "power", "route", "source", "links", "cec", "next", "select", "output", "status", "raw":
		return true
	}
	return false
}
