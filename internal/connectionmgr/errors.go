package connectionmgr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCommand is returned for empty commands or commands that
	// carry their own line terminator.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrCommandDeadline is returned when a reply keeps trickling in past
	// the configured CommandDeadline.
	ErrCommandDeadline = errors.New("command deadline exceeded")
)

// ConnectionError reports a dial, write or read failure. The connection has
// already been torn down when a caller sees it; the next command redials.
type ConnectionError struct {
	Op   string // "dial", "write" or "read"
	Addr string
	ID   string // id of the failed command, as logged; empty outside Exec
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s (cmd %s): %v", e.Op, e.Addr, e.ID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}
