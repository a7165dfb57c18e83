package imap

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations submitted after the manager has been
// closed.
var ErrClosed = errors.New("imap: session manager closed")

// ExhaustedError is returned when an operation still fails retryably after
// the configured number of attempts. It wraps the last underlying cause, so
// both errors.Is/As chains and message-text classification keep working on
// it.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("imap: %s failed after %d attempts: %s", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
