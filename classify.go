package imap

import (
	"errors"
	"io"
	"net"
	"strings"
)

// Outcome is the classification of an operation failure. It decides whether
// the session manager retries on a fresh session or propagates immediately.
type Outcome int

const (
	// OutcomeFatal failures propagate to the caller on first sight. This is
	// the default for anything not recognized as transient: authentication
	// failures, missing mailboxes, quota errors, protocol violations.
	OutcomeFatal Outcome = iota

	// OutcomeRetryable failures invalidate the session and are retried with
	// backoff.
	OutcomeRetryable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// retryablePhrases are matched case-insensitively against the full error
// message, wrapping context included. The list is fixed; servers signal
// session death with a small set of stable phrases and everything else is
// treated as fatal.
var retryablePhrases = []string{
	"invalid session id",
	"session expired",
	"connection lost",
	"connection reset",
	"timeout",
	"timed out",
	"broken pipe",
	"eof occurred",
	"command bye",
}

// Classify reports whether err is worth retrying on a fresh session.
//
// Classification is total: any error, however malformed, classifies without
// panicking, and absence of a match simply means OutcomeFatal. Transport
// errors that carry structure (net.Error timeouts, EOF) are recognized
// directly; everything else is matched against the known phrases in the
// message text, so classification survives %w wrapping.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeFatal
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return OutcomeRetryable
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return OutcomeRetryable
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range retryablePhrases {
		if strings.Contains(msg, phrase) {
			return OutcomeRetryable
		}
	}
	return OutcomeFatal
}
