package imap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
)

func TestClassifyRetryablePhrases(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"invalid session id", errors.New("NO Invalid session ID, please re-authenticate")},
		{"session expired", errors.New("imap command failed: BAD Session expired")},
		{"connection lost", errors.New("connection lost to imap.example.com")},
		{"connection reset", errors.New("read tcp 10.0.0.1:993: connection reset by peer")},
		{"timeout", errors.New("dial tcp: i/o timeout")},
		{"timed out", errors.New("command timed out after 60s")},
		{"broken pipe", errors.New("write tcp: broken pipe")},
		{"eof occurred", errors.New("EOF occurred in violation of protocol")},
		{"command bye", errors.New("imap command bye from server: * BYE logging out")},
		{"uppercase variant", errors.New("CONNECTION RESET")},
		{"mixed case variant", errors.New("Session Expired: please log in again")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != OutcomeRetryable {
				t.Errorf("Classify(%v) = %v, want retryable", tt.err, got)
			}
		})
	}
}

func TestClassifyFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"bad credentials", errors.New("imap command failed: NO [AUTHENTICATIONFAILED] Invalid credentials")},
		{"missing mailbox", errors.New("imap command failed: NO Mailbox does not exist")},
		{"quota", errors.New("NO [OVERQUOTA] Quota exceeded")},
		{"protocol violation", errors.New("BAD Command syntax error")},
		{"empty message", errors.New("")},
		{"nil", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != OutcomeFatal {
				t.Errorf("Classify(%v) = %v, want fatal", tt.err, got)
			}
		})
	}
}

func TestClassifyStructuredTransportErrors(t *testing.T) {
	if got := Classify(io.EOF); got != OutcomeRetryable {
		t.Errorf("Classify(io.EOF) = %v, want retryable", got)
	}
	if got := Classify(fmt.Errorf("imap read: %w", io.ErrUnexpectedEOF)); got != OutcomeRetryable {
		t.Errorf("Classify(wrapped unexpected EOF) = %v, want retryable", got)
	}
	if got := Classify(os.ErrDeadlineExceeded); got != OutcomeRetryable {
		t.Errorf("Classify(deadline exceeded) = %v, want retryable", got)
	}
}

func TestClassifySurvivesWrapping(t *testing.T) {
	cause := errors.New("NO Invalid session ID")
	wrapped := fmt.Errorf("fetch_metadata: %w", fmt.Errorf("examine INBOX: %w", cause))
	if got := Classify(wrapped); got != OutcomeRetryable {
		t.Errorf("Classify(wrapped) = %v, want retryable", got)
	}

	exhausted := &ExhaustedError{Op: "fetch_metadata", Attempts: 4, Err: cause}
	if got := Classify(exhausted); got != OutcomeRetryable {
		t.Errorf("Classify(ExhaustedError) = %v, want retryable", got)
	}

	fatal := fmt.Errorf("login: %w", errors.New("NO [AUTHENTICATIONFAILED] nope"))
	if got := Classify(fatal); got != OutcomeFatal {
		t.Errorf("Classify(wrapped fatal) = %v, want fatal", got)
	}
}

func TestOutcomeString(t *testing.T) {
	if OutcomeRetryable.String() != "retryable" {
		t.Errorf("OutcomeRetryable.String() = %q", OutcomeRetryable.String())
	}
	if OutcomeFatal.String() != "fatal" {
		t.Errorf("OutcomeFatal.String() = %q", OutcomeFatal.String())
	}
}
