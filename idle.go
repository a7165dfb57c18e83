package imap

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	retry "github.com/StirlingMarketingGroup/go-retry"
)

// ExistsEvent signals a new message in the selected mailbox.
type ExistsEvent struct {
	MessageIndex int
}

// ExpungeEvent signals a message removal from the selected mailbox.
type ExpungeEvent struct {
	MessageIndex int
}

// FetchEvent signals a flag change on a message in the selected mailbox.
type FetchEvent struct {
	MessageIndex int
	UID          uint32
	Flags        []string
}

// IdleHandler holds the callbacks invoked for unsolicited server events
// while idling. Callbacks run on their own goroutines.
type IdleHandler struct {
	OnExists  func(event ExistsEvent)
	OnExpunge func(event ExpungeEvent)
	OnFetch   func(event FetchEvent)
}

const (
	IdleEventExists  = "EXISTS"
	IdleEventExpunge = "EXPUNGE"
	IdleEventFetch   = "FETCH"
)

// idleRefresh is how often the IDLE command is re-issued. RFC 2177 advises
// re-issuing at least every 29 minutes; we stay well under that.
const idleRefresh = 5 * time.Minute

// idleReconnectTries bounds the reconnect attempts of the idle monitor
// before it gives up.
const idleReconnectTries = 10

var idleFetchRE = regexp.MustCompile(`(?i)^(\d+)\s+FETCH\s+\(([^)]*FLAGS\s*\(([^)]*)\)[^)]*)`)

func (d *Dialer) runIdleEvent(data []byte, handler *IdleHandler) error {
	index := 0
	event := ""
	if _, err := fmt.Sscanf(string(data), "%d %s", &index, &event); err != nil {
		return fmt.Errorf("invalid IDLE event format: %s", data)
	}
	switch event {
	case IdleEventExists:
		if handler.OnExists != nil {
			go handler.OnExists(ExistsEvent{MessageIndex: index})
		}
	case IdleEventExpunge:
		if handler.OnExpunge != nil {
			go handler.OnExpunge(ExpungeEvent{MessageIndex: index})
		}
	case IdleEventFetch:
		if handler.OnFetch == nil {
			return nil
		}
		matches := idleFetchRE.FindStringSubmatch(string(data))
		if len(matches) == 4 {
			messageIndex, _ := strconv.Atoi(matches[1])
			uid, _ := strconv.Atoi(matches[2])
			flags := strings.FieldsFunc(strings.ReplaceAll(matches[3], `\`, ""), func(r rune) bool {
				return unicode.IsSpace(r) || r == ','
			})
			go handler.OnFetch(FetchEvent{MessageIndex: messageIndex, UID: uint32(uid), Flags: flags})
		} else {
			return fmt.Errorf("invalid FETCH event format: %s", data)
		}
	}

	return nil
}

// StartIdle begins watching the selected mailbox for unsolicited events.
// The monitor re-issues IDLE periodically and reconnects with backoff when
// the connection drops; it stops when ctx is canceled or StopIdle is
// called.
func (d *Dialer) StartIdle(ctx context.Context, handler *IdleHandler) error {
	go func() {
		ticker := time.NewTicker(idleRefresh)
		defer ticker.Stop()

		for {
			if !d.Connected {
				err := retry.Retry(func() error {
					return d.Reconnect(ctx)
				}, idleReconnectTries, func(err error) error {
					warnLog(d.id, d.Mailbox, "idle reconnect failed, retrying shortly", "error", err)
					return nil
				}, func() error {
					debugLog(d.id, d.Mailbox, "retrying idle reconnect now")
					return nil
				})
				if err != nil {
					errorLog(d.id, d.Mailbox, "idle monitor giving up on reconnect", "error", err)
					return
				}
			}
			if err := d.startIdleSingle(ctx, handler); err != nil {
				errorLog(d.id, d.Mailbox, "idle monitor stopped", "error", err)
				return
			}

			select {
			case <-ctx.Done():
				_ = d.StopIdle()
				return
			case <-ticker.C:
				_ = d.StopIdle()
			case <-d.idleDone:
				return
			}
		}
	}()

	return nil
}

func (d *Dialer) startIdleSingle(ctx context.Context, handler *IdleHandler) error {
	if d.State() == StateIdling || d.State() == StateIdlePending {
		return fmt.Errorf("already entering or in IDLE")
	}

	d.setState(StateIdlePending)

	d.idleStop = make(chan struct{})
	d.idleDone = make(chan struct{})
	idleReady := make(chan struct{})

	go func() {
		defer func() {
			close(d.idleStop)
			if d.State() == StateIdling {
				d.setState(StateSelected)
			}
		}()

		_, err := d.Exec(ctx, "IDLE", true, func(line []byte) error {
			line = []byte(strings.ToUpper(string(line)))
			switch {
			case bytes.HasPrefix(line, []byte("+")):
				d.setState(StateIdling)
				close(idleReady)
				return nil
			case bytes.HasPrefix(line, []byte("* ")):
				strLine := string(line[2:])
				if strings.HasPrefix(strLine, "OK") {
					return nil
				}
				return d.runIdleEvent([]byte(strLine), handler)
			case bytes.HasPrefix(line, []byte("OK ")):
				if strings.HasPrefix(string(line[3:]), "IDLE") {
					d.setState(StateSelected)
				}
				return nil
			}
			return nil
		})
		if err != nil {
			debugLog(d.id, d.Mailbox, "idle terminated", "error", err)
			d.setState(StateDisconnected)
		}
	}()

	select {
	case <-idleReady:
		return nil
	case <-time.After(5 * time.Second):
		d.setState(StateSelected)
		return fmt.Errorf("timeout waiting for + IDLE response")
	}
}

// StopIdle terminates the current IDLE command with DONE.
func (d *Dialer) StopIdle() error {
	if d.State() != StateIdling {
		return fmt.Errorf("not in IDLE state")
	}

	debugLog(d.id, d.Mailbox, "sending DONE")
	if _, err := d.conn.Write([]byte("DONE\r\n")); err != nil {
		return fmt.Errorf("failed to send DONE: %w", err)
	}

	d.setState(StateStoppingIdle)
	close(d.idleDone)

	<-d.idleStop
	d.idleDone, d.idleStop = nil, nil
	if d.State() == StateStoppingIdle {
		d.setState(StateSelected)
	}

	return nil
}
