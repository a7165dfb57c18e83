package imap

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dialer represents a single authenticated IMAP connection. A Dialer is
// handed to operations by the session Manager (or opened directly with
// Open); it is not safe for concurrent use.
type Dialer struct {
	conn      net.Conn
	reader    *bufio.Reader
	cfg       Config
	id        string
	createdAt time.Time

	Mailbox  string
	ReadOnly bool

	Connected bool

	state    int
	stateMu  sync.Mutex
	idleStop chan struct{}
	idleDone chan struct{}
}

const (
	StateDisconnected = iota
	StateConnected
	StateSelected
	StateIdlePending
	StateIdling
	StateStoppingIdle
)

// ID returns the session identifier used in logs.
func (d *Dialer) ID() string { return d.id }

// CreatedAt returns when the connection was established.
func (d *Dialer) CreatedAt() time.Time { return d.createdAt }

// dialHost establishes the transport connection to the IMAP server.
func dialHost(ctx context.Context, cfg Config) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, err
	}
	if cfg.PlainText {
		return raw, nil
	}
	tlsCfg := &tls.Config{ServerName: cfg.Host}
	if cfg.TLSSkipVerify {
		tlsCfg.InsecureSkipVerify = true
	}
	conn := tls.Client(raw, tlsCfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return conn, nil
}

// Open establishes a connection, reads the server greeting, authenticates,
// and identifies the client. Authentication failures are returned as-is and
// are never retried by the session manager.
func Open(ctx context.Context, cfg Config) (*Dialer, error) {
	cfg = cfg.withDefaults()
	d := &Dialer{
		cfg:       cfg,
		id:        uuid.NewString(),
		createdAt: time.Now(),
	}

	debugLog(d.id, "", "establishing connection", "host", cfg.Host, "port", cfg.Port)

	conn, err := dialHost(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", cfg.Addr(), err)
	}
	d.conn = conn
	d.reader = bufio.NewReader(conn)
	d.Connected = true
	d.setState(StateConnected)

	if err := d.readGreeting(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}

	if err := d.authenticate(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}

	d.sendID(ctx)

	return d, nil
}

// readGreeting consumes the untagged greeting line the server sends on
// connect.
func (d *Dialer) readGreeting(ctx context.Context) error {
	d.setDeadline(ctx)
	defer d.clearDeadline()

	line, err := d.reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("imap greeting: %w", err)
	}
	line = strings.TrimSpace(line)
	debugLog(d.id, "", "server greeting", "greeting", line)

	switch {
	case strings.HasPrefix(line, "* OK"), strings.HasPrefix(line, "* PREAUTH"):
		return nil
	case strings.HasPrefix(line, "* BYE"):
		return fmt.Errorf("imap greeting: command bye from server: %s", line)
	}
	return fmt.Errorf("imap greeting: unexpected response: %s", line)
}

func (d *Dialer) authenticate(ctx context.Context) error {
	var err error
	if d.cfg.Auth == AuthXOAuth2 {
		err = d.Authenticate(ctx, d.cfg.Username, d.cfg.Password)
	} else {
		err = d.Login(ctx, d.cfg.Username, d.cfg.Password)
	}
	if err != nil {
		return fmt.Errorf("imap auth for %s: %w", d.cfg.Username, err)
	}
	return nil
}

// sendID advertises the client name/version with the ID command. Some
// servers require it before allowing other commands, others reject it
// outright; either way failures are logged and never fatal.
func (d *Dialer) sendID(ctx context.Context) {
	cmd := fmt.Sprintf(`ID ("name" "%s" "version" "%s")`,
		AddSlashes.Replace(d.cfg.ClientName), AddSlashes.Replace(d.cfg.ClientVersion))
	if _, err := d.Exec(ctx, cmd, false, nil); err == nil {
		return
	}
	// Fallback for strict servers that only accept the NIL form.
	if _, err := d.Exec(ctx, "ID NIL", false, nil); err != nil {
		warnLog(d.id, "", "server rejected ID command", "error", err)
	}
}

func (d *Dialer) setDeadline(ctx context.Context) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = d.conn.SetDeadline(deadline)
		return
	}
	if d.cfg.CommandTimeout != 0 {
		_ = d.conn.SetDeadline(time.Now().Add(d.cfg.CommandTimeout))
	}
}

func (d *Dialer) clearDeadline() {
	_ = d.conn.SetDeadline(time.Time{})
}

// Close closes the IMAP connection. It is safe to call on an already closed
// Dialer.
func (d *Dialer) Close() (err error) {
	if d.Connected {
		debugLog(d.id, d.Mailbox, "closing connection")
		err = d.conn.Close()
		d.Connected = false
		d.setState(StateDisconnected)
		if err != nil {
			return fmt.Errorf("imap close: %w", err)
		}
	}
	return nil
}

// Reconnect closes and reopens the transport with re-authentication, then
// restores the selected mailbox state if any. The session identifier is
// kept so logs stay correlated across the reconnect.
func (d *Dialer) Reconnect(ctx context.Context) (err error) {
	_ = d.Close()
	debugLog(d.id, d.Mailbox, "reopening connection")

	conn, err := dialHost(ctx, d.cfg)
	if err != nil {
		return fmt.Errorf("imap reconnect dial: %w", err)
	}
	d.conn = conn
	d.reader = bufio.NewReader(conn)
	d.Connected = true
	d.createdAt = time.Now()
	d.setState(StateConnected)

	if err := d.readGreeting(ctx); err != nil {
		_ = d.Close()
		return fmt.Errorf("imap reconnect: %w", err)
	}
	if err := d.authenticate(ctx); err != nil {
		_ = d.Close()
		return fmt.Errorf("imap reconnect: %w", err)
	}

	if d.Mailbox != "" {
		if d.ReadOnly {
			if err := d.ExamineMailbox(ctx, d.Mailbox); err != nil {
				return fmt.Errorf("imap reconnect examine: %w", err)
			}
		} else {
			if err := d.SelectMailbox(ctx, d.Mailbox); err != nil {
				return fmt.Errorf("imap reconnect select: %w", err)
			}
		}
	}

	return nil
}

// Noop issues a NOOP, the cheapest way to verify the session is alive.
func (d *Dialer) Noop(ctx context.Context) error {
	_, err := d.Exec(ctx, "NOOP", false, nil)
	return err
}

func (d *Dialer) setState(s int) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.state = s
}

// State returns the connection state (StateDisconnected, StateSelected, ...).
func (d *Dialer) State() int {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.state
}
