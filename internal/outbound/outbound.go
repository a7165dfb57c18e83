// Package outbound composes and delivers mail: MIME assembly with enmime's
// builder, delivery over SMTP with implicit TLS or STARTTLS per endpoint
// configuration.
package outbound

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"net/mail"
	"strconv"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/jhillyerd/enmime/v2"
	"github.com/pkg/errors"

	"github.com/zerolib/go-imap-session/internal/config"
)

// Message is one outgoing email.
type Message struct {
	To          []string `json:"to"`
	CC          []string `json:"cc,omitempty"`
	BCC         []string `json:"bcc,omitempty"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	HTML        bool     `json:"html,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	InReplyTo   string   `json:"in_reply_to,omitempty"`
	References  string   `json:"references,omitempty"`
}

// Sender delivers mail for one account.
type Sender struct {
	endpoint config.Endpoint
	fromName string
	fromAddr string
}

// NewSender builds a Sender from the account's outgoing endpoint.
func NewSender(account config.Account) *Sender {
	fromAddr := account.EmailAddress
	if fromAddr == "" {
		fromAddr = account.Outgoing.Username
	}
	return &Sender{
		endpoint: account.Outgoing,
		fromName: account.FullName,
		fromAddr: fromAddr,
	}
}

// From returns the sender address mail goes out as.
func (s *Sender) From() string { return s.fromAddr }

func parseAddresses(raw []string) ([]mail.Address, error) {
	out := make([]mail.Address, 0, len(raw))
	for _, r := range raw {
		a, err := mail.ParseAddress(r)
		if err != nil {
			return nil, errors.Wrapf(err, "address %q", r)
		}
		out = append(out, *a)
	}
	return out, nil
}

// Compose assembles the raw RFC 5322 message. The bytes are what gets
// delivered, and what gets appended to the sent mailbox afterwards.
func (s *Sender) Compose(msg Message) ([]byte, error) {
	if len(msg.To) == 0 {
		return nil, errors.New("at least one recipient is required")
	}

	to, err := parseAddresses(msg.To)
	if err != nil {
		return nil, errors.Wrap(err, "to")
	}
	cc, err := parseAddresses(msg.CC)
	if err != nil {
		return nil, errors.Wrap(err, "cc")
	}
	bcc, err := parseAddresses(msg.BCC)
	if err != nil {
		return nil, errors.Wrap(err, "bcc")
	}

	b := enmime.Builder().
		From(s.fromName, s.fromAddr).
		Subject(msg.Subject).
		ToAddrs(to).
		CCAddrs(cc).
		BCCAddrs(bcc)

	if msg.HTML {
		b = b.HTML([]byte(msg.Body))
	} else {
		b = b.Text([]byte(msg.Body))
	}

	if msg.InReplyTo != "" {
		b = b.Header("In-Reply-To", msg.InReplyTo)
	}
	if msg.References != "" {
		b = b.Header("References", msg.References)
	}
	for _, path := range msg.Attachments {
		b = b.AddFileAttachment(path)
	}

	part, err := b.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build message")
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, errors.Wrap(err, "encode message")
	}
	return buf.Bytes(), nil
}

// Send composes and delivers msg, returning the raw message bytes for
// save-to-sent.
func (s *Sender) Send(ctx context.Context, msg Message) ([]byte, error) {
	raw, err := s.Compose(msg)
	if err != nil {
		return nil, err
	}

	recipients := make([]string, 0, len(msg.To)+len(msg.CC)+len(msg.BCC))
	for _, group := range [][]string{msg.To, msg.CC, msg.BCC} {
		for _, r := range group {
			a, err := mail.ParseAddress(r)
			if err != nil {
				return nil, errors.Wrapf(err, "address %q", r)
			}
			recipients = append(recipients, a.Address)
		}
	}

	if err := s.deliver(ctx, recipients, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// deliver speaks SMTP to the outgoing endpoint: dial (TLS or plain),
// optional STARTTLS, AUTH PLAIN, then one MAIL/RCPT/DATA transaction.
func (s *Sender) deliver(ctx context.Context, recipients []string, raw []byte) error {
	addr := net.JoinHostPort(s.endpoint.Host, strconv.Itoa(s.endpoint.Port))

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "dial %s", addr)
	}

	tlsCfg := &tls.Config{ServerName: s.endpoint.Host}
	if s.endpoint.SSL() {
		tconn := tls.Client(conn, tlsCfg)
		if err := tconn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return errors.Wrapf(err, "tls handshake %s", addr)
		}
		conn = tconn
	}

	c := smtp.NewClient(conn)
	defer func() { _ = c.Close() }()

	if !s.endpoint.SSL() && s.endpoint.StartSSL {
		if err := c.StartTLS(tlsCfg); err != nil {
			return errors.Wrap(err, "starttls")
		}
	}

	auth := sasl.NewPlainClient("", s.endpoint.Username, s.endpoint.Password)
	if err := c.Auth(auth); err != nil {
		return errors.Wrap(err, "smtp auth")
	}

	if err := c.Mail(s.fromAddr, nil); err != nil {
		return errors.Wrap(err, "smtp mail")
	}
	for _, r := range recipients {
		if err := c.Rcpt(r, nil); err != nil {
			return errors.Wrapf(err, "smtp rcpt %s", r)
		}
	}

	w, err := c.Data()
	if err != nil {
		return errors.Wrap(err, "smtp data")
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return errors.Wrap(err, "smtp write")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "smtp finish")
	}

	return c.Quit()
}
