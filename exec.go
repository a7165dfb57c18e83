package imap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/xid"
)

// Exec executes a single IMAP command and reads the response up to the
// tagged completion line. It does not retry; retrying on a fresh session is
// the Manager's job.
//
// When buildResponse is true, every untagged response line (literals
// included) is accumulated and returned. processLine, when non-nil, is
// called per response line before accumulation.
func (d *Dialer) Exec(ctx context.Context, command string, buildResponse bool, processLine func(line []byte) error) (response string, err error) {
	tag := []byte(strings.ToUpper(xid.New().String()))

	d.setDeadline(ctx)
	defer d.clearDeadline()

	c := fmt.Sprintf("%s %s\r\n", tag, command)

	if Verbose {
		sanitized := strings.ReplaceAll(strings.TrimSpace(c), fmt.Sprintf(`"%s"`, AddSlashes.Replace(d.cfg.Password)), `"****"`)
		debugLog(d.id, d.Mailbox, "sending command", "command", sanitized)
	}

	if _, err = d.conn.Write([]byte(c)); err != nil {
		return "", fmt.Errorf("imap write: %w", err)
	}

	var resp strings.Builder
	r := d.reader

	var line []byte
	for {
		line, err = r.ReadBytes('\n')
		if err != nil {
			return "", fmt.Errorf("imap read: %w", err)
		}
		for {
			if a := atom.Find(dropNl(line)); a != nil {
				var n int
				n, err = strconv.Atoi(string(a[1 : len(a)-1]))
				if err != nil {
					return "", err
				}

				buf := make([]byte, n)
				if _, err = io.ReadFull(r, buf); err != nil {
					return "", fmt.Errorf("imap read literal: %w", err)
				}
				line = append(line, buf...)

				buf, err = r.ReadBytes('\n')
				if err != nil {
					return "", fmt.Errorf("imap read: %w", err)
				}
				line = append(line, buf...)

				continue
			}
			break
		}

		if Verbose && !SkipResponses {
			debugLog(d.id, d.Mailbox, "server response", "response", string(dropNl(line)))
		}

		if bytes.HasPrefix(line, []byte("* BYE")) {
			_ = d.Close()
			return "", fmt.Errorf("imap command bye from server: %s", dropNl(line))
		}

		// XID tags are 20 uppercase base32hex characters (0-9, A-V).
		taglen := len(tag)
		oklen := 3
		if len(line) >= taglen+oklen && bytes.Equal(line[:taglen], tag) {
			if !bytes.Equal(line[taglen+1:taglen+oklen], []byte("OK")) {
				return "", fmt.Errorf("imap command failed: %s", dropNl(line[taglen+oklen+1:]))
			}
			break
		}

		if processLine != nil {
			if err = processLine(line); err != nil {
				return "", err
			}
		}
		if buildResponse {
			resp.Write(line)
		}
	}

	if buildResponse {
		return resp.String(), nil
	}
	return "", nil
}

// Append uploads a raw RFC 5322 message to the given mailbox. APPEND uses a
// synchronizing literal: the client announces the byte count, waits for the
// server's continuation request, then streams the payload.
func (d *Dialer) Append(ctx context.Context, mailbox string, msg []byte, flags ...string) error {
	tag := []byte(strings.ToUpper(xid.New().String()))

	d.setDeadline(ctx)
	defer d.clearDeadline()

	flagList := ""
	if len(flags) != 0 {
		flagList = " (" + strings.Join(flags, " ") + ")"
	}
	c := fmt.Sprintf("%s APPEND %s%s {%d}\r\n", tag, QuoteMailbox(mailbox), flagList, len(msg))

	debugLog(d.id, d.Mailbox, "sending command", "command", strings.TrimSpace(c))

	if _, err := d.conn.Write([]byte(c)); err != nil {
		return fmt.Errorf("imap write: %w", err)
	}

	line, err := d.reader.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("imap read: %w", err)
	}
	if !bytes.HasPrefix(line, []byte("+")) {
		return fmt.Errorf("imap append: expected continuation, got: %s", dropNl(line))
	}

	if _, err := d.conn.Write(append(msg, '\r', '\n')); err != nil {
		return fmt.Errorf("imap write literal: %w", err)
	}

	for {
		line, err = d.reader.ReadBytes('\n')
		if err != nil {
			return fmt.Errorf("imap read: %w", err)
		}
		if Verbose && !SkipResponses {
			debugLog(d.id, d.Mailbox, "server response", "response", string(dropNl(line)))
		}
		if bytes.HasPrefix(line, []byte("* BYE")) {
			_ = d.Close()
			return fmt.Errorf("imap command bye from server: %s", dropNl(line))
		}
		taglen := len(tag)
		if len(line) >= taglen+3 && bytes.Equal(line[:taglen], tag) {
			if !bytes.Equal(line[taglen+1:taglen+3], []byte("OK")) {
				return fmt.Errorf("imap command failed: %s", dropNl(line[taglen+4:]))
			}
			return nil
		}
	}
}
