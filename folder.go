package imap

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
)

var existsRE = regexp.MustCompile(`\* (\d+) EXISTS`)

// MailboxStats represents per-mailbox statistics.
type MailboxStats struct {
	Name   string
	Count  int
	MaxUID int
	Error  error
}

// parseListLine extracts the mailbox name from one LIST response line. The
// name is the last field; it may be quoted (with escaped quotes) or sent as
// a literal on a continuation line.
func parseListLine(line []byte) (string, bool) {
	line = dropNl(line)
	if b := bytes.IndexByte(line, '\n'); b != -1 {
		return string(line[b+1:]), true
	}
	if len(line) == 0 {
		return "", false
	}
	i := len(line) - 1
	quoted := line[i] == '"'
	delim := byte(' ')
	if quoted {
		delim = '"'
		i--
	}
	end := i
	for i > 0 {
		if line[i] == delim {
			if !quoted || line[i-1] != '\\' {
				break
			}
		}
		i--
	}
	return RemoveSlashes.Replace(string(line[i+1 : end+1])), true
}

// ListMailboxes retrieves the available mailboxes.
func (d *Dialer) ListMailboxes(ctx context.Context) (mailboxes []string, err error) {
	mailboxes = make([]string, 0)
	_, err = d.Exec(ctx, `LIST "" "*"`, false, func(line []byte) error {
		if name, ok := parseListLine(line); ok {
			mailboxes = append(mailboxes, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mailboxes, nil
}

// ExamineMailbox selects a mailbox in read-only mode.
func (d *Dialer) ExamineMailbox(ctx context.Context, mailbox string) (err error) {
	_, err = d.Exec(ctx, "EXAMINE "+QuoteMailbox(mailbox), true, nil)
	if err != nil {
		return err
	}
	d.Mailbox = mailbox
	d.ReadOnly = true
	d.setState(StateSelected)
	return nil
}

// SelectMailbox selects a mailbox in read-write mode.
func (d *Dialer) SelectMailbox(ctx context.Context, mailbox string) (err error) {
	_, err = d.Exec(ctx, "SELECT "+QuoteMailbox(mailbox), true, nil)
	if err != nil {
		return err
	}
	d.Mailbox = mailbox
	d.ReadOnly = false
	d.setState(StateSelected)
	return nil
}

// MailboxCount selects a mailbox read-only and returns its message count
// from the EXISTS response.
func (d *Dialer) MailboxCount(ctx context.Context, mailbox string) (int, error) {
	r, err := d.Exec(ctx, "EXAMINE "+QuoteMailbox(mailbox), true, nil)
	if err != nil {
		return 0, err
	}
	d.Mailbox = mailbox
	d.ReadOnly = true
	d.setState(StateSelected)

	matches := existsRE.FindStringSubmatch(r)
	if len(matches) < 2 {
		return 0, fmt.Errorf("imap examine %s: no EXISTS in response", mailbox)
	}
	return strconv.Atoi(matches[1])
}

// MailboxStats returns count and highest UID for every mailbox. Failures
// are recorded per mailbox so one broken mailbox does not hide the rest.
func (d *Dialer) MailboxStats(ctx context.Context) ([]MailboxStats, error) {
	mailboxes, err := d.ListMailboxes(ctx)
	if err != nil {
		return nil, err
	}

	currentMailbox := d.Mailbox
	currentReadOnly := d.ReadOnly

	stats := make([]MailboxStats, 0, len(mailboxes))
	for _, mailbox := range mailboxes {
		stat := MailboxStats{Name: mailbox}

		count, err := d.MailboxCount(ctx, mailbox)
		if err != nil {
			stat.Error = err
			stats = append(stats, stat)
			continue
		}
		stat.Count = count

		if stat.Count > 0 {
			uids, err := d.GetUIDs(ctx, "ALL")
			if err == nil && len(uids) > 0 {
				stat.MaxUID = uids[len(uids)-1]
			}
		}

		stats = append(stats, stat)
	}

	// Restore the originally selected mailbox.
	if currentMailbox != "" {
		if currentReadOnly {
			_ = d.ExamineMailbox(ctx, currentMailbox)
		} else {
			_ = d.SelectMailbox(ctx, currentMailbox)
		}
	}

	return stats, nil
}
