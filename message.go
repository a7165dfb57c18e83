package imap

import (
	"context"
	"fmt"
	"io"
	"mime"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/davecgh/go-spew/spew"
	humanize "github.com/dustin/go-humanize"
	"github.com/jhillyerd/enmime/v2"
	"golang.org/x/net/html/charset"
)

// EmailAddresses represents a map of email addresses to display names
type EmailAddresses map[string]string

// Email represents an IMAP email message
type Email struct {
	Flags       []string
	Received    time.Time
	Sent        time.Time
	Size        uint64
	Subject     string
	UID         int
	MessageID   string
	From        EmailAddresses
	To          EmailAddresses
	ReplyTo     EmailAddresses
	CC          EmailAddresses
	BCC         EmailAddresses
	Text        string
	HTML        string
	Attachments []Attachment
}

// Attachment represents an email attachment
type Attachment struct {
	Name     string
	MimeType string
	Content  []byte
}

// maxBodyRunes caps the plain-text body returned for a message; anything
// longer is cut at a rune boundary and marked as truncated.
const maxBodyRunes = 20000

const truncationMarker = "\n[content truncated]"

// headerDecoder decodes RFC 2047 encoded words, including non-UTF-8
// charsets that mime.WordDecoder cannot handle on its own.
var headerDecoder = mime.WordDecoder{
	CharsetReader: func(label string, input io.Reader) (io.Reader, error) {
		label = strings.ReplaceAll(label, "windows-", "cp")
		enc, _ := charset.Lookup(label)
		if enc == nil {
			return input, nil
		}
		return enc.NewDecoder().Reader(input), nil
	},
}

// decodeHeader decodes lingering encoded words in an already parsed header
// value. Some agents double-encode; a decoded header never contains "=?".
func decodeHeader(s string) string {
	if !strings.Contains(s, "=?") {
		return s
	}
	dec, err := headerDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return dec
}

// String returns a formatted string representation of EmailAddresses
func (e EmailAddresses) String() string {
	emails := strings.Builder{}
	i := 0
	for e, n := range e {
		if i != 0 {
			emails.WriteString(", ")
		}
		if len(n) != 0 {
			if strings.ContainsRune(n, ',') {
				emails.WriteString(fmt.Sprintf(`"%s" <%s>`, AddSlashes.Replace(n), e))
			} else {
				emails.WriteString(fmt.Sprintf(`%s <%s>`, n, e))
			}
		} else {
			emails.WriteString(e)
		}
		i++
	}
	return emails.String()
}

// String returns a formatted string representation of an Email
func (e Email) String() string {
	email := strings.Builder{}

	email.WriteString(fmt.Sprintf("Subject: %s\n", e.Subject))

	if len(e.To) != 0 {
		email.WriteString(fmt.Sprintf("To: %s\n", e.To))
	}
	if len(e.From) != 0 {
		email.WriteString(fmt.Sprintf("From: %s\n", e.From))
	}
	if len(e.CC) != 0 {
		email.WriteString(fmt.Sprintf("CC: %s\n", e.CC))
	}
	if len(e.BCC) != 0 {
		email.WriteString(fmt.Sprintf("BCC: %s\n", e.BCC))
	}
	if len(e.ReplyTo) != 0 {
		email.WriteString(fmt.Sprintf("ReplyTo: %s\n", e.ReplyTo))
	}
	if len(e.Text) != 0 {
		if len(e.Text) > 20 {
			email.WriteString(fmt.Sprintf("Text: %s...", e.Text[:20]))
		} else {
			email.WriteString(fmt.Sprintf("Text: %s", e.Text))
		}
		email.WriteString(fmt.Sprintf("(%s)\n", humanize.Bytes(uint64(len(e.Text)))))
	}
	if len(e.HTML) != 0 {
		if len(e.HTML) > 20 {
			email.WriteString(fmt.Sprintf("HTML: %s...", e.HTML[:20]))
		} else {
			email.WriteString(fmt.Sprintf("HTML: %s", e.HTML))
		}
		email.WriteString(fmt.Sprintf(" (%s)\n", humanize.Bytes(uint64(len(e.HTML)))))
	}

	if len(e.Attachments) != 0 {
		email.WriteString(fmt.Sprintf("%d Attachment(s): %s\n", len(e.Attachments), e.Attachments))
	}

	return email.String()
}

// String returns a formatted string representation of an Attachment
func (a Attachment) String() string {
	return fmt.Sprintf("%s (%s %s)", a.Name, a.MimeType, humanize.Bytes(uint64(len(a.Content))))
}

// truncateBody cuts s at a rune boundary once it exceeds maxBodyRunes.
func truncateBody(s string) string {
	runes := []rune(s)
	if len(runes) <= maxBodyRunes {
		return s
	}
	return string(runes[:maxBodyRunes]) + truncationMarker
}

// GetUIDs retrieves message UIDs matching a search criteria.
func (d *Dialer) GetUIDs(ctx context.Context, search string) (uids []int, err error) {
	r, err := d.Exec(ctx, "UID SEARCH "+search, true, nil)
	if err != nil {
		return nil, err
	}
	return parseUIDSearchResponse(r)
}

// Search runs a UID SEARCH for the given criteria.
func (d *Dialer) Search(ctx context.Context, criteria SearchCriteria) ([]int, error) {
	return d.GetUIDs(ctx, criteria.Build())
}

// MoveMessage moves a message to a different mailbox.
func (d *Dialer) MoveMessage(ctx context.Context, uid int, mailbox string) (err error) {
	readOnlyState := d.ReadOnly
	if readOnlyState {
		_ = d.SelectMailbox(ctx, d.Mailbox)
	}
	_, err = d.Exec(ctx, "UID MOVE "+strconv.Itoa(uid)+" "+QuoteMailbox(mailbox), true, nil)
	if readOnlyState {
		_ = d.ExamineMailbox(ctx, d.Mailbox)
	}
	return err
}

// MarkSeen marks a message as seen/read.
func (d *Dialer) MarkSeen(ctx context.Context, uid int) error {
	return d.SetFlags(ctx, uid, Flags{Seen: FlagAdd})
}

// DeleteMessage flags a message for deletion. The message stays until the
// next Expunge.
func (d *Dialer) DeleteMessage(ctx context.Context, uid int) error {
	return d.SetFlags(ctx, uid, Flags{Deleted: FlagAdd})
}

// Expunge permanently removes messages flagged for deletion.
func (d *Dialer) Expunge(ctx context.Context) (err error) {
	readOnlyState := d.ReadOnly
	if readOnlyState {
		if err = d.SelectMailbox(ctx, d.Mailbox); err != nil {
			return err
		}
	}
	_, err = d.Exec(ctx, "EXPUNGE", false, nil)
	if readOnlyState {
		if e := d.ExamineMailbox(ctx, d.Mailbox); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// SetFlags adds and removes message flags with UID STORE.
func (d *Dialer) SetFlags(ctx context.Context, uid int, flags Flags) (err error) {
	addFlags := []string{}
	removeFlags := []string{}

	v := reflect.ValueOf(flags)
	t := reflect.TypeOf(flags)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)

		if field.Type == reflect.TypeOf(FlagUnset) {
			switch FlagSet(value.Int()) {
			case FlagAdd:
				addFlags = append(addFlags, `\`+field.Name)
			case FlagRemove:
				removeFlags = append(removeFlags, `\`+field.Name)
			}
		}
	}

	for keyword, state := range flags.Keywords {
		if state {
			addFlags = append(addFlags, keyword)
		} else {
			removeFlags = append(removeFlags, keyword)
		}
	}

	query := fmt.Sprintf("UID STORE %d", uid)
	if len(addFlags) > 0 {
		query += fmt.Sprintf(` +FLAGS (%s)`, strings.Join(addFlags, " "))
	}
	if len(removeFlags) > 0 {
		query += fmt.Sprintf(` -FLAGS (%s)`, strings.Join(removeFlags, " "))
	}

	// STORE needs a writable selection; flip out of EXAMINE for the call.
	readOnlyState := d.ReadOnly
	if readOnlyState {
		_ = d.SelectMailbox(ctx, d.Mailbox)
	}
	_, err = d.Exec(ctx, query, true, nil)
	if readOnlyState {
		_ = d.ExamineMailbox(ctx, d.Mailbox)
	}

	return err
}

// uidSet renders a UID list as a FETCH set, "1:*" when empty.
func uidSet(uids []int) string {
	if len(uids) == 0 {
		return "1:*"
	}
	set := strings.Builder{}
	i := 0
	for _, u := range uids {
		if u == 0 {
			continue
		}
		if i != 0 {
			set.WriteByte(',')
		}
		set.WriteString(strconv.Itoa(u))
		i++
	}
	return set.String()
}

// FetchHeaders retrieves message metadata: flags, internal date, size, and
// the parsed header block (subject, addresses, sent date, message id).
// Bodies are not downloaded.
func (d *Dialer) FetchHeaders(ctx context.Context, uids ...int) (map[int]*Email, error) {
	r, err := d.Exec(ctx, "UID FETCH "+uidSet(uids)+" (UID FLAGS INTERNALDATE RFC822.SIZE BODY.PEEK[HEADER])", true, nil)
	if err != nil {
		return nil, err
	}

	records, err := d.ParseFetchResponse(r)
	if err != nil {
		return nil, err
	}

	emails := make(map[int]*Email, len(records))
	for _, tks := range records {
		e, err := d.parseFetchRecord(tks)
		if err != nil {
			return nil, err
		}
		if e != nil && e.UID > 0 {
			emails[e.UID] = e
		}
	}
	return emails, nil
}

// FetchMessages retrieves complete messages including MIME-parsed bodies
// and attachments. Plain-text bodies longer than maxBodyRunes are
// truncated.
func (d *Dialer) FetchMessages(ctx context.Context, uids ...int) (map[int]*Email, error) {
	r, err := d.Exec(ctx, "UID FETCH "+uidSet(uids)+" (UID FLAGS INTERNALDATE RFC822.SIZE BODY.PEEK[])", true, nil)
	if err != nil {
		return nil, err
	}

	records, err := d.ParseFetchResponse(r)
	if err != nil {
		return nil, err
	}

	emails := make(map[int]*Email, len(records))
	for _, tks := range records {
		e, err := d.parseFetchRecord(tks)
		if err != nil {
			return nil, err
		}
		if e != nil && e.UID > 0 {
			e.Text = truncateBody(e.Text)
			emails[e.UID] = e
		}
	}
	return emails, nil
}

// parseFetchRecord turns one FETCH record's tokens into an Email. A nil
// Email with nil error means the record was unparsable and skipped.
func (d *Dialer) parseFetchRecord(tks []*Token) (*Email, error) {
	// Some servers wrap the FETCH content with extra parentheses. Flatten
	// single-child containers until we reach fields.
	for len(tks) == 1 && tks[0].Type == TContainer {
		tks = tks[0].Tokens
	}

	e := &Email{}
	skip := 0
	for i, t := range tks {
		if skip > 0 {
			skip--
			continue
		}
		if err := d.CheckType(t, []TType{TLiteral}, tks, "in root"); err != nil {
			return nil, err
		}
		switch t.Str {
		case "UID":
			if err := d.CheckType(tks[i+1], []TType{TNumber}, tks, "after UID"); err != nil {
				return nil, err
			}
			e.UID = tks[i+1].Num
			skip++
		case "FLAGS":
			if err := d.CheckType(tks[i+1], []TType{TContainer}, tks, "after FLAGS"); err != nil {
				return nil, err
			}
			e.Flags = make([]string, len(tks[i+1].Tokens))
			for j, ft := range tks[i+1].Tokens {
				if err := d.CheckType(ft, []TType{TLiteral}, tks, "for FLAGS[%d]", j); err != nil {
					return nil, err
				}
				e.Flags[j] = ft.Str
			}
			skip++
		case "INTERNALDATE":
			if err := d.CheckType(tks[i+1], []TType{TQuoted}, tks, "after INTERNALDATE"); err != nil {
				return nil, err
			}
			received, err := time.Parse(TimeFormat, tks[i+1].Str)
			if err != nil {
				return nil, err
			}
			e.Received = received.UTC()
			skip++
		case "RFC822.SIZE":
			if err := d.CheckType(tks[i+1], []TType{TNumber}, tks, "after RFC822.SIZE"); err != nil {
				return nil, err
			}
			e.Size = uint64(tks[i+1].Num)
			skip++
		case "BODY[HEADER]", "BODY[]":
			if err := d.CheckType(tks[i+1], []TType{TAtom}, tks, "after %s", t.Str); err != nil {
				return nil, err
			}
			if ok := d.parseEnvelope(tks[i+1].Str, e); !ok {
				return nil, nil
			}
			skip++
		}
	}
	return e, nil
}

// parseEnvelope fills e from a raw message (or bare header block). Returns
// false when the MIME structure cannot be parsed at all.
func (d *Dialer) parseEnvelope(msg string, e *Email) bool {
	env, err := enmime.ReadEnvelope(strings.NewReader(msg))
	if err != nil {
		warnLog(d.id, d.Mailbox, "message could not be parsed, skipping", "error", err)
		if Verbose {
			spew.Dump(env)
			spew.Dump(msg)
		}
		return false
	}

	e.Subject = decodeHeader(env.GetHeader("Subject"))
	e.MessageID = strings.Trim(env.GetHeader("Message-Id"), "<>")
	e.Text = env.Text
	e.HTML = env.HTML

	if raw := env.GetHeader("Date"); raw != "" {
		if sent, err := dateparse.ParseAny(raw); err == nil {
			e.Sent = sent.UTC()
		}
	}

	for _, a := range env.Attachments {
		e.Attachments = append(e.Attachments, Attachment{
			Name:     a.FileName,
			MimeType: a.ContentType,
			Content:  a.Content,
		})
	}
	for _, a := range env.Inlines {
		e.Attachments = append(e.Attachments, Attachment{
			Name:     a.FileName,
			MimeType: a.ContentType,
			Content:  a.Content,
		})
	}

	for _, h := range []struct {
		dest   *EmailAddresses
		header string
	}{
		{&e.From, "From"},
		{&e.ReplyTo, "Reply-To"},
		{&e.To, "To"},
		{&e.CC, "cc"},
		{&e.BCC, "bcc"},
	} {
		alist, _ := env.AddressList(h.header)
		(*h.dest) = make(map[string]string, len(alist))
		for _, addr := range alist {
			(*h.dest)[strings.ToLower(addr.Address)] = addr.Name
		}
	}

	return true
}
