package imap

import (
	"strings"
	"time"
	"unicode"
)

// searchDateFormat is the RFC 3501 date-text form, day without leading
// zero and an abbreviated English month.
const searchDateFormat = "2-Jan-2006"

// SearchCriteria describes a server-side message filter for UID SEARCH.
// The zero value matches every message (the ALL key).
type SearchCriteria struct {
	// Since matches messages with an internal date on or after this day;
	// Before matches strictly earlier days. Both are date-granular.
	Since  time.Time
	Before time.Time

	Subject string
	From    string
	To      string
	Body    string
	Text    string
}

// Build renders the criteria as the argument string for UID SEARCH.
// Non-ASCII terms are sent as IMAP literals since quoted strings only
// permit 7-bit data.
func (c SearchCriteria) Build() string {
	var parts []string

	if !c.Since.IsZero() {
		parts = append(parts, "SINCE", strings.ToUpper(c.Since.Format(searchDateFormat)))
	}
	if !c.Before.IsZero() {
		parts = append(parts, "BEFORE", strings.ToUpper(c.Before.Format(searchDateFormat)))
	}
	for _, term := range []struct {
		key   string
		value string
	}{
		{"SUBJECT", c.Subject},
		{"FROM", c.From},
		{"TO", c.To},
		{"BODY", c.Body},
		{"TEXT", c.Text},
	} {
		if term.value == "" {
			continue
		}
		parts = append(parts, term.key, searchString(term.value))
	}

	if len(parts) == 0 {
		return "ALL"
	}
	return strings.Join(parts, " ")
}

// searchString quotes a search term, falling back to a literal when the
// term contains non-ASCII bytes.
func searchString(s string) string {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return MakeIMAPLiteral(s)
		}
	}
	return `"` + AddSlashes.Replace(s) + `"`
}
