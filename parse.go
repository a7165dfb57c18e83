package imap

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	nl = "\r\n"
	// TimeFormat is the INTERNALDATE layout, day padded with a space.
	TimeFormat = "_2-Jan-2006 15:04:05 -0700"
)

var (
	atom             = regexp.MustCompile(`{\d+}$`)
	fetchLineStartRE = regexp.MustCompile(`(?m)^\* \d+ FETCH`)
)

// Token is one parsed element of a FETCH response: an atom, number,
// quoted string, literal, NIL, or a parenthesized container of tokens.
type Token struct {
	Type   TType
	Str    string
	Num    int
	Tokens []*Token
}

// TType tags a Token.
type TType uint8

const (
	TUnset TType = iota
	TAtom
	TNumber
	TLiteral
	TQuoted
	TNil
	TContainer
)

type tokenContainer *[]*Token

// calculateTokenEnd bounds a literal's end index. A declared size larger
// than the remaining data takes what is available; a non-empty literal
// declared at or past the end of the data is malformed.
func calculateTokenEnd(tokenStart, sizeVal, bufferLen int) (int, error) {
	switch {
	case tokenStart >= bufferLen:
		if sizeVal == 0 {
			return tokenStart - 1, nil
		}
		return 0, fmt.Errorf("imap parse fetch: literal of %d bytes declared at end of data", sizeVal)
	case tokenStart+sizeVal > bufferLen:
		return bufferLen - 1, nil
	default:
		return tokenStart + sizeVal - 1, nil
	}
}

// parseFetchTokens tokenizes the parenthesized content of one FETCH
// record. Literals are consumed by their declared byte count, so token
// data may freely contain quotes, parens, and newlines.
func parseFetchTokens(r string) ([]*Token, error) {
	tokens := make([]*Token, 0)

	currentToken := TUnset
	tokenStart := 0
	tokenEnd := 0
	depth := 0
	container := make([]tokenContainer, 4)
	container[0] = &tokens

	pushToken := func() *Token {
		var t *Token
		switch currentToken {
		case TQuoted:
			t = &Token{
				Type: currentToken,
				Str:  RemoveSlashes.Replace(string(r[tokenStart : tokenEnd+1])),
			}
		case TLiteral:
			s := string(r[tokenStart : tokenEnd+1])
			num, err := strconv.Atoi(s)
			if err == nil {
				t = &Token{
					Type: TNumber,
					Num:  num,
				}
			} else {
				if s == "NIL" {
					t = &Token{
						Type: TNil,
					}
				} else {
					t = &Token{
						Type: TLiteral,
						Str:  s,
					}
				}
			}
		case TAtom:
			t = &Token{
				Type: currentToken,
				Str:  string(r[tokenStart : tokenEnd+1]),
			}
		case TContainer:
			t = &Token{
				Type:   currentToken,
				Tokens: make([]*Token, 0, 1),
			}
		}

		if t != nil {
			*container[depth] = append(*container[depth], t)
		}
		currentToken = TUnset

		return t
	}

	l := len(r)
	i := 0
	for i < l {
		b := r[i]

		switch currentToken {
		case TQuoted:
			switch b {
			case '"':
				tokenEnd = i - 1
				pushToken()
				goto Cont
			case '\\':
				i++
				goto Cont
			}
		case TLiteral:
			switch {
			case IsLiteral(rune(b)):
			default:
				tokenEnd = i - 1
				pushToken()
			}
		case TAtom:
			switch {
			case unicode.IsDigit(rune(b)):
			default:
				// b is the closing '}'; r[tokenStart:i] holds the size.
				sizeVal, err := strconv.Atoi(string(r[tokenStart:i]))
				if err != nil {
					return nil, fmt.Errorf("imap parse fetch: bad literal size %q: %w", string(r[tokenStart:i]), err)
				}

				i++
				if i < len(r) && r[i] == '\r' {
					i++
				}
				if i < len(r) && r[i] == '\n' {
					i++
				}

				tokenStart = i
				tokenEnd, err = calculateTokenEnd(tokenStart, sizeVal, len(r))
				if err != nil {
					return nil, err
				}

				i = tokenEnd
				pushToken()
			}
		}

		if currentToken == TUnset {
			switch {
			case b == '"':
				currentToken = TQuoted
				tokenStart = i + 1
			case IsLiteral(rune(b)):
				currentToken = TLiteral
				tokenStart = i
			case b == '{':
				currentToken = TAtom
				tokenStart = i + 1
			case b == '(':
				currentToken = TContainer
				t := pushToken()
				depth++
				if depth >= len(container) {
					newContainer := make([]tokenContainer, depth*2)
					copy(newContainer, container)
					container = newContainer
				}
				container[depth] = &t.Tokens
			case b == ')':
				if depth == 0 {
					return nil, fmt.Errorf("imap parse fetch: unmatched ')' at char %d in %s", i, r)
				}
				pushToken()
				depth--
			}
		}

	Cont:
		if depth < 0 {
			break
		}
		i++
		if i >= l && currentToken != TUnset {
			tokenEnd = l - 1
			pushToken()
		}
	}

	if depth != 0 {
		return nil, fmt.Errorf("imap parse fetch: unclosed '(' (depth %d) in %s", depth, r)
	}

	if len(tokens) == 1 && tokens[0].Type == TContainer {
		tokens = tokens[0].Tokens
	}

	return tokens, nil
}

// parseFetchLine validates one "* <seq> FETCH (...)" line and tokenizes
// its content.
func (d *Dialer) parseFetchLine(line string) ([]*Token, error) {
	if !strings.HasPrefix(line, "* ") {
		return nil, fmt.Errorf("imap %s:%s: malformed FETCH line %#v", d.id, d.Mailbox, line)
	}
	rest := line[2:]
	idx := strings.IndexByte(rest, ' ')
	if idx == -1 {
		return nil, fmt.Errorf("imap %s:%s: malformed FETCH line %#v", d.id, d.Mailbox, line)
	}
	if _, err := strconv.Atoi(rest[:idx]); err != nil {
		return nil, fmt.Errorf("imap %s:%s: bad sequence number in FETCH line %#v: %w", d.id, d.Mailbox, line, err)
	}
	rest = strings.TrimSpace(rest[idx+1:])
	if !strings.HasPrefix(rest, "FETCH ") {
		return nil, fmt.Errorf("imap %s:%s: malformed FETCH line %#v", d.id, d.Mailbox, line)
	}

	tokens, err := parseFetchTokens(rest[len("FETCH "):])
	if err != nil {
		return nil, fmt.Errorf("imap %s:%s: FETCH line %#v: %w", d.id, d.Mailbox, line, err)
	}
	return tokens, nil
}

// ParseFetchResponse splits a raw FETCH response into per-message token
// records. Records are delimited by "* <seq> FETCH" line starts rather
// than newlines, since literals embed newlines in the middle of a record.
func (d *Dialer) ParseFetchResponse(responseBody string) (records [][]*Token, err error) {
	records = make([][]*Token, 0)
	body := strings.TrimSpace(responseBody)
	if body == "" {
		return records, nil
	}

	locs := fetchLineStartRE.FindAllStringIndex(body, -1)
	if locs == nil {
		// Some servers omit the sequence prefix format the regexp expects;
		// a lone untagged line still parses as a single record.
		if strings.HasPrefix(body, "* ") {
			tokens, err := d.parseFetchLine(body)
			if err != nil {
				return nil, err
			}
			return append(records, tokens), nil
		}
		return records, nil
	}

	for i, loc := range locs {
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		line := strings.TrimSpace(body[loc[0]:end])
		if line == "" {
			continue
		}
		tokens, err := d.parseFetchLine(line)
		if err != nil {
			return nil, err
		}
		records = append(records, tokens)
	}
	return records, nil
}

// parseUIDSearchResponse extracts the UID list from an untagged SEARCH
// response.
func parseUIDSearchResponse(r string) ([]int, error) {
	if idx := strings.Index(r, nl); idx != -1 {
		r = r[:idx]
	}
	fields := strings.Fields(r)
	if len(fields) >= 2 && fields[0] == "*" && fields[1] == "SEARCH" {
		uids := make([]int, 0, len(fields)-2)
		for _, f := range fields[2:] {
			u, err := strconv.Atoi(f)
			if err != nil {
				return nil, err
			}
			uids = append(uids, u)
		}
		return uids, nil
	}
	return nil, fmt.Errorf("imap parse search: unexpected response %q", r)
}

// IsLiteral reports whether a rune can appear in a bare (unquoted) token.
func IsLiteral(b rune) bool {
	switch {
	case unicode.IsDigit(b),
		unicode.IsLetter(b),
		b == '\\',
		b == '.',
		b == '[',
		b == ']':
		return true
	}
	return false
}

// GetTokenName returns the name of a token type for error messages.
func GetTokenName(tokenType TType) string {
	switch tokenType {
	case TUnset:
		return "TUnset"
	case TAtom:
		return "TAtom"
	case TNumber:
		return "TNumber"
	case TLiteral:
		return "TLiteral"
	case TQuoted:
		return "TQuoted"
	case TNil:
		return "TNil"
	case TContainer:
		return "TContainer"
	}
	return ""
}

func (t Token) String() string {
	tokenType := GetTokenName(t.Type)
	switch t.Type {
	case TUnset, TNil:
		return tokenType
	case TAtom, TQuoted:
		return fmt.Sprintf("(%s, len %d, chars %d %#v)", tokenType, len(t.Str), len([]rune(t.Str)), t.Str)
	case TNumber:
		return fmt.Sprintf("(%s %d)", tokenType, t.Num)
	case TLiteral:
		return fmt.Sprintf("(%s %s)", tokenType, t.Str)
	case TContainer:
		return fmt.Sprintf("(%s children: %s)", tokenType, t.Tokens)
	}
	return ""
}

// CheckType rejects a token whose type is not in acceptableTypes, naming
// the session, mailbox, and location so malformed server data is
// traceable in logs.
func (d *Dialer) CheckType(token *Token, acceptableTypes []TType, tks []*Token, loc string, v ...interface{}) (err error) {
	ok := false
	for _, a := range acceptableTypes {
		if token.Type == a {
			ok = true
			break
		}
	}
	if !ok {
		types := ""
		for i, a := range acceptableTypes {
			if i != 0 {
				types += "|"
			}
			types += GetTokenName(a)
		}
		err = fmt.Errorf("imap %s:%s: expected %s token %s, got %+v in %v", d.id, d.Mailbox, types, fmt.Sprintf(loc, v...), token, tks)
	}

	return err
}
