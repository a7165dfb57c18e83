package imap

import (
	"strconv"
	"testing"
)

func TestParseListLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   string
		wantOK bool
	}{
		{
			name:   "quoted name",
			line:   "* LIST (\\HasNoChildren) \"/\" \"INBOX\"\r\n",
			want:   "INBOX",
			wantOK: true,
		},
		{
			name:   "quoted name with space",
			line:   "* LIST (\\HasNoChildren) \"/\" \"Sent Items\"\r\n",
			want:   "Sent Items",
			wantOK: true,
		},
		{
			name:   "quoted name with escaped quote",
			line:   "* LIST () \"/\" \"Weird \\\"Quotes\\\"\"\r\n",
			want:   "Weird \"Quotes\"",
			wantOK: true,
		},
		{
			name:   "unquoted name",
			line:   "* LIST (\\HasNoChildren) \"/\" Archive\r\n",
			want:   "Archive",
			wantOK: true,
		},
		{
			name:   "literal continuation",
			line:   "* LIST () \"/\" {7}\nPapiers\r\n",
			want:   "Papiers",
			wantOK: true,
		},
		{
			name:   "empty line",
			line:   "\r\n",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseListLine([]byte(tt.line))
			if ok != tt.wantOK {
				t.Fatalf("parseListLine() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("parseListLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExistsResponseParsing(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     int
		wantMiss bool
	}{
		{
			name: "typical select",
			response: "* FLAGS (\\Answered \\Flagged \\Deleted \\Seen \\Draft)\r\n" +
				"* OK [PERMANENTFLAGS (\\Answered \\Flagged \\Deleted \\Seen \\Draft \\*)] Flags permitted.\r\n" +
				"* 23 EXISTS\r\n" +
				"* 0 RECENT\r\n" +
				"* OK [UIDVALIDITY 1] UIDs valid\r\n",
			want: 23,
		},
		{
			name:     "empty mailbox",
			response: "* 0 EXISTS\r\n* 0 RECENT\r\n",
			want:     0,
		},
		{
			name:     "large count",
			response: "* 1500 EXISTS\r\n",
			want:     1500,
		},
		{
			name:     "no exists line",
			response: "* FLAGS ()\r\n",
			wantMiss: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := existsRE.FindStringSubmatch(tt.response)
			if tt.wantMiss {
				if matches != nil {
					t.Fatalf("expected no EXISTS match, got %v", matches)
				}
				return
			}
			if len(matches) < 2 {
				t.Fatalf("no EXISTS match in %q", tt.response)
			}
			got, err := strconv.Atoi(matches[1])
			if err != nil {
				t.Fatalf("Atoi(%q): %v", matches[1], err)
			}
			if got != tt.want {
				t.Errorf("EXISTS = %d, want %d", got, tt.want)
			}
		})
	}
}
