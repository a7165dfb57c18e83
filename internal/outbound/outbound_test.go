package outbound

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jhillyerd/enmime/v2"

	"github.com/zerolib/go-imap-session/internal/config"
)

func testAccount() config.Account {
	return config.Account{
		Name:         "work",
		FullName:     "Alice Example",
		EmailAddress: "alice@example.com",
		Outgoing: config.Endpoint{
			Host:     "smtp.example.com",
			Port:     465,
			Username: "alice@example.com",
			Password: "hunter2",
		},
	}
}

func TestComposeText(t *testing.T) {
	s := NewSender(testAccount())

	raw, err := s.Compose(Message{
		To:        []string{"Bob <bob@example.com>"},
		CC:        []string{"carol@example.com"},
		Subject:   "status update",
		Body:      "All systems nominal.",
		InReplyTo: "<prev@example.com>",
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if got := env.GetHeader("Subject"); got != "status update" {
		t.Errorf("Subject = %q", got)
	}
	if got := env.GetHeader("From"); !strings.Contains(got, "alice@example.com") {
		t.Errorf("From = %q", got)
	}
	if got := env.GetHeader("To"); !strings.Contains(got, "bob@example.com") {
		t.Errorf("To = %q", got)
	}
	if got := env.GetHeader("In-Reply-To"); got != "<prev@example.com>" {
		t.Errorf("In-Reply-To = %q", got)
	}
	if !strings.Contains(env.Text, "All systems nominal.") {
		t.Errorf("Text = %q", env.Text)
	}
}

func TestComposeHTML(t *testing.T) {
	s := NewSender(testAccount())

	raw, err := s.Compose(Message{
		To:      []string{"bob@example.com"},
		Subject: "rich",
		Body:    "<p>hello</p>",
		HTML:    true,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if !strings.Contains(env.HTML, "<p>hello</p>") {
		t.Errorf("HTML = %q", env.HTML)
	}
}

func TestComposeAttachment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	if err := os.WriteFile(path, []byte("quarterly numbers"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewSender(testAccount())
	raw, err := s.Compose(Message{
		To:          []string{"bob@example.com"},
		Subject:     "report",
		Body:        "see attached",
		Attachments: []string{path},
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if len(env.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(env.Attachments))
	}
	a := env.Attachments[0]
	if a.FileName != "report.txt" {
		t.Errorf("FileName = %q", a.FileName)
	}
	if string(a.Content) != "quarterly numbers" {
		t.Errorf("Content = %q", a.Content)
	}
}

func TestComposeRejectsEmptyRecipients(t *testing.T) {
	s := NewSender(testAccount())
	if _, err := s.Compose(Message{Subject: "nope"}); err == nil {
		t.Error("Compose accepted a message with no recipients")
	}
}

func TestComposeRejectsBadAddress(t *testing.T) {
	s := NewSender(testAccount())
	if _, err := s.Compose(Message{To: []string{"not an address"}}); err == nil {
		t.Error("Compose accepted a malformed address")
	}
}

func TestSenderFromFallsBackToUsername(t *testing.T) {
	a := testAccount()
	a.EmailAddress = ""
	s := NewSender(a)
	if s.From() != "alice@example.com" {
		t.Errorf("From = %q", s.From())
	}
}
