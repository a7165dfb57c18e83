package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zerolib/go-imap-session/internal/config"
	"github.com/zerolib/go-imap-session/internal/handler"
)

// testServer wires a server over one closed handler, so every IMAP
// operation fails fast without a network.
func testServer(t *testing.T) *Server {
	t.Helper()

	account := config.Account{
		Name: "work",
		Incoming: config.Endpoint{
			Host: "imap.example.com", Port: 993,
			Username: "u", Password: "p",
		},
		Outgoing: config.Endpoint{
			Host: "smtp.example.com", Port: 465,
			Username: "u", Password: "p",
		},
	}
	cfg := &config.Config{
		Server:   config.Server{Addr: ":0", AuthToken: "sekrit"},
		Accounts: []config.Account{account},
	}

	h := handler.New(account, config.SessionSettings{
		Enabled:        true,
		MaxRetries:     0,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		SessionTimeout: time.Minute,
	})
	if err := h.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	return NewServer(cfg, map[string]*handler.Handler{"work": h})
}

func get(t *testing.T, router http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthzReportsUnhealthy(t *testing.T) {
	router := testServer(t).Router()

	w := get(t, router, "/healthz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}

	var body struct {
		Healthy  bool                       `json:"healthy"`
		Accounts map[string]json.RawMessage `json:"accounts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Healthy {
		t.Error("healthy = true for a closed account")
	}
	if _, ok := body.Accounts["work"]; !ok {
		t.Errorf("accounts = %v, missing work", body.Accounts)
	}
}

func TestBearerAuth(t *testing.T) {
	router := testServer(t).Router()

	if w := get(t, router, "/v1/accounts", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}
	if w := get(t, router, "/v1/accounts", "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", w.Code)
	}
	if w := get(t, router, "/v1/accounts", "sekrit"); w.Code != http.StatusOK {
		t.Errorf("good token: status = %d, want 200", w.Code)
	}

	// Health and metrics stay open.
	if w := get(t, router, "/metrics", ""); w.Code != http.StatusOK {
		t.Errorf("/metrics: status = %d, want 200", w.Code)
	}
}

func TestUnknownAccount(t *testing.T) {
	router := testServer(t).Router()
	w := get(t, router, "/v1/accounts/nope/mailboxes", "sekrit")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestMetadataQueryParsing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/v1/accounts/work/messages?mailbox=Archive&page=2&page_size=25&order=asc&since=2024-03-05&subject=report", nil)

	q, err := metadataQuery(req)
	if err != nil {
		t.Fatalf("metadataQuery: %v", err)
	}
	if q.Mailbox != "Archive" {
		t.Errorf("Mailbox = %q", q.Mailbox)
	}
	if q.Page != 2 || q.PageSize != 25 {
		t.Errorf("paging = %d/%d", q.Page, q.PageSize)
	}
	if !q.Ascending {
		t.Error("order=asc not applied")
	}
	if q.Criteria.Since.IsZero() || q.Criteria.Since.Day() != 5 {
		t.Errorf("Since = %v", q.Criteria.Since)
	}
	if q.Criteria.Subject != "report" {
		t.Errorf("Subject = %q", q.Criteria.Subject)
	}
}

func TestMetadataQueryDefaultsToInbox(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/work/messages", nil)
	q, err := metadataQuery(req)
	if err != nil {
		t.Fatalf("metadataQuery: %v", err)
	}
	if q.Mailbox != "INBOX" {
		t.Errorf("Mailbox = %q, want INBOX", q.Mailbox)
	}
	if q.Ascending {
		t.Error("default order should be descending")
	}
}

func TestMetadataQueryRejectsBadDate(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/work/messages?since=notadate", nil)
	if _, err := metadataQuery(req); err == nil {
		t.Error("metadataQuery accepted a malformed date")
	}
}
