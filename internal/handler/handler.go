// Package handler wires one account's configuration to the IMAP client and
// the outbound sender. Each account gets its own Handler holding either a
// session Manager or a Direct executor, chosen by the session policy.
package handler

import (
	"context"
	"log/slog"

	imap "github.com/zerolib/go-imap-session"
	"github.com/zerolib/go-imap-session/internal/config"
	"github.com/zerolib/go-imap-session/internal/outbound"
)

// Handler serves all mail operations for one account.
type Handler struct {
	account config.Account
	client  *imap.Client
	sender  *outbound.Sender

	// checker is nil when session management is disabled; Health then
	// synthesizes a report from a one-shot probe.
	checker *imap.HealthChecker

	log *slog.Logger
}

// New builds the handler for an account under the given session policy.
// No connection is made until the first operation.
func New(account config.Account, session config.SessionSettings) *Handler {
	cfg := account.IMAPConfig(session)

	h := &Handler{
		account: account,
		sender:  outbound.NewSender(account),
		log: slog.Default().With(
			"component", "handler",
			"account", account.Name,
		),
	}

	if session.Enabled {
		m := imap.NewManager(cfg)
		h.client = imap.NewClient(m)
		h.checker = imap.NewHealthChecker(m)
		h.log.Debug("session management enabled",
			"max_retries", session.MaxRetries,
			"session_timeout", session.SessionTimeout)
	} else {
		h.client = imap.NewClient(imap.NewDirect(cfg))
		h.log.Debug("session management disabled, dialing per operation")
	}
	return h
}

// Account returns the account this handler serves.
func (h *Handler) Account() config.Account { return h.account }

// Close releases the handler's executor.
func (h *Handler) Close(ctx context.Context) error {
	return h.client.Close(ctx)
}

// Mailboxes lists the account's mailboxes.
func (h *Handler) Mailboxes(ctx context.Context) ([]string, error) {
	return h.client.Mailboxes(ctx)
}

// Stats returns per-mailbox message counts.
func (h *Handler) Stats(ctx context.Context) ([]imap.MailboxStats, error) {
	return h.client.Stats(ctx)
}

// Metadata returns one page of message metadata.
func (h *Handler) Metadata(ctx context.Context, q imap.MetadataQuery) (*imap.MetadataPage, error) {
	return h.client.Metadata(ctx, q)
}

// Message fetches one complete message.
func (h *Handler) Message(ctx context.Context, mailbox string, uid int) (*imap.Email, error) {
	return h.client.Message(ctx, mailbox, uid)
}

// ContentBatch is the result of fetching several messages at once.
type ContentBatch struct {
	Emails     []*imap.Email `json:"emails"`
	Requested  int           `json:"requested"`
	Retrieved  int           `json:"retrieved"`
	FailedUIDs []int         `json:"failed_uids,omitempty"`
}

// Contents fetches full content for a batch of UIDs. Missing UIDs are
// reported per item rather than failing the batch.
func (h *Handler) Contents(ctx context.Context, mailbox string, uids []int) (*ContentBatch, error) {
	emails, failed, err := h.client.Messages(ctx, mailbox, uids)
	if err != nil {
		return nil, err
	}
	return &ContentBatch{
		Emails:     emails,
		Requested:  len(uids),
		Retrieved:  len(emails),
		FailedUIDs: failed,
	}, nil
}

// SendResult reports a completed send.
type SendResult struct {
	From        string `json:"from"`
	Recipients  int    `json:"recipients"`
	SavedToSent bool   `json:"saved_to_sent"`
}

// Send delivers a message over SMTP and, when the account asks for it,
// appends a copy to the sent mailbox. A failed append does not fail the
// send; the copy is best effort once delivery succeeded.
func (h *Handler) Send(ctx context.Context, msg outbound.Message) (*SendResult, error) {
	raw, err := h.sender.Send(ctx, msg)
	if err != nil {
		return nil, err
	}

	result := &SendResult{
		From:       h.sender.From(),
		Recipients: len(msg.To) + len(msg.CC) + len(msg.BCC),
	}

	if h.account.SaveSent() {
		mailbox := h.account.SentMailbox()
		if err := h.client.Append(ctx, mailbox, raw, `\Seen`); err != nil {
			h.log.Warn("failed to save sent copy", "mailbox", mailbox, "error", err)
		} else {
			result.SavedToSent = true
		}
	}
	return result, nil
}

// Delete removes the given UIDs and expunges the mailbox.
func (h *Handler) Delete(ctx context.Context, mailbox string, uids []int) (deleted, failed []int, err error) {
	return h.client.Delete(ctx, mailbox, uids)
}

// DownloadAttachment saves one attachment to disk.
func (h *Handler) DownloadAttachment(ctx context.Context, mailbox string, uid int, name, savePath string) (*imap.AttachmentInfo, error) {
	return h.client.DownloadAttachment(ctx, mailbox, uid, name, savePath)
}

// Health probes the account's IMAP endpoint. With session management the
// probe runs through the Manager; without it a one-shot NOOP stands in.
func (h *Handler) Health(ctx context.Context) imap.Report {
	if h.checker != nil {
		return h.checker.Check(ctx)
	}
	return imap.CheckEndpoint(ctx, h.client.Executor(),
		h.account.Incoming.Host, h.account.Incoming.Port)
}
