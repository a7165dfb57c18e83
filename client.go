package imap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Client provides the mailbox-level operations applications actually want,
// each one running through an Executor so resilience policy stays a
// configuration choice rather than call-site code.
type Client struct {
	exec Executor
}

// NewClient wraps an Executor (a resilient Manager or a Direct executor).
func NewClient(exec Executor) *Client {
	return &Client{exec: exec}
}

// Executor exposes the underlying executor, e.g. to build a HealthChecker
// from a manager-backed client.
func (c *Client) Executor() Executor { return c.exec }

// Close releases the underlying executor.
func (c *Client) Close(ctx context.Context) error {
	return c.exec.Close(ctx)
}

// MetadataQuery selects a page of message metadata from one mailbox.
type MetadataQuery struct {
	Mailbox  string
	Page     int // 1-based; 0 means first page
	PageSize int // 0 means DefaultPageSize
	// Ascending orders by UID ascending (oldest first). Default is newest
	// first.
	Ascending bool
	Criteria  SearchCriteria
}

// DefaultPageSize is used when a MetadataQuery leaves PageSize zero.
const DefaultPageSize = 10

// MetadataPage is one page of message metadata plus paging info.
type MetadataPage struct {
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Total    int      `json:"total"`
	Messages []*Email `json:"messages"`
}

// AttachmentInfo describes an attachment written to disk.
type AttachmentInfo struct {
	UID       int    `json:"uid"`
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	Size      int    `json:"size"`
	SavedPath string `json:"saved_path"`
}

// Mailboxes lists the available mailboxes.
func (c *Client) Mailboxes(ctx context.Context) (mailboxes []string, err error) {
	err = c.exec.Execute(ctx, "list_mailboxes", func(ctx context.Context, d *Dialer) error {
		mailboxes, err = d.ListMailboxes(ctx)
		return err
	})
	return mailboxes, err
}

// Stats returns message counts and max UIDs for every mailbox.
func (c *Client) Stats(ctx context.Context) (stats []MailboxStats, err error) {
	err = c.exec.Execute(ctx, "mailbox_stats", func(ctx context.Context, d *Dialer) error {
		stats, err = d.MailboxStats(ctx)
		return err
	})
	return stats, err
}

// MessageCount counts messages in a mailbox matching the criteria.
func (c *Client) MessageCount(ctx context.Context, mailbox string, criteria SearchCriteria) (count int, err error) {
	err = c.exec.Execute(ctx, "message_count", func(ctx context.Context, d *Dialer) error {
		if err := d.ExamineMailbox(ctx, mailbox); err != nil {
			return err
		}
		uids, err := d.Search(ctx, criteria)
		if err != nil {
			return err
		}
		count = len(uids)
		return nil
	})
	return count, err
}

// pageSlice orders UIDs and cuts the requested page. Pages past the end
// come back empty.
func pageSlice(uids []int, page, pageSize int, ascending bool) []int {
	sorted := make([]int, len(uids))
	copy(sorted, uids)
	sort.Ints(sorted)
	if !ascending {
		for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
			sorted[i], sorted[j] = sorted[j], sorted[i]
		}
	}

	start := (page - 1) * pageSize
	if start >= len(sorted) {
		return nil
	}
	end := start + pageSize
	if end > len(sorted) {
		end = len(sorted)
	}
	return sorted[start:end]
}

// Metadata returns one page of message metadata (headers only, no bodies).
func (c *Client) Metadata(ctx context.Context, q MetadataQuery) (*MetadataPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}

	var page *MetadataPage
	err := c.exec.Execute(ctx, "fetch_metadata", func(ctx context.Context, d *Dialer) error {
		if err := d.ExamineMailbox(ctx, q.Mailbox); err != nil {
			return err
		}
		uids, err := d.Search(ctx, q.Criteria)
		if err != nil {
			return err
		}

		page = &MetadataPage{
			Page:     q.Page,
			PageSize: q.PageSize,
			Total:    len(uids),
			Messages: []*Email{},
		}

		pageUIDs := pageSlice(uids, q.Page, q.PageSize, q.Ascending)
		if len(pageUIDs) == 0 {
			return nil
		}

		emails, err := d.FetchHeaders(ctx, pageUIDs...)
		if err != nil {
			return err
		}
		for _, uid := range pageUIDs {
			if e, ok := emails[uid]; ok {
				page.Messages = append(page.Messages, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Message fetches one complete message by UID.
func (c *Client) Message(ctx context.Context, mailbox string, uid int) (*Email, error) {
	var email *Email
	err := c.exec.Execute(ctx, "fetch_content", func(ctx context.Context, d *Dialer) error {
		if err := d.ExamineMailbox(ctx, mailbox); err != nil {
			return err
		}
		emails, err := d.FetchMessages(ctx, uid)
		if err != nil {
			return err
		}
		e, ok := emails[uid]
		if !ok {
			return fmt.Errorf("message %d not found in %s", uid, mailbox)
		}
		email = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return email, nil
}

// Messages fetches complete messages for the given UIDs. UIDs that no
// longer exist are reported in failed rather than erroring the batch.
func (c *Client) Messages(ctx context.Context, mailbox string, uids []int) (messages []*Email, failed []int, err error) {
	err = c.exec.Execute(ctx, "fetch_content", func(ctx context.Context, d *Dialer) error {
		messages, failed = nil, nil
		if err := d.ExamineMailbox(ctx, mailbox); err != nil {
			return err
		}
		emails, err := d.FetchMessages(ctx, uids...)
		if err != nil {
			return err
		}
		for _, uid := range uids {
			if e, ok := emails[uid]; ok {
				messages = append(messages, e)
			} else {
				failed = append(failed, uid)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return messages, failed, nil
}

// DownloadAttachment saves the named attachment of a message to savePath,
// creating parent directories as needed.
func (c *Client) DownloadAttachment(ctx context.Context, mailbox string, uid int, name, savePath string) (*AttachmentInfo, error) {
	var info *AttachmentInfo
	err := c.exec.Execute(ctx, "download_attachment", func(ctx context.Context, d *Dialer) error {
		if err := d.ExamineMailbox(ctx, mailbox); err != nil {
			return err
		}
		emails, err := d.FetchMessages(ctx, uid)
		if err != nil {
			return err
		}
		e, ok := emails[uid]
		if !ok {
			return fmt.Errorf("message %d not found in %s", uid, mailbox)
		}

		for _, a := range e.Attachments {
			if a.Name != name {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(savePath), 0o755); err != nil {
				return fmt.Errorf("create attachment dir: %w", err)
			}
			if err := os.WriteFile(savePath, a.Content, 0o644); err != nil {
				return fmt.Errorf("write attachment: %w", err)
			}
			info = &AttachmentInfo{
				UID:       uid,
				Name:      a.Name,
				MimeType:  a.MimeType,
				Size:      len(a.Content),
				SavedPath: savePath,
			}
			return nil
		}
		return fmt.Errorf("attachment %q not found on message %d", name, uid)
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Delete flags the given UIDs deleted and expunges. Per-UID failures are
// collected instead of aborting the batch.
func (c *Client) Delete(ctx context.Context, mailbox string, uids []int) (deleted, failed []int, err error) {
	err = c.exec.Execute(ctx, "delete_messages", func(ctx context.Context, d *Dialer) error {
		deleted, failed = nil, nil
		if err := d.SelectMailbox(ctx, mailbox); err != nil {
			return err
		}
		for _, uid := range uids {
			if err := d.DeleteMessage(ctx, uid); err != nil {
				warnLog(d.id, d.Mailbox, "failed to flag message deleted", "uid", uid, "error", err)
				failed = append(failed, uid)
				continue
			}
			deleted = append(deleted, uid)
		}
		if len(deleted) > 0 {
			if err := d.Expunge(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return deleted, failed, nil
}

// Append uploads a raw message to a mailbox, e.g. a copy of sent mail.
func (c *Client) Append(ctx context.Context, mailbox string, msg []byte, flags ...string) error {
	return c.exec.Execute(ctx, "append", func(ctx context.Context, d *Dialer) error {
		return d.Append(ctx, mailbox, msg, flags...)
	})
}
