package imap

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestPageSlice(t *testing.T) {
	uids := []int{5, 1, 9, 3, 7}

	tests := []struct {
		name      string
		page      int
		pageSize  int
		ascending bool
		want      []int
	}{
		{"first page descending", 1, 2, false, []int{9, 7}},
		{"second page descending", 2, 2, false, []int{5, 3}},
		{"last partial page", 3, 2, false, []int{1}},
		{"past the end", 4, 2, false, nil},
		{"ascending", 1, 3, true, []int{1, 3, 5}},
		{"whole set", 1, 10, true, []int{1, 3, 5, 7, 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pageSlice(uids, tt.page, tt.pageSize, tt.ascending)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("pageSlice() = %v, want %v", got, tt.want)
			}
		})
	}

	// Input order must not be disturbed.
	if !reflect.DeepEqual(uids, []int{5, 1, 9, 3, 7}) {
		t.Errorf("pageSlice mutated its input: %v", uids)
	}
}

// recordingExecutor captures operation names and fails every call with a
// fixed error, so Client error propagation can be checked without a
// server.
type recordingExecutor struct {
	names []string
	err   error
}

func (r *recordingExecutor) Execute(ctx context.Context, name string, op Operation) error {
	r.names = append(r.names, name)
	return r.err
}

func (r *recordingExecutor) Close(ctx context.Context) error { return nil }

func TestClientPropagatesExecutorErrors(t *testing.T) {
	execErr := errors.New("imap: list_mailboxes failed after 4 attempts: connection lost")
	rec := &recordingExecutor{err: execErr}
	c := NewClient(rec)
	ctx := context.Background()

	if _, err := c.Mailboxes(ctx); !errors.Is(err, execErr) {
		t.Errorf("Mailboxes returned %v", err)
	}
	if _, err := c.Metadata(ctx, MetadataQuery{Mailbox: "INBOX"}); !errors.Is(err, execErr) {
		t.Errorf("Metadata returned %v", err)
	}
	if _, err := c.Message(ctx, "INBOX", 1); !errors.Is(err, execErr) {
		t.Errorf("Message returned %v", err)
	}
	if _, _, err := c.Delete(ctx, "INBOX", []int{1}); !errors.Is(err, execErr) {
		t.Errorf("Delete returned %v", err)
	}

	want := []string{"list_mailboxes", "fetch_metadata", "fetch_content", "delete_messages"}
	if !reflect.DeepEqual(rec.names, want) {
		t.Errorf("operation names = %v, want %v", rec.names, want)
	}
}

func TestMetadataQueryDefaults(t *testing.T) {
	rec := &recordingExecutor{}
	c := NewClient(rec)

	page, err := c.Metadata(context.Background(), MetadataQuery{Mailbox: "INBOX"})
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	// The executor stub never runs the operation, so the page comes back
	// nil-initialized; defaults are still applied to the query first.
	_ = page

	if len(rec.names) != 1 || rec.names[0] != "fetch_metadata" {
		t.Errorf("operation names = %v", rec.names)
	}
}
