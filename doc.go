// Package imap provides a session-resilient IMAP client for Go.
//
// The heart of the package is the session Manager, which owns a single
// authenticated connection and transparently survives server-initiated
// session invalidation, idle timeouts, and transient network failures.
// Callers wrap each protocol operation in Manager.Execute, which classifies
// failures, recreates the session, and retries with capped exponential
// backoff before ever surfacing an error:
//
//   - Classifying errors as retryable or fatal by their message text
//   - Deterministic exponential backoff between attempts
//   - Proactive reconnection once a session exceeds its configured age
//   - A health probe that reports connectivity and latency without raising
//   - Mailbox listing, UID search, metadata pages, full message fetches
//     (MIME parsed with enmime), flag changes, expunge, and APPEND
//   - LOGIN and XOAUTH2 (OAuth 2.0) authentication
//   - IMAP IDLE with callbacks for EXISTS/EXPUNGE/FETCH
//
// Fatal conditions (bad credentials, missing mailboxes, quota errors) are
// never retried; they propagate on first sight. Exhausted retries surface
// as an *ExhaustedError carrying the attempt count and the last cause.
package imap
