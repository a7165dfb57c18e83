package imap

import (
	"context"
	"sync"
	"time"
)

// Operation is one unit of IMAP work executed against a live session.
// Operations must be safe to re-run: a retryable failure replaces the
// session and runs the operation again from the top.
type Operation func(ctx context.Context, d *Dialer) error

// Executor runs named operations against an IMAP endpoint. Manager is the
// resilient implementation; Direct dials per call and never retries.
type Executor interface {
	Execute(ctx context.Context, name string, op Operation) error
	Close(ctx context.Context) error
}

// Manager owns at most one live session to an IMAP endpoint and runs
// operations against it with automatic recovery. A failed operation is
// classified: fatal errors propagate immediately, retryable ones
// invalidate the session and retry on a fresh one after a capped
// exponential backoff, up to MaxRetries extra attempts. Sessions older
// than SessionTimeout are replaced before the next operation rather than
// being allowed to fail mid-use.
//
// Operations are serialized; Execute blocks while another operation (or
// its backoff wait) is in flight. A Manager is safe for concurrent use.
type Manager struct {
	cfg     Config
	backoff Backoff

	// opener is swapped in tests to run against fake transports.
	opener func(ctx context.Context) (*Dialer, error)

	closeOnce sync.Once
	done      chan struct{}

	mu           sync.Mutex
	sess         *Dialer
	lastActivity time.Time
}

// NewManager returns a Manager for the endpoint described by cfg. No
// connection is made until the first Execute.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:     cfg,
		backoff: Backoff{Initial: cfg.InitialBackoff, Max: cfg.MaxBackoff},
		done:    make(chan struct{}),
	}
	m.opener = func(ctx context.Context) (*Dialer, error) {
		return Open(ctx, m.cfg)
	}
	return m
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Execute runs op with automatic session recovery and retry. The name is
// used in logs, metrics, and the ExhaustedError.
//
// An operation runs at most MaxRetries+1 times. Fatal errors and context
// cancellation propagate unchanged; exhausted retries return an
// *ExhaustedError wrapping the last cause; ErrClosed is returned once the
// manager is closed.
func (m *Manager) Execute(ctx context.Context, name string, op Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isClosed() {
		return ErrClosed
	}

	logger := getLogger().WithAttrs("op", name)

	attempts := m.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if m.isClosed() {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		d, err := m.sessionLocked(ctx)
		if err == nil {
			err = op(ctx, d)
			if err == nil {
				m.lastActivity = time.Now()
				metricAttempts.WithLabelValues(name, "success").Inc()
				logger.Debug("operation succeeded", "attempt", attempt, "session", d.id)
				return nil
			}
		}

		if Classify(err) == OutcomeFatal {
			metricAttempts.WithLabelValues(name, "fatal").Inc()
			logger.Warn("operation failed fatally", "attempt", attempt, "error", err)
			return err
		}

		metricAttempts.WithLabelValues(name, "retryable").Inc()
		lastErr = err
		m.invalidateLocked()

		if attempt == attempts {
			break
		}

		delay := m.backoff.Delay(attempt)
		logger.Warn("operation failed, retrying",
			"attempt", attempt, "max_attempts", attempts, "delay", delay, "error", err)
		metricBackoff.Observe(delay.Seconds())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-m.done:
			timer.Stop()
			return ErrClosed
		case <-timer.C:
		}
	}

	err := &ExhaustedError{Op: name, Attempts: attempts, Err: lastErr}
	logger.Error("operation retries exhausted", "attempts", attempts, "error", lastErr)
	return err
}

// sessionLocked returns the live session, replacing it first when stale or
// disconnected. Caller holds m.mu.
func (m *Manager) sessionLocked(ctx context.Context) (*Dialer, error) {
	if m.sess != nil {
		if m.sess.Connected && time.Since(m.sess.createdAt) < m.cfg.SessionTimeout {
			return m.sess, nil
		}
		getLogger().Debug("session stale, replacing",
			"session", m.sess.id, "age", time.Since(m.sess.createdAt))
		m.invalidateLocked()
	}

	d, err := m.opener(ctx)
	if err != nil {
		return nil, err
	}
	m.sess = d
	metricSessions.Inc()
	getLogger().Info("session established",
		"session", d.id, "host", m.cfg.Host, "port", m.cfg.Port)
	return d, nil
}

// Invalidate discards the current session, if any. The next operation will
// establish a fresh one.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidateLocked()
}

func (m *Manager) invalidateLocked() {
	if m.sess == nil {
		return
	}
	getLogger().Debug("session invalidated", "session", m.sess.id)
	_ = m.sess.Close()
	m.sess = nil
	metricInvalidations.Inc()
}

// Close shuts the manager down: the live session is closed, an in-flight
// backoff wait aborts promptly, and every subsequent Execute fails fast
// with ErrClosed. Close is idempotent.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		_ = m.sess.Close()
		m.sess = nil
	}
	return nil
}

// LastActivity returns when an operation last completed successfully. Zero
// if nothing has run yet.
func (m *Manager) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// Endpoint returns the configured host and port.
func (m *Manager) Endpoint() (host string, port int) {
	return m.cfg.Host, m.cfg.Port
}
