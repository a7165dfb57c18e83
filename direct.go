package imap

import (
	"context"
	"sync"
)

// Direct is the non-resilient Executor: every operation dials, logs in,
// runs, and disconnects. No session reuse, no classification, no retry;
// errors propagate exactly as they occurred. It exists for deployments
// that explicitly opt out of session management.
type Direct struct {
	cfg Config

	// opener is swapped in tests to run against fake transports.
	opener func(ctx context.Context) (*Dialer, error)

	closeOnce sync.Once
	done      chan struct{}
}

// NewDirect returns a Direct executor for the endpoint described by cfg.
func NewDirect(cfg Config) *Direct {
	cfg = cfg.withDefaults()
	c := &Direct{
		cfg:  cfg,
		done: make(chan struct{}),
	}
	c.opener = func(ctx context.Context) (*Dialer, error) {
		return Open(ctx, c.cfg)
	}
	return c
}

// Execute runs op on a connection opened just for this call.
func (c *Direct) Execute(ctx context.Context, name string, op Operation) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	d, err := c.opener(ctx)
	if err != nil {
		metricAttempts.WithLabelValues(name, "fatal").Inc()
		return err
	}
	defer func() { _ = d.Close() }()

	if err := op(ctx, d); err != nil {
		metricAttempts.WithLabelValues(name, Classify(err).String()).Inc()
		return err
	}
	metricAttempts.WithLabelValues(name, "success").Inc()
	return nil
}

// Close marks the executor closed; subsequent calls fail with ErrClosed.
// There is no persistent connection to tear down.
func (c *Direct) Close(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
