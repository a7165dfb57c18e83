package imap

import (
	"context"
	"math"
	"strconv"
	"time"
)

// Report is the result of one health probe. It is always fully populated;
// an unhealthy probe carries its cause in Error instead of raising.
type Report struct {
	Healthy        bool       `json:"healthy"`
	Timestamp      time.Time  `json:"timestamp"`
	Host           string     `json:"host"`
	Port           int        `json:"port"`
	ResponseTimeMS float64    `json:"response_time_ms"`
	LastActivity   *time.Time `json:"last_activity"`
	Error          string     `json:"error,omitempty"`
}

// HealthChecker probes an endpoint through its session Manager, so the
// probe exercises the same session, classification, and recovery path real
// operations use.
type HealthChecker struct {
	manager *Manager
	probe   Operation
	timeout time.Duration
}

// DefaultHealthTimeout bounds a single probe end to end, retries included.
const DefaultHealthTimeout = 10 * time.Second

// NewHealthChecker returns a checker probing via NOOP.
func NewHealthChecker(m *Manager) *HealthChecker {
	return &HealthChecker{
		manager: m,
		probe: func(ctx context.Context, d *Dialer) error {
			return d.Noop(ctx)
		},
		timeout: DefaultHealthTimeout,
	}
}

// Check probes the endpoint and reports the outcome. Check never returns
// an error: any failure, including a closed manager, is reported in the
// Error field with Healthy false.
func (h *HealthChecker) Check(ctx context.Context) Report {
	host, port := h.manager.Endpoint()
	report := probeReport(ctx, h.manager, host, port, h.probe, h.timeout)

	if last := h.manager.LastActivity(); !last.IsZero() {
		utc := last.UTC()
		report.LastActivity = &utc
	}
	return report
}

// CheckEndpoint probes an endpoint through any Executor with a NOOP,
// bounded by DefaultHealthTimeout. Like HealthChecker.Check it never
// returns an error; there is no last-activity to report for executors
// without a persistent session.
func CheckEndpoint(ctx context.Context, exec Executor, host string, port int) Report {
	probe := func(ctx context.Context, d *Dialer) error {
		return d.Noop(ctx)
	}
	return probeReport(ctx, exec, host, port, probe, DefaultHealthTimeout)
}

// probeReport runs probe through exec with a bounded timeout and assembles
// the Report, converting any failure into structured data.
func probeReport(ctx context.Context, exec Executor, host string, port int, probe Operation, timeout time.Duration) Report {
	start := time.Now()
	report := Report{
		Timestamp: start.UTC(),
		Host:      host,
		Port:      port,
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := exec.Execute(ctx, "health_check", probe)

	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	report.ResponseTimeMS = math.Round(elapsed*100) / 100

	if err != nil {
		report.Error = err.Error()
	} else {
		report.Healthy = true
	}
	metricHealthChecks.WithLabelValues(strconv.FormatBool(report.Healthy)).Inc()

	return report
}
