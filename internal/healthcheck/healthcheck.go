package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/ocr-gateway/internal/backend"
	"github.com/angeloszaimis/ocr-gateway/internal/metrics"
)

const (
	DefaultInterval       = 30 * time.Second
	DefaultTimeout        = 10 * time.Second
	DefaultConnectTimeout = 5 * time.Second

	maxHealthBody = 1 << 20
)

// Options configures a Monitor. Zero values fall back to the defaults.
type Options struct {
	Interval       time.Duration
	Timeout        time.Duration
	ConnectTimeout time.Duration
	Thresholds     Thresholds
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.Thresholds.Failure <= 0 {
		o.Thresholds.Failure = DefaultFailureThreshold
	}
	if o.Thresholds.Success <= 0 {
		o.Thresholds.Success = DefaultSuccessThreshold
	}
	return o
}

// healthReport is the body of a backend's health endpoint.
type healthReport struct {
	Status       string `json:"status"`
	ModelLoaded  bool   `json:"model_loaded"`
	GPUAvailable bool   `json:"gpu_available"`
	Backend      string `json:"backend"`
}

// Monitor polls backends and writes the results into a Table.
type Monitor struct {
	registry   *backend.Registry
	table      *Table
	client     *http.Client
	interval   time.Duration
	thresholds Thresholds
	logger     *slog.Logger
	collector  *metrics.Collector
	now        func() time.Time
}

// NewMonitor creates a monitor for every backend in registry. The table must
// hold a record for each of them; collector may be nil.
func NewMonitor(
	logger *slog.Logger,
	registry *backend.Registry,
	table *Table,
	opts Options,
	collector *metrics.Collector,
) *Monitor {
	opts = opts.withDefaults()

	return &Monitor{
		registry:   registry,
		table:      table,
		client:     backend.NewClient(opts.Timeout, opts.ConnectTimeout),
		interval:   opts.Interval,
		thresholds: opts.Thresholds,
		logger:     logger,
		collector:  collector,
		now:        time.Now,
	}
}

// Probe performs one health request and explains why it failed, if it did.
func (m *Monitor) Probe(ctx context.Context, d *backend.Descriptor) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.HealthURL(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	res, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(res.Body, maxHealthBody))
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	var report healthReport
	if err := json.NewDecoder(io.LimitReader(res.Body, maxHealthBody)).Decode(&report); err != nil {
		return fmt.Errorf("decode health body: %w", err)
	}

	if report.Status != "healthy" {
		return fmt.Errorf("backend reports status %q", report.Status)
	}
	if !report.ModelLoaded {
		return errors.New("model not loaded")
	}
	return nil
}

// Poll reports whether d is healthy right now. It never fails; every problem
// counts as an unhealthy poll.
func (m *Monitor) Poll(ctx context.Context, d *backend.Descriptor) bool {
	if err := m.Probe(ctx, d); err != nil {
		m.logger.Warn("Health check failed",
			slog.String("backend", d.ID),
			slog.String("url", d.HealthURL()),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// Update polls d once and folds the result into its record. The record lock
// is not held during the poll.
func (m *Monitor) Update(ctx context.Context, d *backend.Descriptor) Snapshot {
	record, ok := m.table.Record(d.ID)
	if !ok {
		m.logger.Error("Backend missing from health table", slog.String("backend", d.ID))
		return Snapshot{BackendID: d.ID}
	}

	healthy := m.Poll(ctx, d)
	if ctx.Err() != nil {
		// Shutdown interrupted the poll; it says nothing about the backend.
		return record.Snapshot()
	}

	snap, changed := record.Observe(healthy, m.now(), m.thresholds)

	m.logger.Debug("Backend health polled",
		slog.String("backend", d.ID),
		slog.Bool("poll_ok", healthy),
		slog.Bool("healthy", snap.Healthy),
		slog.Int("consecutive_successes", snap.ConsecutiveSuccesses),
		slog.Int("consecutive_failures", snap.ConsecutiveFailures))

	if changed {
		if snap.Healthy {
			m.logger.Info("Backend is back up", slog.String("backend", d.ID))
		} else {
			m.logger.Warn("Backend is down",
				slog.String("backend", d.ID),
				slog.Int("consecutive_failures", snap.ConsecutiveFailures))
		}
		m.collector.Emit(metrics.MetricEvent{
			Type:    metrics.EventHealthChanged,
			Backend: d.ID,
			Healthy: snap.Healthy,
		})
	}

	return snap
}

// IsHealthy returns the last computed state of backend id.
func (m *Monitor) IsHealthy(id string) bool {
	return m.table.IsHealthy(id)
}

// Run polls every backend immediately and then once per interval, each on its
// own goroutine, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, d := range m.registry.All() {
		g.Go(func() error {
			m.watch(ctx, d)
			return nil
		})
	}

	return g.Wait()
}

func (m *Monitor) watch(ctx context.Context, d *backend.Descriptor) {
	m.logger.Info("Health check started",
		slog.String("backend", d.ID),
		slog.Duration("interval", m.interval))

	m.Update(ctx, d)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health check stopped", slog.String("backend", d.ID))
			return
		case <-ticker.C:
			m.Update(ctx, d)
		}
	}
}
