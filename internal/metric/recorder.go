package metric

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"identitystore/internal/platform/config"
	"identitystore/internal/platform/metrics"
)

// Recorder publishes fired metrics to Prometheus and, when a metrics store
// URL is configured, POSTs {name: value} to it.
type Recorder struct {
	metrics  *metrics.Metrics
	client   *resty.Client
	storeURL string
	logger   *slog.Logger
}

type RecorderOption func(*Recorder)

// WithRestyClient replaces the HTTP client, e.g. with one under httpmock.
func WithRestyClient(client *resty.Client) RecorderOption {
	return func(r *Recorder) {
		r.client = client
	}
}

func NewRecorder(m *metrics.Metrics, cfg config.MetricsConfig, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		metrics:  m,
		client:   resty.New().SetTimeout(10 * time.Second),
		storeURL: cfg.StoreURL,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.client.SetHeader("Content-Type", "application/json")
	if cfg.StoreToken != "" {
		r.client.SetHeader("Authorization", "Token "+cfg.StoreToken)
	}
	return r
}

// Record adds value to a realtime metric or sets a scheduled one.
func (r *Recorder) Record(ctx context.Context, name string, value float64) error {
	if r.metrics != nil {
		if IsScheduled(name) {
			r.metrics.SetMetricLast(name, value)
		} else {
			r.metrics.AddMetricEvent(name, value)
		}
	}
	if r.storeURL == "" {
		return nil
	}
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(map[string]float64{name: value}).
		Post(r.storeURL)
	if err != nil {
		return fmt.Errorf("post metric %s: %w", name, err)
	}
	if resp.IsError() {
		return fmt.Errorf("post metric %s: metrics store returned %d", name, resp.StatusCode())
	}
	r.logger.DebugContext(ctx, "metric fired", "name", name, "value", value)
	return nil
}
