package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hibiken/asynq"

	"identitystore/internal/platform/config"
	"identitystore/internal/platform/metrics"
)

type MetricRecorder interface {
	Record(ctx context.Context, name string, value float64) error
}

type MetricCollector interface {
	Collect(ctx context.Context) (map[string]float64, error)
}

// DeliveryError reports a webhook that could not be delivered. It is logged
// and counted; deliveries are never retried.
type DeliveryError struct {
	Target string
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver to %s: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("deliver to %s: target returned %d", e.Target, e.Status)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Processor executes queued tasks.
type Processor struct {
	client    *resty.Client
	recorder  MetricRecorder
	collector MetricCollector
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type ProcessorOption func(*Processor)

func WithRestyClient(client *resty.Client) ProcessorOption {
	return func(p *Processor) {
		p.client = client
	}
}

func WithMetrics(m *metrics.Metrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = m
	}
}

func NewProcessor(cfg config.WebhookConfig, recorder MetricRecorder, collector MetricCollector, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &Processor{
		client:    resty.New(),
		recorder:  recorder,
		collector: collector,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.client.SetTimeout(timeout)
	p.client.SetHeader("Content-Type", "application/json")
	p.client.SetHeader("User-Agent", "identitystore/1.0")
	if cfg.AuthToken != "" {
		p.client.SetHeader("Authorization", "Token "+cfg.AuthToken)
	}
	return p
}

// Mux routes every task type to its handler.
func (p *Processor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeHookDeliver, p.HandleHookDeliver)
	mux.HandleFunc(TypeMetricFire, p.HandleMetricFire)
	mux.HandleFunc(TypeMetricScheduled, p.HandleMetricScheduled)
	return mux
}

func (p *Processor) HandleHookDeliver(ctx context.Context, t *asynq.Task) error {
	var task HookTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("decode hook task: %v: %w", err, asynq.SkipRetry)
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody([]byte(task.Payload)).
		Post(task.Target)
	var derr *DeliveryError
	switch {
	case err != nil:
		derr = &DeliveryError{Target: task.Target, Err: err}
	case resp.IsError():
		derr = &DeliveryError{Target: task.Target, Status: resp.StatusCode()}
	}
	if derr != nil {
		p.countDelivery(task, "failed")
		p.logger.WarnContext(ctx, "webhook delivery failed",
			"event", task.Event,
			"target", task.Target,
			"status", derr.Status,
			"error", derr,
		)
		return fmt.Errorf("%w: %w", derr, asynq.SkipRetry)
	}
	p.countDelivery(task, "delivered")
	p.logger.InfoContext(ctx, "webhook delivered",
		"event", task.Event,
		"target", task.Target,
		"status", resp.StatusCode(),
	)
	return nil
}

func (p *Processor) countDelivery(task HookTask, outcome string) {
	if p.metrics != nil {
		p.metrics.IncHookDelivery(string(task.Event), outcome)
	}
}

func (p *Processor) HandleMetricFire(ctx context.Context, t *asynq.Task) error {
	var task MetricTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("decode metric task: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.recorder.Record(ctx, task.Name, task.Value); err != nil {
		p.logger.WarnContext(ctx, "failed to fire metric", "name", task.Name, "error", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return nil
}

func (p *Processor) HandleMetricScheduled(ctx context.Context, _ *asynq.Task) error {
	values, err := p.collector.Collect(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to collect scheduled metrics", "error", err)
		return err
	}
	var errs []error
	for name, value := range values {
		if err := p.recorder.Record(ctx, name, value); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.WarnContext(ctx, "failed to fire scheduled metrics", "error", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	p.logger.InfoContext(ctx, "scheduled metrics fired", "count", len(values))
	return nil
}
