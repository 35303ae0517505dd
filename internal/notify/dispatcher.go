package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	webhookmodels "identitystore/internal/webhook/models"
)

//go:generate mockgen -source=dispatcher.go -destination=mocks/mocks.go -package=mocks Enqueuer,HookLister

// Enqueuer is the subset of *asynq.Client the dispatcher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type HookLister interface {
	ListByEvent(ctx context.Context, event webhookmodels.Event) ([]*webhookmodels.Webhook, error)
}

// Dispatcher turns domain events into queued tasks. It never delivers
// anything itself.
type Dispatcher struct {
	queue  Enqueuer
	hooks  HookLister
	logger *slog.Logger
}

func NewDispatcher(queue Enqueuer, hooks HookLister, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, hooks: hooks, logger: logger}
}

// Dispatch enqueues one delivery per subscription to event. It tries every
// subscription and returns the joined enqueue errors.
func (d *Dispatcher) Dispatch(ctx context.Context, event webhookmodels.Event, data any) error {
	hooks, err := d.hooks.ListByEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("list webhooks for %s: %w", event, err)
	}
	var errs []error
	for _, hook := range hooks {
		task, err := NewHookDeliverTask(hook, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("build delivery for hook %s: %w", hook.ID, err))
			continue
		}
		if _, err := d.queue.EnqueueContext(ctx, task); err != nil {
			errs = append(errs, fmt.Errorf("enqueue delivery for hook %s: %w", hook.ID, err))
			continue
		}
		d.logger.DebugContext(ctx, "webhook delivery enqueued",
			"hook_id", hook.ID,
			"event", event,
		)
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) FireMetric(ctx context.Context, name string, value float64) error {
	task, err := NewMetricFireTask(name, value)
	if err != nil {
		return fmt.Errorf("build metric task: %w", err)
	}
	if _, err := d.queue.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue metric %s: %w", name, err)
	}
	return nil
}

func (d *Dispatcher) TriggerScheduled(ctx context.Context) error {
	if _, err := d.queue.EnqueueContext(ctx, NewMetricScheduledTask()); err != nil {
		return fmt.Errorf("enqueue scheduled metrics: %w", err)
	}
	return nil
}
