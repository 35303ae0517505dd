// Package notify moves webhook deliveries and metric firing off the request
// path onto an asynq task queue.
package notify

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	webhookmodels "identitystore/internal/webhook/models"
)

const (
	TypeHookDeliver     = "hook:deliver"
	TypeMetricFire      = "metric:fire"
	TypeMetricScheduled = "metric:scheduled"
)

// HookTask carries one delivery: the rendered payload and where to send it.
type HookTask struct {
	Target  string              `json:"target"`
	Event   webhookmodels.Event `json:"event"`
	Payload json.RawMessage     `json:"payload"`
}

// MetricTask carries one realtime metric increment.
type MetricTask struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func NewHookDeliverTask(hook *webhookmodels.Webhook, data any) (*asynq.Task, error) {
	payload, err := json.Marshal(hook.Payload(data))
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(HookTask{Target: hook.Target, Event: hook.Event, Payload: payload})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeHookDeliver, body, asynq.MaxRetry(0)), nil
}

func NewMetricFireTask(name string, value float64) (*asynq.Task, error) {
	body, err := json.Marshal(MetricTask{Name: name, Value: value})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeMetricFire, body, asynq.MaxRetry(0)), nil
}

func NewMetricScheduledTask() *asynq.Task {
	return asynq.NewTask(TypeMetricScheduled, nil, asynq.MaxRetry(0))
}
