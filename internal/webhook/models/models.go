package models

import (
	"time"

	id "identitystore/pkg/domain"
	dErrors "identitystore/pkg/domain-errors"
	"identitystore/pkg/platform/validation"
)

// Event names a hook trigger.
type Event string

const (
	EventOptOutRequested Event = "optout.requested"
	EventIdentityCreated  Event = "identity.created"
)

// Events lists every subscribable event.
var Events = []Event{EventOptOutRequested, EventIdentityCreated}

func (e Event) IsValid() bool {
	return e == EventOptOutRequested || e == EventIdentityCreated
}

// Webhook is a user's subscription of a target URL to one event.
type Webhook struct {
	ID        id.WebhookID `json:"id"`
	UserID    id.UserID    `json:"user_id"`
	Event     Event        `json:"event"`
	Target    string       `json:"target"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func NewWebhook(webhookID id.WebhookID, owner id.UserID, event Event, target string, now time.Time) (*Webhook, error) {
	if owner.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "webhook owner is required")
	}
	if !event.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown event: "+string(event))
	}
	return &Webhook{
		ID:        webhookID,
		UserID:    owner,
		Event:     event,
		Target:    target,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Request is the body of POST and PUT /webhook/.
type Request struct {
	Event  Event  `json:"event" validate:"required,oneof=optout.requested identity.created"`
	Target string `json:"target" validate:"required,http_url,max=200"`
}

func (r *Request) Validate() error {
	return validation.Struct(r)
}

// Hook is the hook half of a delivery payload.
type Hook struct {
	ID     id.WebhookID `json:"id"`
	Event  Event        `json:"event"`
	Target string       `json:"target"`
}

// Payload is the JSON body POSTed to a target.
type Payload struct {
	Hook Hook `json:"hook"`
	Data any  `json:"data"`
}

func (w *Webhook) Payload(data any) Payload {
	return Payload{Hook: Hook{ID: w.ID, Event: w.Event, Target: w.Target}, Data: data}
}
