package audit

import (
	"context"
	"log/slog"

	"identitystore/pkg/requestcontext"
)

// Publisher hands events to the worker through a buffered channel. Emit never
// blocks: when the buffer is full the event is dropped and logged.
type Publisher struct {
	out    chan Event
	logger *slog.Logger
}

func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{out: make(chan Event, buffer), logger: logger}
}

// Events is the channel drained by Worker.
func (p *Publisher) Events() <-chan Event {
	return p.out
}

func (p *Publisher) Emit(ctx context.Context, base Event) error {
	if base.Timestamp.IsZero() {
		base.Timestamp = requestcontext.Now(ctx)
	}
	if base.RequestID == "" {
		base.RequestID = requestcontext.RequestID(ctx)
	}
	select {
	case p.out <- base:
	default:
		p.logger.WarnContext(ctx, "audit buffer full, dropping event",
			"action", base.Action,
			"identity_id", base.IdentityID,
		)
	}
	return nil
}

// Drain returns buffered events without blocking. Used on shutdown.
func (p *Publisher) Drain() []Event {
	var events []Event
	for {
		select {
		case e := <-p.out:
			events = append(events, e)
		default:
			return events
		}
	}
}
