// Package service holds the identity and opt-out use cases: lookup by
// address, opt-out resolution and the side effects that follow a mutation.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"identitystore/internal/audit"
	"identitystore/internal/identity/models"
	"identitystore/internal/platform/metrics"
	webhookmodels "identitystore/internal/webhook/models"
	id "identitystore/pkg/domain"
	dErrors "identitystore/pkg/domain-errors"
	"identitystore/pkg/platform/sentinel"
	"identitystore/pkg/requestcontext"
)

var tracer = otel.Tracer("identitystore/internal/identity/service")

type IdentityStore interface {
	Create(ctx context.Context, identity *models.Identity) error
	Update(ctx context.Context, identity *models.Identity) error
	Delete(ctx context.Context, identityID id.IdentityID) error
	FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	FindByIDForUpdate(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	FindByAddress(ctx context.Context, addrType, address string, limit int) ([]*models.Identity, error)
	List(ctx context.Context, filter models.IdentityFilter) ([]*models.Identity, int, error)
}

type OptOutStore interface {
	Create(ctx context.Context, optout *models.OptOut) error
	List(ctx context.Context, filter models.OptOutFilter) ([]*models.OptOut, int, error)
}

// TxRunner opens the unit of work that store calls made with its ctx join.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier hands webhook events and metric increments to the task queue.
type Notifier interface {
	Dispatch(ctx context.Context, event webhookmodels.Event, data any) error
	FireMetric(ctx context.Context, name string, value float64) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates identities and opt-outs.
type Service struct {
	identities   IdentityStore
	optouts      OptOutStore
	tx           TxRunner
	notifier     Notifier
	auditor      AuditPublisher
	metrics      *metrics.Metrics
	addressTypes []string
	logger       *slog.Logger
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAddressTypes sets the address types whose changes are counted.
func WithAddressTypes(types []string) Option {
	return func(s *Service) {
		s.addressTypes = types
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(identities IdentityStore, optouts OptOutStore, tx TxRunner, opts ...Option) *Service {
	s := &Service{
		identities: identities,
		optouts:    optouts,
		tx:         tx,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) fireMetric(ctx context.Context, name string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.FireMetric(ctx, name, 1); err != nil {
		s.logger.WarnContext(ctx, "failed to enqueue metric", "name", name, "error", err)
	}
}

func (s *Service) dispatch(ctx context.Context, event webhookmodels.Event, data any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Dispatch(ctx, event, data); err != nil {
		s.logger.WarnContext(ctx, "failed to enqueue webhooks",
			"event", event,
			"error", err,
		)
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if actor := requestcontext.UserID(ctx); !actor.IsNil() {
		event.ActorID = actor.String()
	}
	_ = s.auditor.Emit(ctx, event)
}

// translate maps store errors onto domain errors, leaving domain errors as they are.
func translate(err error, msg string) error {
	if err == nil {
		return nil
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "identity not found")
	}
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeConflict, "identity already exists")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
