package service

import (
	"context"
	"errors"
	"log/slog"

	"identitystore/internal/webhook/models"
	id "identitystore/pkg/domain"
	dErrors "identitystore/pkg/domain-errors"
	"identitystore/pkg/platform/sentinel"
	"identitystore/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, hook *models.Webhook) error
	Update(ctx context.Context, hook *models.Webhook) error
	Delete(ctx context.Context, owner id.UserID, webhookID id.WebhookID) error
	FindByID(ctx context.Context, owner id.UserID, webhookID id.WebhookID) (*models.Webhook, error)
	ListByUser(ctx context.Context, owner id.UserID) ([]*models.Webhook, error)
}

// Service manages webhook subscriptions. Every operation is scoped to the
// authenticated user; other users' hooks look like missing ones.
type Service struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

func (s *Service) Create(ctx context.Context, req *models.Request) (*models.Webhook, error) {
	owner, err := owner(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hook, err := models.NewWebhook(id.NewWebhookID(), owner, req.Event, req.Target, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, err.Error())
	}
	if err := s.store.Create(ctx, hook); err != nil {
		return nil, translate(err, "failed to create webhook")
	}
	s.logger.InfoContext(ctx, "webhook created",
		"webhook_id", hook.ID,
		"event", hook.Event,
		"user_id", owner,
	)
	return hook, nil
}

func (s *Service) Get(ctx context.Context, webhookID id.WebhookID) (*models.Webhook, error) {
	owner, err := owner(ctx)
	if err != nil {
		return nil, err
	}
	hook, err := s.store.FindByID(ctx, owner, webhookID)
	if err != nil {
		return nil, translate(err, "failed to load webhook")
	}
	return hook, nil
}

func (s *Service) Update(ctx context.Context, webhookID id.WebhookID, req *models.Request) (*models.Webhook, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hook, err := s.Get(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	hook.Event = req.Event
	hook.Target = req.Target
	hook.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.Update(ctx, hook); err != nil {
		return nil, translate(err, "failed to update webhook")
	}
	return hook, nil
}

func (s *Service) Delete(ctx context.Context, webhookID id.WebhookID) error {
	owner, err := owner(ctx)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, owner, webhookID); err != nil {
		return translate(err, "failed to delete webhook")
	}
	return nil
}

func (s *Service) List(ctx context.Context) ([]*models.Webhook, error) {
	owner, err := owner(ctx)
	if err != nil {
		return nil, err
	}
	hooks, err := s.store.ListByUser(ctx, owner)
	if err != nil {
		return nil, translate(err, "failed to list webhooks")
	}
	return hooks, nil
}

func owner(ctx context.Context) (id.UserID, error) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		return userID, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return userID, nil
}

func translate(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "webhook not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "a webhook for this event and target already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
