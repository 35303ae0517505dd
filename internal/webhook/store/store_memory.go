package store

import (
	"context"
	"fmt"
	"sync"

	"identitystore/internal/webhook/models"
	id "identitystore/pkg/domain"
	"identitystore/pkg/platform/sentinel"
)

// InMemory keeps subscriptions in insertion order.
type InMemory struct {
	mu    sync.RWMutex
	hooks []*models.Webhook
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Create(_ context.Context, hook *models.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.duplicate(hook) {
		return fmt.Errorf("webhook %s %s: %w", hook.Event, hook.Target, sentinel.ErrConflict)
	}
	copied := *hook
	s.hooks = append(s.hooks, &copied)
	return nil
}

func (s *InMemory) Update(_ context.Context, hook *models.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.duplicate(hook) {
		return fmt.Errorf("webhook %s %s: %w", hook.Event, hook.Target, sentinel.ErrConflict)
	}
	for i, existing := range s.hooks {
		if existing.ID == hook.ID && existing.UserID == hook.UserID {
			copied := *hook
			s.hooks[i] = &copied
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *InMemory) duplicate(hook *models.Webhook) bool {
	for _, existing := range s.hooks {
		if existing.ID != hook.ID && existing.UserID == hook.UserID &&
			existing.Event == hook.Event && existing.Target == hook.Target {
			return true
		}
	}
	return false
}

func (s *InMemory) Delete(_ context.Context, owner id.UserID, webhookID id.WebhookID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.hooks {
		if existing.ID == webhookID && existing.UserID == owner {
			s.hooks = append(s.hooks[:i:i], s.hooks[i+1:]...)
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *InMemory) FindByID(_ context.Context, owner id.UserID, webhookID id.WebhookID) (*models.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, existing := range s.hooks {
		if existing.ID == webhookID && existing.UserID == owner {
			copied := *existing
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ListByUser(_ context.Context, owner id.UserID) ([]*models.Webhook, error) {
	return s.filter(func(h *models.Webhook) bool { return h.UserID == owner }), nil
}

// ListByEvent returns every user's subscriptions to event.
func (s *InMemory) ListByEvent(_ context.Context, event models.Event) ([]*models.Webhook, error) {
	return s.filter(func(h *models.Webhook) bool { return h.Event == event }), nil
}

func (s *InMemory) filter(keep func(*models.Webhook) bool) []*models.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Webhook{}
	for _, h := range s.hooks {
		if keep(h) {
			copied := *h
			out = append(out, &copied)
		}
	}
	return out
}
