package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"identitystore/internal/webhook/models"
	"identitystore/internal/webhook/store"
	id "identitystore/pkg/domain"
	dErrors "identitystore/pkg/domain-errors"
	"identitystore/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	store   *store.InMemory
	service *Service
	alice   context.Context
	bob     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.service = New(s.store, nil)
	s.alice = requestcontext.WithUserID(context.Background(), id.UserID(id.NewWebhookID()))
	s.bob = requestcontext.WithUserID(context.Background(), id.UserID(id.NewWebhookID()))
}

func (s *ServiceSuite) TestCreate() {
	s.Run("stores a subscription owned by the caller", func() {
		hook, err := s.service.Create(s.alice, &models.Request{Event: models.EventOptOutRequested, Target: "https://hooks.example.com/optout"})
		s.Require().NoError(err)
		s.Equal(requestcontext.UserID(s.alice), hook.UserID)

		hooks, err := s.store.ListByEvent(context.Background(), models.EventOptOutRequested)
		s.Require().NoError(err)
		s.Len(hooks, 1)
	})

	s.Run("rejects unknown events", func() {
		_, err := s.service.Create(s.alice, &models.Request{Event: "identity.deleted", Target: "https://hooks.example.com"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects targets that are not http urls", func() {
		_, err := s.service.Create(s.alice, &models.Request{Event: models.EventIdentityCreated, Target: "not a url"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects duplicates for the same user", func() {
		req := &models.Request{Event: models.EventIdentityCreated, Target: "https://dup.example.com"}
		_, err := s.service.Create(s.alice, req)
		s.Require().NoError(err)
		_, err = s.service.Create(s.alice, req)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("requires an authenticated user", func() {
		_, err := s.service.Create(context.Background(), &models.Request{Event: models.EventIdentityCreated, Target: "https://x.example.com"})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestScopedToOwner() {
	hook, err := s.service.Create(s.alice, &models.Request{Event: models.EventOptOutRequested, Target: "https://alice.example.com"})
	s.Require().NoError(err)

	s.Run("other users cannot see it", func() {
		_, err := s.service.Get(s.bob, hook.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		hooks, err := s.service.List(s.bob)
		s.Require().NoError(err)
		s.Empty(hooks)
	})

	s.Run("other users cannot delete it", func() {
		err := s.service.Delete(s.bob, hook.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("owner can update and delete it", func() {
		updated, err := s.service.Update(s.alice, hook.ID, &models.Request{Event: models.EventIdentityCreated, Target: "https://alice.example.com/v2"})
		s.Require().NoError(err)
		s.Equal(models.EventIdentityCreated, updated.Event)

		s.Require().NoError(s.service.Delete(s.alice, hook.ID))
		_, err = s.service.Get(s.alice, hook.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
