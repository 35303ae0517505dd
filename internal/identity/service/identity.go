package service

import (
	"context"
	"errors"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"identitystore/internal/audit"
	"identitystore/internal/identity/models"
	"identitystore/internal/metric"
	webhookmodels "identitystore/internal/webhook/models"
	id "identitystore/pkg/domain"
	dErrors "identitystore/pkg/domain-errors"
	"identitystore/pkg/platform/sentinel"
	"identitystore/pkg/requestcontext"
)

// CreateIdentity stores a new identity, then fires identities.created.sum and
// the identity.created webhooks.
func (s *Service) CreateIdentity(ctx context.Context, req *models.CreateIdentityRequest) (_ *models.Identity, err error) {
	ctx, span := tracer.Start(ctx, "identity.Create")
	defer func() { endSpan(span, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkRefs(ctx, req.CommunicateThrough, req.Operator); err != nil {
		return nil, err
	}

	identity, err := models.NewIdentity(id.NewIdentityID(), req.Version, *req.Details,
		requestcontext.UserID(ctx), requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}
	identity.CommunicateThrough = req.CommunicateThrough
	identity.Operator = req.Operator

	if err := s.identities.Create(ctx, identity); err != nil {
		return nil, translate(err, "failed to create identity")
	}
	span.SetAttributes(attribute.String("identity.id", identity.ID.String()))

	s.fireMetric(ctx, metric.IdentitiesCreated)
	s.dispatch(ctx, webhookmodels.EventIdentityCreated, identity)
	s.emit(ctx, audit.Event{Action: audit.ActionIdentityCreated, IdentityID: identity.ID.String()})
	s.logger.InfoContext(ctx, "identity created", "identity_id", identity.ID)
	return identity, nil
}

func (s *Service) GetIdentity(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	identity, err := s.identities.FindByID(ctx, identityID)
	if err != nil {
		return nil, translate(err, "failed to load identity")
	}
	return identity, nil
}

// UpdateIdentity replaces (partial=false) or patches (partial=true) an
// identity. Address keys added or removed under a configured address type
// fire identities.change.<type>.sum.
func (s *Service) UpdateIdentity(ctx context.Context, identityID id.IdentityID, req *models.UpdateIdentityRequest, partial bool) (_ *models.Identity, err error) {
	ctx, span := tracer.Start(ctx, "identity.Update")
	span.SetAttributes(
		attribute.String("identity.id", identityID.String()),
		attribute.Bool("partial", partial),
	)
	defer func() { endSpan(span, err) }()

	if err := req.Validate(partial); err != nil {
		return nil, err
	}
	if err := s.checkRefs(ctx, req.CommunicateThrough.Value, req.Operator.Value); err != nil {
		return nil, err
	}

	var (
		updated *models.Identity
		changed []string
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		identity, err := s.identities.FindByIDForUpdate(ctx, identityID)
		if err != nil {
			return err
		}
		before := identity.Details.Addresses.Clone()

		if req.Details != nil {
			identity.Details = req.Details.Clone()
			if identity.Details.Attributes == nil {
				identity.Details.Attributes = map[string]any{}
			}
		}
		if req.Version != nil {
			identity.Version = *req.Version
		}
		if req.CommunicateThrough.Set || !partial {
			identity.CommunicateThrough = req.CommunicateThrough.Value
		}
		if req.Operator.Set || !partial {
			identity.Operator = req.Operator.Value
		}
		identity.Touch(requestcontext.UserID(ctx), requestcontext.Now(ctx))

		if err := s.identities.Update(ctx, identity); err != nil {
			return err
		}
		changed = models.ChangedTypes(before, identity.Details.Addresses)
		updated = identity
		return nil
	})
	if err != nil {
		return nil, translate(err, "failed to update identity")
	}

	for _, addrType := range changed {
		if slices.Contains(s.addressTypes, addrType) {
			s.fireMetric(ctx, metric.AddressChanged(addrType))
		}
	}
	s.emit(ctx, audit.Event{Action: audit.ActionIdentityUpdated, IdentityID: identityID.String()})
	return updated, nil
}

func (s *Service) DeleteIdentity(ctx context.Context, identityID id.IdentityID) (err error) {
	ctx, span := tracer.Start(ctx, "identity.Delete")
	span.SetAttributes(attribute.String("identity.id", identityID.String()))
	defer func() { endSpan(span, err) }()

	if err := s.identities.Delete(ctx, identityID); err != nil {
		return translate(err, "failed to delete identity")
	}
	s.emit(ctx, audit.Event{Action: audit.ActionIdentityDeleted, IdentityID: identityID.String()})
	s.logger.InfoContext(ctx, "identity deleted", "identity_id", identityID)
	return nil
}

// ListIdentities returns one page of identities matching filter and the
// total number of matches.
func (s *Service) ListIdentities(ctx context.Context, filter models.IdentityFilter) ([]*models.Identity, int, error) {
	ctx, span := tracer.Start(ctx, "identity.List")
	items, total, err := s.identities.List(ctx, filter)
	endSpan(span, err)
	if err != nil {
		return nil, 0, translate(err, "failed to list identities")
	}
	return items, total, nil
}

// Addresses returns the contactable addresses of addrType on an identity,
// or on the identity it communicates through when useCommunicateThrough is
// set and such a link exists.
func (s *Service) Addresses(ctx context.Context, identityID id.IdentityID, addrType string, defaultOnly, useCommunicateThrough bool) ([]string, error) {
	identity, err := s.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if useCommunicateThrough && identity.CommunicateThrough != nil {
		identity, err = s.GetIdentity(ctx, *identity.CommunicateThrough)
		if err != nil {
			return nil, err
		}
	}
	return identity.Details.Addresses.Available(addrType, defaultOnly), nil
}

// checkRefs rejects references to identities that do not exist.
func (s *Service) checkRefs(ctx context.Context, communicateThrough, operator *id.IdentityID) error {
	refs := []struct {
		field string
		ref   *id.IdentityID
	}{
		{"communicate_through", communicateThrough},
		{"operator", operator},
	}
	for _, r := range refs {
		if r.ref == nil {
			continue
		}
		if _, err := s.identities.FindByID(ctx, *r.ref); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeValidation, r.field+": identity "+r.ref.String()+" does not exist")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load referenced identity")
		}
	}
	return nil
}
