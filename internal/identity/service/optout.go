package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"identitystore/internal/audit"
	"identitystore/internal/identity/models"
	"identitystore/internal/metric"
	webhookmodels "identitystore/internal/webhook/models"
	id "identitystore/pkg/domain"
	dErrors "identitystore/pkg/domain-errors"
	"identitystore/pkg/requestcontext"
)

const (
	msgNoIdentity        = "There is no identity with this address."
	msgAmbiguousIdentity = "There are multiple identities with this address."
)

// Resolve finds the single identity holding address under addrType. It
// never picks among several matches.
func (s *Service) Resolve(ctx context.Context, addrType, address string) (*models.Identity, error) {
	matches, err := s.identities.FindByAddress(ctx, addrType, address, 2)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up address")
	}
	switch len(matches) {
	case 0:
		return nil, dErrors.New(dErrors.CodeNotFound, msgNoIdentity)
	case 1:
		return matches[0], nil
	default:
		return nil, dErrors.New(dErrors.CodeAmbiguous, msgAmbiguousIdentity)
	}
}

// CreateOptOut records an opt-out and applies it. Within one transaction it
// locks the identity, stores the record, snapshots the details and only then
// mutates the address book. The optout.requested webhooks receive that
// pre-mutation snapshot once the transaction has committed.
func (s *Service) CreateOptOut(ctx context.Context, req *models.CreateOptOutRequest) (_ *models.OptOut, err error) {
	ctx, span := tracer.Start(ctx, "optout.Create")
	span.SetAttributes(attribute.String("optout.type", string(req.OptOutType)))
	defer func() { endSpan(span, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	actor := requestcontext.UserID(ctx)
	now := requestcontext.Now(ctx)
	var (
		optout   *models.OptOut
		snapshot models.Details
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		identity, err := s.locate(ctx, req)
		if err != nil {
			return err
		}
		if err := identity.CanApplyOptOut(req.OptOutType, req.AddressType, req.Address); err != nil {
			return err
		}

		identityID := identity.ID
		optout = &models.OptOut{
			ID:                id.NewOptOutID(),
			Identity:          &identityID,
			OptOutType:        req.OptOutType,
			AddressType:       req.AddressType,
			Address:           req.Address,
			RequestSource:     req.RequestSource,
			RequestorSourceID: req.RequestorSourceID,
			Reason:            req.Reason,
			CreatedAt:         now,
		}
		if !actor.IsNil() {
			optout.CreatedBy = &actor
		}
		if err := s.optouts.Create(ctx, optout); err != nil {
			return err
		}

		snapshot = identity.Details.Clone()

		changed, err := identity.ApplyOptOut(req.OptOutType, req.AddressType, req.Address, actor, now)
		if err != nil {
			return err
		}
		if changed {
			return s.identities.Update(ctx, identity)
		}
		return nil
	})
	if err != nil {
		return nil, translate(err, "failed to create optout")
	}
	span.SetAttributes(attribute.String("identity.id", optout.Identity.String()))

	s.dispatch(ctx, webhookmodels.EventOptOutRequested, snapshot)
	s.fireMetric(ctx, metric.OptOutCreated(req.OptOutType))
	if s.metrics != nil {
		s.metrics.IncOptOutApplied(string(req.OptOutType))
	}
	s.emit(ctx, audit.Event{
		Action:     audit.ActionOptOutCreated,
		IdentityID: optout.Identity.String(),
		OptOutID:   optout.ID.String(),
		Reason:     req.Reason,
	})
	if req.OptOutType == models.OptOutForget {
		s.emit(ctx, audit.Event{Action: audit.ActionIdentityForgotten, IdentityID: optout.Identity.String()})
	}
	s.logger.InfoContext(ctx, "optout applied",
		"optout_id", optout.ID,
		"identity_id", optout.Identity,
		"optout_type", req.OptOutType,
	)
	return optout, nil
}

// locate loads and locks the identity an opt-out targets: the explicit
// reference when given, otherwise the single address match.
func (s *Service) locate(ctx context.Context, req *models.CreateOptOutRequest) (*models.Identity, error) {
	identityID := req.Identity
	if identityID == nil {
		resolved, err := s.Resolve(ctx, req.AddressType, req.Address)
		if err != nil {
			return nil, err
		}
		identityID = &resolved.ID
	}
	identity, err := s.identities.FindByIDForUpdate(ctx, *identityID)
	if err != nil {
		return nil, translate(err, "failed to load identity")
	}
	return identity, nil
}

func (s *Service) ListOptOuts(ctx context.Context, filter models.OptOutFilter) ([]*models.OptOut, int, error) {
	items, total, err := s.optouts.List(ctx, filter)
	if err != nil {
		return nil, 0, translate(err, "failed to list optouts")
	}
	return items, total, nil
}
