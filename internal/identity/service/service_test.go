package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"identitystore/internal/audit"
	"identitystore/internal/identity/models"
	"identitystore/internal/identity/store"
	"identitystore/internal/platform/metrics"
	webhookmodels "identitystore/internal/webhook/models"
	id "identitystore/pkg/domain"
	dErrors "identitystore/pkg/domain-errors"
	"identitystore/pkg/requestcontext"
)

type dispatched struct {
	event webhookmodels.Event
	data  any
}

type fakeNotifier struct {
	mu      sync.Mutex
	events  []dispatched
	metrics []string
}

func (n *fakeNotifier) Dispatch(_ context.Context, event webhookmodels.Event, data any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, dispatched{event, data})
	return nil
}

func (n *fakeNotifier) FireMetric(_ context.Context, name string, _ float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.metrics = append(n.metrics, name)
	return nil
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *fakeAuditor) Emit(_ context.Context, e audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

func (a *fakeAuditor) actions() []audit.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]audit.Action, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Action)
	}
	return out
}

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	store    *store.InMemory
	notifier *fakeNotifier
	auditor  *fakeAuditor
	metrics  *metrics.Metrics
	service  *Service
	actor    id.UserID
	now      time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.actor = id.UserID(uuid.New())
	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(requestcontext.WithUserID(context.Background(), s.actor), s.now)
	s.store = store.NewInMemory()
	s.notifier = &fakeNotifier{}
	s.auditor = &fakeAuditor{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.service = New(s.store.Identities(), s.store.OptOuts(), s.store,
		WithNotifier(s.notifier),
		WithAuditPublisher(s.auditor),
		WithMetrics(s.metrics),
		WithAddressTypes([]string{"msisdn", "email"}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func (s *ServiceSuite) newIdentity(addresses models.AddressBook, attrs map[string]any) *models.Identity {
	s.T().Helper()
	if attrs == nil {
		attrs = map[string]any{}
	}
	identity, err := s.service.CreateIdentity(s.ctx, &models.CreateIdentityRequest{
		Details: &models.Details{Addresses: addresses, DefaultAddrType: "msisdn", Attributes: attrs},
	})
	s.Require().NoError(err)
	return identity
}

func msisdns(values ...string) models.AddressBook {
	book := models.AddressBook{}
	for _, v := range values {
		book.Set("msisdn", v, models.AddressMeta{})
	}
	return book
}

func (s *ServiceSuite) TestCreateIdentity() {
	s.Run("stamps audit fields and fires side effects", func() {
		identity := s.newIdentity(msisdns("+27123"), nil)

		s.Equal(1, identity.Version)
		s.Equal(s.now, identity.CreatedAt)
		s.Require().NotNil(identity.CreatedBy)
		s.Equal(s.actor, *identity.CreatedBy)
		s.Contains(s.notifier.metrics, "identities.created.sum")
		s.Require().NotEmpty(s.notifier.events)
		s.Equal(webhookmodels.EventIdentityCreated, s.notifier.events[len(s.notifier.events)-1].event)
		s.Contains(s.auditor.actions(), audit.ActionIdentityCreated)
	})

	s.Run("rejects a communicate_through that does not exist", func() {
		missing := id.NewIdentityID()
		_, err := s.service.CreateIdentity(s.ctx, &models.CreateIdentityRequest{
			Details:            &models.Details{Attributes: map[string]any{}},
			CommunicateThrough: &missing,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("requires details", func() {
		_, err := s.service.CreateIdentity(s.ctx, &models.CreateIdentityRequest{})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestUpdateIdentity() {
	s.Run("patch keeps fields that are absent", func() {
		parent := s.newIdentity(msisdns("+1"), nil)
		child, err := s.service.CreateIdentity(s.ctx, &models.CreateIdentityRequest{
			Details:            &models.Details{Addresses: msisdns("+2"), Attributes: map[string]any{}},
			CommunicateThrough: &parent.ID,
		})
		s.Require().NoError(err)

		version := 2
		updated, err := s.service.UpdateIdentity(s.ctx, child.ID, &models.UpdateIdentityRequest{Version: &version}, true)
		s.Require().NoError(err)
		s.Equal(2, updated.Version)
		s.Require().NotNil(updated.CommunicateThrough)
		s.Equal(parent.ID, *updated.CommunicateThrough)
		s.True(updated.Details.Addresses.Has("msisdn", "+2"))
	})

	s.Run("put clears references that are absent", func() {
		parent := s.newIdentity(msisdns("+3"), nil)
		child, err := s.service.CreateIdentity(s.ctx, &models.CreateIdentityRequest{
			Details:            &models.Details{Attributes: map[string]any{}},
			CommunicateThrough: &parent.ID,
		})
		s.Require().NoError(err)

		updated, err := s.service.UpdateIdentity(s.ctx, child.ID, &models.UpdateIdentityRequest{
			Details: &models.Details{Attributes: map[string]any{"name": "x"}},
		}, false)
		s.Require().NoError(err)
		s.Nil(updated.CommunicateThrough)
		s.Equal("x", updated.Details.Attributes["name"])
	})

	s.Run("address changes fire per-type metrics for tracked types only", func() {
		identity := s.newIdentity(msisdns("+4"), nil)
		s.notifier.metrics = nil

		book := msisdns("+4", "+5")
		book.Set("fax", "123", models.AddressMeta{})
		_, err := s.service.UpdateIdentity(s.ctx, identity.ID, &models.UpdateIdentityRequest{
			Details: &models.Details{Addresses: book, Attributes: map[string]any{}},
		}, true)
		s.Require().NoError(err)
		s.Equal([]string{"identities.change.msisdn.sum"}, s.notifier.metrics)
	})

	s.Run("unknown identity", func() {
		_, err := s.service.UpdateIdentity(s.ctx, id.NewIdentityID(), &models.UpdateIdentityRequest{}, true)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestDeleteIdentity() {
	identity := s.newIdentity(msisdns("+6"), nil)

	s.Require().NoError(s.service.DeleteIdentity(s.ctx, identity.ID))
	_, err := s.service.GetIdentity(s.ctx, identity.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Contains(s.auditor.actions(), audit.ActionIdentityDeleted)

	err = s.service.DeleteIdentity(s.ctx, identity.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestAddresses() {
	book := models.AddressBook{}
	book.Set("msisdn", "+10", models.AddressMeta{Default: true})
	book.Set("msisdn", "+11", models.AddressMeta{})
	book.Set("msisdn", "+12", models.AddressMeta{OptedOut: true})
	target := s.newIdentity(book, nil)

	child, err := s.service.CreateIdentity(s.ctx, &models.CreateIdentityRequest{
		Details:            &models.Details{Addresses: msisdns("+20"), Attributes: map[string]any{}},
		CommunicateThrough: &target.ID,
	})
	s.Require().NoError(err)

	s.Run("excludes opted-out addresses", func() {
		got, err := s.service.Addresses(s.ctx, target.ID, "msisdn", false, false)
		s.Require().NoError(err)
		s.Equal([]string{"+10", "+11"}, got)
	})

	s.Run("default only", func() {
		got, err := s.service.Addresses(s.ctx, target.ID, "msisdn", true, false)
		s.Require().NoError(err)
		s.Equal([]string{"+10"}, got)
	})

	s.Run("follows communicate_through", func() {
		got, err := s.service.Addresses(s.ctx, child.ID, "msisdn", false, true)
		s.Require().NoError(err)
		s.Equal([]string{"+10", "+11"}, got)

		own, err := s.service.Addresses(s.ctx, child.ID, "msisdn", false, false)
		s.Require().NoError(err)
		s.Equal([]string{"+20"}, own)
	})

	s.Run("unknown type is empty", func() {
		got, err := s.service.Addresses(s.ctx, target.ID, "email", false, false)
		s.Require().NoError(err)
		s.Empty(got)
	})
}

func (s *ServiceSuite) TestResolve() {
	s.newIdentity(msisdns("+27001"), nil)
	s.newIdentity(msisdns("+27002"), nil)
	s.newIdentity(msisdns("+27002"), nil)

	s.Run("one match", func() {
		identity, err := s.service.Resolve(s.ctx, "msisdn", "+27001")
		s.Require().NoError(err)
		s.True(identity.Details.Addresses.Has("msisdn", "+27001"))
	})

	s.Run("no match", func() {
		_, err := s.service.Resolve(s.ctx, "msisdn", "+27999")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		de, _ := dErrors.As(err)
		s.Equal("There is no identity with this address.", de.Message)
	})

	s.Run("many matches are never narrowed", func() {
		_, err := s.service.Resolve(s.ctx, "msisdn", "+27002")
		s.True(dErrors.HasCode(err, dErrors.CodeAmbiguous))
		de, _ := dErrors.As(err)
		s.Equal("There are multiple identities with this address.", de.Message)
	})

	s.Run("type must match", func() {
		_, err := s.service.Resolve(s.ctx, "email", "+27001")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) optOut(req models.CreateOptOutRequest) (*models.OptOut, error) {
	if req.RequestSource == "" {
		req.RequestSource = "ussd"
	}
	return s.service.CreateOptOut(s.ctx, &req)
}

func (s *ServiceSuite) TestCreateOptOutStop() {
	identity := s.newIdentity(msisdns("+30", "+31"), nil)
	s.notifier.events = nil

	optout, err := s.optOut(models.CreateOptOutRequest{
		OptOutType:  models.OptOutStop,
		AddressType: "msisdn",
		Address:     "+30",
	})
	s.Require().NoError(err)
	s.Require().NotNil(optout.Identity)
	s.Equal(identity.ID, *optout.Identity)
	s.Equal(s.actor, *optout.CreatedBy)

	stored, err := s.service.GetIdentity(s.ctx, identity.ID)
	s.Require().NoError(err)
	s.True(stored.Details.Addresses["msisdn"]["+30"].OptedOut)
	s.False(stored.Details.Addresses["msisdn"]["+31"].OptedOut)
	s.Equal(s.actor, *stored.UpdatedBy)

	s.Require().Len(s.notifier.events, 1)
	s.Equal(webhookmodels.EventOptOutRequested, s.notifier.events[0].event)
	snapshot, ok := s.notifier.events[0].data.(models.Details)
	s.Require().True(ok)
	s.False(snapshot.Addresses["msisdn"]["+30"].OptedOut, "webhooks see the details before the opt-out")

	s.Contains(s.notifier.metrics, "optout.stop.sum")
	s.Equal(1.0, promtest.ToFloat64(s.metrics.OptOutsApplied.WithLabelValues("stop")))
	s.Contains(s.auditor.actions(), audit.ActionOptOutCreated)
}

func (s *ServiceSuite) TestCreateOptOutStopAll() {
	book := msisdns("+40")
	book.Set("email", "a@example.com", models.AddressMeta{Default: true})
	identity := s.newIdentity(book, map[string]any{"name": "Ann"})

	_, err := s.optOut(models.CreateOptOutRequest{Identity: &identity.ID, OptOutType: models.OptOutStopAll})
	s.Require().NoError(err)

	stored, err := s.service.GetIdentity(s.ctx, identity.ID)
	s.Require().NoError(err)
	s.True(stored.Details.Addresses["msisdn"]["+40"].OptedOut)
	s.Equal(models.AddressMeta{Default: true, OptedOut: true}, stored.Details.Addresses["email"]["a@example.com"])
	s.Equal("Ann", stored.Details.Attributes["name"])
}

func (s *ServiceSuite) TestCreateOptOutForget() {
	parent := s.newIdentity(msisdns("+50"), nil)
	identity, err := s.service.CreateIdentity(s.ctx, &models.CreateIdentityRequest{
		Details: &models.Details{
			Addresses:       msisdns("+51"),
			DefaultAddrType: "msisdn",
			Attributes:      map[string]any{"name": "Bob", "age": 30},
		},
		CommunicateThrough: &parent.ID,
	})
	s.Require().NoError(err)

	_, err = s.optOut(models.CreateOptOutRequest{
		OptOutType:  models.OptOutForget,
		AddressType: "msisdn",
		Address:     "+51",
	})
	s.Require().NoError(err)

	stored, err := s.service.GetIdentity(s.ctx, identity.ID)
	s.Require().NoError(err)
	s.Equal(models.RedactedMarker, stored.Details.Attributes["name"])
	s.Equal(models.RedactedMarker, stored.Details.Attributes["age"])
	s.Equal(models.RedactedMarker, stored.Details.DefaultAddrType)
	s.Empty(stored.Details.Addresses)
	s.Nil(stored.CommunicateThrough)
	s.Contains(s.auditor.actions(), audit.ActionIdentityForgotten)
}

func (s *ServiceSuite) TestCreateOptOutUnsubscribeLeavesIdentity() {
	identity := s.newIdentity(msisdns("+60"), nil)

	optout, err := s.optOut(models.CreateOptOutRequest{Identity: &identity.ID, OptOutType: models.OptOutUnsubscribe})
	s.Require().NoError(err)
	s.Equal(models.OptOutUnsubscribe, optout.OptOutType)

	stored, err := s.service.GetIdentity(s.ctx, identity.ID)
	s.Require().NoError(err)
	s.Equal(identity.Details, stored.Details)
	s.Contains(s.notifier.metrics, "optout.unsubscribe.sum")
}

func (s *ServiceSuite) TestCreateOptOutFailuresLeaveNoRecord() {
	s.newIdentity(msisdns("+70"), nil)
	s.newIdentity(msisdns("+70"), nil)
	single := s.newIdentity(msisdns("+71"), nil)
	s.notifier.events = nil

	cases := []struct {
		name string
		req  models.CreateOptOutRequest
		code dErrors.Code
	}{
		{"ambiguous address", models.CreateOptOutRequest{OptOutType: models.OptOutStop, AddressType: "msisdn", Address: "+70"}, dErrors.CodeAmbiguous},
		{"unknown address", models.CreateOptOutRequest{OptOutType: models.OptOutStopAll, AddressType: "msisdn", Address: "+79"}, dErrors.CodeNotFound},
		{"unknown identity", models.CreateOptOutRequest{Identity: ptr(id.NewIdentityID()), OptOutType: models.OptOutStopAll}, dErrors.CodeNotFound},
		{"stop on address not held", models.CreateOptOutRequest{Identity: &single.ID, OptOutType: models.OptOutStop, AddressType: "msisdn", Address: "+72"}, dErrors.CodeNotFound},
		{"stop without address", models.CreateOptOutRequest{Identity: &single.ID, OptOutType: models.OptOutStop}, dErrors.CodeValidation},
		{"unknown kind", models.CreateOptOutRequest{Identity: &single.ID, OptOutType: "pause"}, dErrors.CodeValidation},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.optOut(tc.req)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, tc.code), "got %v", err)
		})
	}

	optouts, total, err := s.service.ListOptOuts(s.ctx, models.OptOutFilter{})
	s.Require().NoError(err)
	s.Zero(total)
	s.Empty(optouts)
	s.Empty(s.notifier.events)
}

type failingUpdates struct {
	*store.InMemoryIdentities
}

func (failingUpdates) Update(context.Context, *models.Identity) error {
	return errors.New("disk full")
}

func (s *ServiceSuite) TestCreateOptOutRolledBackSendsNoWebhook() {
	identity := s.newIdentity(msisdns("+75"), nil)
	s.notifier.events = nil
	service := New(failingUpdates{s.store.Identities()}, s.store.OptOuts(), s.store,
		WithNotifier(s.notifier),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	_, err := service.CreateOptOut(s.ctx, &models.CreateOptOutRequest{
		Identity:      &identity.ID,
		OptOutType:    models.OptOutStopAll,
		RequestSource: "ussd",
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	s.Empty(s.notifier.events, "a rolled back opt-out must not reach webhooks")
	_, total, err := s.service.ListOptOuts(s.ctx, models.OptOutFilter{})
	s.Require().NoError(err)
	s.Zero(total)
	stored, err := s.service.GetIdentity(s.ctx, identity.ID)
	s.Require().NoError(err)
	s.False(stored.Details.Addresses["msisdn"]["+75"].OptedOut)
}

func (s *ServiceSuite) TestConcurrentStopsKeepBothFlags() {
	identity := s.newIdentity(msisdns("+80", "+81"), nil)

	var wg sync.WaitGroup
	for _, address := range []string{"+80", "+81"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.optOut(models.CreateOptOutRequest{
				Identity:    &identity.ID,
				OptOutType:  models.OptOutStop,
				AddressType: "msisdn",
				Address:     address,
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	stored, err := s.service.GetIdentity(s.ctx, identity.ID)
	s.Require().NoError(err)
	s.True(stored.Details.Addresses["msisdn"]["+80"].OptedOut)
	s.True(stored.Details.Addresses["msisdn"]["+81"].OptedOut)
}

func (s *ServiceSuite) TestListOptOutsFilters() {
	a := s.newIdentity(msisdns("+90"), nil)
	b := s.newIdentity(msisdns("+91"), nil)
	_, err := s.optOut(models.CreateOptOutRequest{Identity: &a.ID, OptOutType: models.OptOutStopAll, RequestSource: "sms"})
	s.Require().NoError(err)
	_, err = s.optOut(models.CreateOptOutRequest{Identity: &b.ID, OptOutType: models.OptOutUnsubscribe, RequestSource: "web"})
	s.Require().NoError(err)

	items, total, err := s.service.ListOptOuts(s.ctx, models.OptOutFilter{RequestSource: "web"})
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Equal(b.ID, *items[0].Identity)

	identities, total, err := s.service.ListIdentities(s.ctx, models.IdentityFilter{OptOutType: models.OptOutStopAll})
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Equal(a.ID, identities[0].ID)
}

func ptr[T any](v T) *T { return &v }
