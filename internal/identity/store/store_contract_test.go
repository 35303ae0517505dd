package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identitystore/internal/identity/models"
	id "identitystore/pkg/domain"
	"identitystore/pkg/platform/sentinel"
	"identitystore/pkg/testutil"
)

type identityStore interface {
	Create(ctx context.Context, identity *models.Identity) error
	Update(ctx context.Context, identity *models.Identity) error
	Delete(ctx context.Context, identityID id.IdentityID) error
	FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	FindByIDForUpdate(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	FindByAddress(ctx context.Context, addrType, address string, limit int) ([]*models.Identity, error)
	List(ctx context.Context, filter models.IdentityFilter) ([]*models.Identity, int, error)
	Count(ctx context.Context) (int, error)
}

type optOutStore interface {
	Create(ctx context.Context, optout *models.OptOut) error
	List(ctx context.Context, filter models.OptOutFilter) ([]*models.OptOut, int, error)
	Count(ctx context.Context) (int, error)
}

type txRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// runStoreContract exercises the behaviour both store implementations share.
// reset must leave the store empty.
func runStoreContract(t *testing.T, identities identityStore, optouts optOutStore, tx txRunner, reset func(t *testing.T)) {
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	actor := id.UserID(uuid.New())

	newIdentity := func(t *testing.T, attrs map[string]any, addresses map[string][]string) *models.Identity {
		t.Helper()
		book := models.AddressBook{}
		for addrType, values := range addresses {
			for _, v := range values {
				book.Set(addrType, v, models.AddressMeta{})
			}
		}
		identity, err := models.NewIdentity(id.NewIdentityID(), 1,
			models.Details{Addresses: book, Attributes: attrs}, actor, now)
		require.NoError(t, err)
		require.NoError(t, identities.Create(ctx, identity))
		return identity
	}

	testutil.Given(t, "a stored identity", func(t *testing.T) {
		reset(t)
		identity := newIdentity(t, map[string]any{
			"name":           "Ann",
			"lang":           map[string]any{"code": "eng"},
			"personnel_code": json.Number("9007199254740993"),
		},
			map[string][]string{"msisdn": {"+27001"}})

		testutil.When(t, "it is read back", func(t *testing.T) {
			got, err := identities.FindByID(ctx, identity.ID)
			require.NoError(t, err)

			testutil.Then(t, "details and audit fields round-trip", func(t *testing.T) {
				assert.Equal(t, "Ann", got.Details.Attributes["name"])
				assert.Equal(t, json.Number("9007199254740993"), got.Details.Attributes["personnel_code"])
				assert.True(t, got.Details.Addresses.Has("msisdn", "+27001"))
				assert.True(t, got.CreatedAt.Equal(now))
				require.NotNil(t, got.CreatedBy)
				assert.Equal(t, actor, *got.CreatedBy)
			})
		})

		testutil.When(t, "it is created twice", func(t *testing.T) {
			err := identities.Create(ctx, identity)
			testutil.Then(t, "the store reports a conflict", func(t *testing.T) {
				assert.ErrorIs(t, err, sentinel.ErrConflict)
			})
		})
	})

	testutil.Given(t, "identities sharing an address", func(t *testing.T) {
		reset(t)
		first := newIdentity(t, map[string]any{}, map[string][]string{"msisdn": {"+27100"}})
		newIdentity(t, map[string]any{}, map[string][]string{"msisdn": {"+27100", "+27101"}})
		newIdentity(t, map[string]any{}, map[string][]string{"email": {"+27100"}})

		testutil.Then(t, "address lookup matches type and key and honours the limit", func(t *testing.T) {
			all, err := identities.FindByAddress(ctx, "msisdn", "+27100", 0)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			limited, err := identities.FindByAddress(ctx, "msisdn", "+27100", 1)
			require.NoError(t, err)
			require.Len(t, limited, 1)
			assert.Equal(t, first.ID, limited[0].ID)

			none, err := identities.FindByAddress(ctx, "msisdn", "+27999", 2)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	})

	testutil.Given(t, "identities to filter", func(t *testing.T) {
		reset(t)
		ann := newIdentity(t, map[string]any{"name": "Ann", "lang": map[string]any{"code": "eng"}},
			map[string][]string{"msisdn": {"+27200"}})
		newIdentity(t, map[string]any{"name": "Bob", "lang": map[string]any{"code": "zul"}},
			map[string][]string{"msisdn": {"+27201"}})
		newIdentity(t, map[string]any{"name": "Cat"}, nil)

		require.NoError(t, optouts.Create(ctx, &models.OptOut{
			ID:            id.NewOptOutID(),
			Identity:      &ann.ID,
			OptOutType:    models.OptOutStopAll,
			RequestSource: "sms",
			CreatedAt:     now,
		}))

		cases := []struct {
			name   string
			filter models.IdentityFilter
			want   int
		}{
			{"no filter", models.IdentityFilter{}, 3},
			{"address containment", models.IdentityFilter{Addresses: []models.AddressRef{{Type: "msisdn", Address: "+27201"}}}, 1},
			{"nested path", models.IdentityFilter{Details: []models.PathFilter{{Path: []string{"lang", "code"}, Value: "eng"}}}, 1},
			{"top-level path", models.IdentityFilter{Details: []models.PathFilter{{Path: []string{"name"}, Value: "Cat"}}}, 1},
			{"optout type", models.IdentityFilter{OptOutType: models.OptOutStopAll}, 1},
			{"version", models.IdentityFilter{Version: ptr(2)}, 0},
		}
		for _, tc := range cases {
			testutil.Then(t, tc.name+" matches", func(t *testing.T) {
				items, total, err := identities.List(ctx, tc.filter)
				require.NoError(t, err)
				assert.Equal(t, tc.want, total)
				assert.Len(t, items, tc.want)
			})
		}

		testutil.Then(t, "pages are bounded but count every match", func(t *testing.T) {
			items, total, err := identities.List(ctx, models.IdentityFilter{Page: models.Page{Limit: 2, Offset: 2}})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			assert.Len(t, items, 1)
		})

		testutil.Then(t, "a zero limit returns every match", func(t *testing.T) {
			items, total, err := identities.List(ctx, models.IdentityFilter{})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			assert.Len(t, items, 3)

			all, total, err := optouts.List(ctx, models.OptOutFilter{})
			require.NoError(t, err)
			assert.Len(t, all, total)
			assert.NotZero(t, total)
		})
	})

	testutil.Given(t, "an identity with references and opt-outs", func(t *testing.T) {
		reset(t)
		target := newIdentity(t, map[string]any{}, nil)
		linked := newIdentity(t, map[string]any{}, nil)
		linked.CommunicateThrough = &target.ID
		linked.Operator = &target.ID
		require.NoError(t, identities.Update(ctx, linked))
		require.NoError(t, optouts.Create(ctx, &models.OptOut{
			ID:            id.NewOptOutID(),
			Identity:      &target.ID,
			OptOutType:    models.OptOutForget,
			RequestSource: "web",
			CreatedAt:     now,
		}))

		testutil.When(t, "the target is deleted", func(t *testing.T) {
			require.NoError(t, identities.Delete(ctx, target.ID))

			testutil.Then(t, "references and opt-outs are detached", func(t *testing.T) {
				got, err := identities.FindByID(ctx, linked.ID)
				require.NoError(t, err)
				assert.Nil(t, got.CommunicateThrough)
				assert.Nil(t, got.Operator)

				list, total, err := optouts.List(ctx, models.OptOutFilter{})
				require.NoError(t, err)
				require.Equal(t, 1, total)
				assert.Nil(t, list[0].Identity)
			})

			testutil.And(t, "a second delete misses", func(t *testing.T) {
				assert.ErrorIs(t, identities.Delete(ctx, target.ID), sentinel.ErrNotFound)
			})
		})
	})

	testutil.Given(t, "a unit of work that fails", func(t *testing.T) {
		reset(t)
		identity := newIdentity(t, map[string]any{"name": "Ann"}, nil)
		boom := errors.New("boom")

		err := tx.RunInTx(ctx, func(ctx context.Context) error {
			locked, err := identities.FindByIDForUpdate(ctx, identity.ID)
			require.NoError(t, err)
			locked.Details.Attributes["name"] = "changed"
			require.NoError(t, identities.Update(ctx, locked))
			require.NoError(t, optouts.Create(ctx, &models.OptOut{
				ID:            id.NewOptOutID(),
				Identity:      &identity.ID,
				OptOutType:    models.OptOutStop,
				RequestSource: "sms",
				CreatedAt:     now,
			}))
			return boom
		})

		testutil.Then(t, "nothing it wrote survives", func(t *testing.T) {
			require.ErrorIs(t, err, boom)
			got, err := identities.FindByID(ctx, identity.ID)
			require.NoError(t, err)
			assert.Equal(t, "Ann", got.Details.Attributes["name"])
			n, err := optouts.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	})

	testutil.Given(t, "a failed unit of work that created and deleted identities", func(t *testing.T) {
		reset(t)
		parent := newIdentity(t, map[string]any{"name": "Parent"}, nil)
		child := newIdentity(t, map[string]any{"name": "Child"}, nil)
		child.CommunicateThrough = &parent.ID
		require.NoError(t, identities.Update(ctx, child))
		require.NoError(t, optouts.Create(ctx, &models.OptOut{
			ID:            id.NewOptOutID(),
			Identity:      &parent.ID,
			OptOutType:    models.OptOutUnsubscribe,
			RequestSource: "sms",
			CreatedAt:     now,
		}))
		var created id.IdentityID
		boom := errors.New("boom")

		err := tx.RunInTx(ctx, func(ctx context.Context) error {
			extra, err := models.NewIdentity(id.NewIdentityID(), 1,
				models.Details{Addresses: models.AddressBook{}, Attributes: map[string]any{}}, actor, now)
			require.NoError(t, err)
			require.NoError(t, identities.Create(ctx, extra))
			created = extra.ID
			require.NoError(t, identities.Delete(ctx, parent.ID))
			return boom
		})

		testutil.Then(t, "the created identity is gone and the deleted one is back with its links", func(t *testing.T) {
			require.ErrorIs(t, err, boom)
			_, err := identities.FindByID(ctx, created)
			assert.ErrorIs(t, err, sentinel.ErrNotFound)

			_, err = identities.FindByID(ctx, parent.ID)
			require.NoError(t, err)
			got, err := identities.FindByID(ctx, child.ID)
			require.NoError(t, err)
			require.NotNil(t, got.CommunicateThrough)
			assert.Equal(t, parent.ID, *got.CommunicateThrough)

			linked, total, err := optouts.List(ctx, models.OptOutFilter{Identity: &parent.ID})
			require.NoError(t, err)
			assert.Equal(t, 1, total)
			assert.Len(t, linked, 1)
		})
	})

	testutil.Given(t, "writes made outside a unit of work that later fails", func(t *testing.T) {
		reset(t)
		doomed := newIdentity(t, map[string]any{"name": "Doomed"}, nil)
		locked := newIdentity(t, map[string]any{"name": "Locked"}, nil)
		started := make(chan struct{})
		proceed := make(chan struct{})
		boom := errors.New("boom")

		done := make(chan error, 1)
		go func() {
			done <- tx.RunInTx(ctx, func(ctx context.Context) error {
				current, err := identities.FindByIDForUpdate(ctx, locked.ID)
				if err != nil {
					return err
				}
				current.Details.Attributes["name"] = "changed"
				if err := identities.Update(ctx, current); err != nil {
					return err
				}
				close(started)
				<-proceed
				return boom
			})
		}()

		<-started
		outside := newIdentity(t, map[string]any{"name": "Outside"}, nil)
		require.NoError(t, identities.Delete(ctx, doomed.ID))
		close(proceed)
		require.ErrorIs(t, <-done, boom)

		testutil.Then(t, "they survive the rollback", func(t *testing.T) {
			got, err := identities.FindByID(ctx, outside.ID)
			require.NoError(t, err, "identity created outside the failed unit of work was lost")
			assert.Equal(t, "Outside", got.Details.Attributes["name"])

			_, err = identities.FindByID(ctx, doomed.ID)
			assert.ErrorIs(t, err, sentinel.ErrNotFound, "identity deleted outside the failed unit of work came back")

			again, err := identities.FindByID(ctx, locked.ID)
			require.NoError(t, err)
			assert.Equal(t, "Locked", again.Details.Attributes["name"])
		})
	})
}

func ptr[T any](v T) *T { return &v }
