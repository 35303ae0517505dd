package store

import (
	"context"
	"fmt"
	"sync"

	"identitystore/internal/identity/models"
	id "identitystore/pkg/domain"
	"identitystore/pkg/platform/sentinel"
)

// InMemory keeps identities and opt-outs in maps guarded by a RWMutex. A
// second mutex serialises units of work. Writes made inside a unit of work
// record how to undo themselves; a failed unit of work replays that log and
// leaves writes made outside it alone.
type InMemory struct {
	mu         sync.RWMutex
	identities map[id.IdentityID]*models.Identity
	order      []id.IdentityID
	optouts    []*models.OptOut

	txMu sync.Mutex
}

func NewInMemory() *InMemory {
	return &InMemory{identities: make(map[id.IdentityID]*models.Identity)}
}

// Identities exposes the identity half of the store.
func (s *InMemory) Identities() *InMemoryIdentities { return &InMemoryIdentities{s} }

// OptOuts exposes the opt-out half of the store.
func (s *InMemory) OptOuts() *InMemoryOptOuts { return &InMemoryOptOuts{s} }

type memoryTxKey struct{}

type memoryTx struct {
	store *InMemory
	undo  []func()
}

// RunInTx does not nest.
func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memoryTx{store: s}
	if err := fn(context.WithValue(ctx, memoryTxKey{}, tx)); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

// journal records undo for a write made with ctx. Callers hold mu.
func (s *InMemory) journal(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx); ok && tx.store == s {
		tx.undo = append(tx.undo, undo)
	}
}

func (s *InMemory) removeFromOrder(identityID id.IdentityID) int {
	for i, existing := range s.order {
		if existing == identityID {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			return i
		}
	}
	return -1
}

// InMemoryIdentities implements the identity store over InMemory.
type InMemoryIdentities struct{ s *InMemory }

func (r *InMemoryIdentities) Create(ctx context.Context, identity *models.Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.identities[identity.ID]; ok {
		return fmt.Errorf("identity %s: %w", identity.ID, sentinel.ErrConflict)
	}
	stored := cloneIdentity(identity)
	r.s.identities[identity.ID] = stored
	r.s.order = append(r.s.order, identity.ID)
	r.s.journal(ctx, func() {
		if r.s.identities[identity.ID] == stored {
			delete(r.s.identities, identity.ID)
			r.s.removeFromOrder(identity.ID)
		}
	})
	return nil
}

func (r *InMemoryIdentities) Update(ctx context.Context, identity *models.Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.identities[identity.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	stored := cloneIdentity(identity)
	r.s.identities[identity.ID] = stored
	r.s.journal(ctx, func() {
		if r.s.identities[identity.ID] == stored {
			r.s.identities[identity.ID] = prev
		}
	})
	return nil
}

func (r *InMemoryIdentities) Delete(ctx context.Context, identityID id.IdentityID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.identities[identityID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(r.s.identities, identityID)
	position := r.s.removeFromOrder(identityID)

	// Mirror ON DELETE SET NULL on the referencing columns. Referencing rows
	// are replaced, not edited, so readers holding the old value are unaffected.
	type detachedRow struct{ before, after *models.Identity }
	var detachedRows []detachedRow
	for otherID, other := range r.s.identities {
		through := other.CommunicateThrough != nil && *other.CommunicateThrough == identityID
		operator := other.Operator != nil && *other.Operator == identityID
		if !through && !operator {
			continue
		}
		updated := cloneIdentity(other)
		if through {
			updated.CommunicateThrough = nil
		}
		if operator {
			updated.Operator = nil
		}
		r.s.identities[otherID] = updated
		detachedRows = append(detachedRows, detachedRow{other, updated})
	}
	type detachedOptOut struct{ before, after *models.OptOut }
	var detachedOptOuts []detachedOptOut
	for i, o := range r.s.optouts {
		if o.Identity != nil && *o.Identity == identityID {
			detached := *o
			detached.Identity = nil
			r.s.optouts[i] = &detached
			detachedOptOuts = append(detachedOptOuts, detachedOptOut{o, &detached})
		}
	}

	r.s.journal(ctx, func() {
		for _, row := range detachedOptOuts {
			for i, o := range r.s.optouts {
				if o == row.after {
					r.s.optouts[i] = row.before
				}
			}
		}
		for _, row := range detachedRows {
			if r.s.identities[row.before.ID] == row.after {
				r.s.identities[row.before.ID] = row.before
			}
		}
		if _, exists := r.s.identities[identityID]; exists {
			return
		}
		r.s.identities[identityID] = prev
		if position < 0 || position > len(r.s.order) {
			position = len(r.s.order)
		}
		r.s.order = append(r.s.order[:position:position], append([]id.IdentityID{identityID}, r.s.order[position:]...)...)
	})
	return nil
}

func (r *InMemoryIdentities) FindByID(_ context.Context, identityID id.IdentityID) (*models.Identity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	identity, ok := r.s.identities[identityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneIdentity(identity), nil
}

// FindByIDForUpdate is FindByID; RunInTx already serialises writers.
func (r *InMemoryIdentities) FindByIDForUpdate(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	return r.FindByID(ctx, identityID)
}

func (r *InMemoryIdentities) FindByAddress(_ context.Context, addrType, address string, limit int) ([]*models.Identity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var found []*models.Identity
	for _, identityID := range r.s.order {
		identity := r.s.identities[identityID]
		if identity.Details.Addresses.Has(addrType, address) {
			found = append(found, cloneIdentity(identity))
			if limit > 0 && len(found) >= limit {
				break
			}
		}
	}
	return found, nil
}

func (r *InMemoryIdentities) List(_ context.Context, filter models.IdentityFilter) ([]*models.Identity, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var matched []*models.Identity
	for _, identityID := range r.s.order {
		identity := r.s.identities[identityID]
		if !filter.MatchesRecord(identity) {
			continue
		}
		if filter.OptOutType != "" && !r.s.hasOptOut(identityID, filter.OptOutType) {
			continue
		}
		matched = append(matched, identity)
	}
	return pageOf(matched, filter.Page, cloneIdentity), len(matched), nil
}

func (r *InMemoryIdentities) Count(_ context.Context) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.identities), nil
}

func (s *InMemory) hasOptOut(identityID id.IdentityID, kind models.OptOutType) bool {
	for _, o := range s.optouts {
		if o.Identity != nil && *o.Identity == identityID && o.OptOutType == kind {
			return true
		}
	}
	return false
}

// InMemoryOptOuts implements the opt-out store over InMemory.
type InMemoryOptOuts struct{ s *InMemory }

func (r *InMemoryOptOuts) Create(ctx context.Context, optout *models.OptOut) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	copied := *optout
	r.s.optouts = append(r.s.optouts, &copied)
	r.s.journal(ctx, func() {
		for i, o := range r.s.optouts {
			if o == &copied {
				r.s.optouts = append(r.s.optouts[:i:i], r.s.optouts[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r *InMemoryOptOuts) List(_ context.Context, filter models.OptOutFilter) ([]*models.OptOut, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var matched []*models.OptOut
	for _, o := range r.s.optouts {
		if filter.Matches(o) {
			matched = append(matched, o)
		}
	}
	return pageOf(matched, filter.Page, func(o *models.OptOut) *models.OptOut {
		copied := *o
		return &copied
	}), len(matched), nil
}

func (r *InMemoryOptOuts) Count(_ context.Context) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.optouts), nil
}

func pageOf[T any](items []T, page models.Page, clone func(T) T) []T {
	if page.Offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	out := make([]T, 0, end-page.Offset)
	for _, item := range items[page.Offset:end] {
		out = append(out, clone(item))
	}
	return out
}

// cloneIdentity deep-copies so callers never share maps with the store.
func cloneIdentity(identity *models.Identity) *models.Identity {
	copied := *identity
	copied.Details = identity.Details.Clone()
	if identity.CommunicateThrough != nil {
		v := *identity.CommunicateThrough
		copied.CommunicateThrough = &v
	}
	if identity.Operator != nil {
		v := *identity.Operator
		copied.Operator = &v
	}
	return &copied
}
