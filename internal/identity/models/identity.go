package models

import (
	"time"

	id "identitystore/pkg/domain"
	dErrors "identitystore/pkg/domain-errors"
)

// Identity is a contactable entity with its addresses and free-form attributes.
//
// Invariants:
//   - Version is at least 1
//   - an address value appears at most once per address type (map keys)
//   - opt-out flags are monotone: nothing clears OptedOut
type Identity struct {
	ID                 id.IdentityID  `json:"id"`
	Version            int            `json:"version"`
	Details            Details        `json:"details"`
	CommunicateThrough *id.IdentityID `json:"communicate_through"`
	Operator           *id.IdentityID `json:"operator"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	CreatedBy          *id.UserID     `json:"created_by"`
	UpdatedBy          *id.UserID     `json:"updated_by"`
}

// NewIdentity builds an identity stamped with creation audit fields.
func NewIdentity(identityID id.IdentityID, version int, details Details, actor id.UserID, now time.Time) (*Identity, error) {
	if version == 0 {
		version = 1
	}
	if version < 1 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "version must be a positive integer")
	}
	if details.Attributes == nil {
		details.Attributes = map[string]any{}
	}
	return &Identity{
		ID:        identityID,
		Version:   version,
		Details:   details,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: userRef(actor),
		UpdatedBy: userRef(actor),
	}, nil
}

// Touch records an update by actor.
func (i *Identity) Touch(actor id.UserID, now time.Time) {
	i.UpdatedAt = now
	i.UpdatedBy = userRef(actor)
}

// ApplyOptOut mutates the address book for an opt-out of kind. It reports
// whether the identity changed. Callers must snapshot details beforehand if
// they need the pre-opt-out state.
func (i *Identity) ApplyOptOut(kind OptOutType, addrType, address string, actor id.UserID, now time.Time) (bool, error) {
	switch kind {
	case OptOutStop:
		if !i.Details.Addresses.OptOut(addrType, address) {
			return false, dErrors.New(dErrors.CodeNotFound, "address not found on identity")
		}
	case OptOutStopAll:
		i.Details.Addresses.OptOutAll()
	case OptOutForget:
		i.Redact(actor, now)
		return true, nil
	case OptOutUnsubscribe:
		// Recorded and notified; no address book semantics are defined.
		return false, nil
	default:
		return false, dErrors.New(dErrors.CodeValidation, "unknown optout_type: "+string(kind))
	}
	i.Touch(actor, now)
	return true, nil
}

// CanApplyOptOut runs the checks ApplyOptOut would fail on, without mutating.
func (i *Identity) CanApplyOptOut(kind OptOutType, addrType, address string) error {
	if !kind.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown optout_type: "+string(kind))
	}
	if kind == OptOutStop && !i.Details.Addresses.Has(addrType, address) {
		return dErrors.New(dErrors.CodeNotFound, "address not found on identity")
	}
	return nil
}

// Redact irreversibly forgets the identity: every attribute other than
// addresses becomes RedactedMarker, addresses are emptied and the
// communicate_through link is dropped.
func (i *Identity) Redact(actor id.UserID, now time.Time) {
	for k := range i.Details.Attributes {
		i.Details.Attributes[k] = RedactedMarker
	}
	if i.Details.DefaultAddrType != "" {
		i.Details.DefaultAddrType = RedactedMarker
	}
	i.Details.Addresses = AddressBook{}
	i.CommunicateThrough = nil
	i.Touch(actor, now)
}

func userRef(u id.UserID) *id.UserID {
	if u.IsNil() {
		return nil
	}
	return &u
}
