package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "identitystore/pkg/domain-errors"
)

// Typed identifiers keep identity, opt-out, webhook and user references from
// being swapped at call sites. All of them are UUIDs on the wire.
type (
	IdentityID uuid.UUID
	OptOutID   uuid.UUID
	WebhookID  uuid.UUID
	UserID     uuid.UUID
)

func NewIdentityID() IdentityID { return IdentityID(uuid.New()) }
func NewOptOutID() OptOutID     { return OptOutID(uuid.New()) }
func NewWebhookID() WebhookID   { return WebhookID(uuid.New()) }

func (i IdentityID) String() string { return uuid.UUID(i).String() }
func (i IdentityID) IsNil() bool    { return uuid.UUID(i) == uuid.Nil }
func (i OptOutID) String() string   { return uuid.UUID(i).String() }
func (i OptOutID) IsNil() bool      { return uuid.UUID(i) == uuid.Nil }
func (i WebhookID) String() string  { return uuid.UUID(i).String() }
func (i WebhookID) IsNil() bool     { return uuid.UUID(i) == uuid.Nil }
func (i UserID) String() string     { return uuid.UUID(i).String() }
func (i UserID) IsNil() bool        { return uuid.UUID(i) == uuid.Nil }

func (i IdentityID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }
func (i OptOutID) MarshalText() ([]byte, error)   { return uuid.UUID(i).MarshalText() }
func (i WebhookID) MarshalText() ([]byte, error)  { return uuid.UUID(i).MarshalText() }
func (i UserID) MarshalText() ([]byte, error)     { return uuid.UUID(i).MarshalText() }

func (i *IdentityID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(i), b) }
func (i *OptOutID) UnmarshalText(b []byte) error   { return unmarshalID((*uuid.UUID)(i), b) }
func (i *WebhookID) UnmarshalText(b []byte) error  { return unmarshalID((*uuid.UUID)(i), b) }
func (i *UserID) UnmarshalText(b []byte) error     { return unmarshalID((*uuid.UUID)(i), b) }

func ParseIdentityID(s string) (IdentityID, error) {
	u, err := parseUUID(s, "identity")
	return IdentityID(u), err
}

func ParseOptOutID(s string) (OptOutID, error) {
	u, err := parseUUID(s, "optout")
	return OptOutID(u), err
}

func ParseWebhookID(s string) (WebhookID, error) {
	u, err := parseUUID(s, "webhook")
	return WebhookID(u), err
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user")
	return UserID(u), err
}

// parseUUID is the single trust-boundary parser: IDs must be non-empty,
// well-formed and non-nil.
func parseUUID(s, kind string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is required")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind+" id")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind+" id")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind+" id")
	}
	return u, nil
}

func unmarshalID(dst *uuid.UUID, b []byte) error {
	if len(b) == 0 {
		*dst = uuid.Nil
		return nil
	}
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid id")
	}
	*dst = u
	return nil
}
