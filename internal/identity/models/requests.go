package models

import (
	"bytes"
	"encoding/json"

	id "identitystore/pkg/domain"
	dErrors "identitystore/pkg/domain-errors"
	"identitystore/pkg/platform/validation"
)

// IdentityRef is an optional, nullable identity reference in an update body:
// absent leaves the field alone, null clears it.
type IdentityRef struct {
	Set   bool
	Value *id.IdentityID
}

func (r *IdentityRef) UnmarshalJSON(b []byte) error {
	r.Set = true
	if bytes.Equal(b, []byte("null")) {
		r.Value = nil
		return nil
	}
	var v id.IdentityID
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	r.Value = &v
	return nil
}

// CreateIdentityRequest is the body of POST /identities/.
type CreateIdentityRequest struct {
	Version            int            `json:"version" validate:"gte=0"`
	Details            *Details       `json:"details" validate:"required"`
	CommunicateThrough *id.IdentityID `json:"communicate_through"`
	Operator           *id.IdentityID `json:"operator"`
}

func (r *CreateIdentityRequest) Validate() error {
	return validation.Struct(r)
}

// UpdateIdentityRequest is the body of PUT and PATCH /identities/{id}/.
// PUT requires details; PATCH only touches the fields present.
type UpdateIdentityRequest struct {
	Version            *int        `json:"version" validate:"omitempty,gte=1"`
	Details            *Details    `json:"details"`
	CommunicateThrough IdentityRef `json:"communicate_through"`
	Operator           IdentityRef `json:"operator"`
}

func (r *UpdateIdentityRequest) Validate(partial bool) error {
	if err := validation.Struct(r); err != nil {
		return err
	}
	if !partial && r.Details == nil {
		return dErrors.New(dErrors.CodeValidation, "details: this field is required")
	}
	return nil
}

// CreateOptOutRequest is the body of POST /optout/. Either Identity or the
// (AddressType, Address) pair locates the identity.
type CreateOptOutRequest struct {
	Identity          *id.IdentityID `json:"identity"`
	OptOutType        OptOutType     `json:"optout_type" validate:"required,oneof=stop stopall unsubscribe forget"`
	AddressType       string         `json:"address_type" validate:"required_without=Identity,max=50"`
	Address           string         `json:"address" validate:"required_without=Identity,max=255"`
	RequestSource     string         `json:"request_source" validate:"required,max=100"`
	RequestorSourceID string         `json:"requestor_source_id" validate:"max=100"`
	Reason            string         `json:"reason" validate:"max=200"`
}

func (r *CreateOptOutRequest) Validate() error {
	if err := validation.Struct(r); err != nil {
		return err
	}
	if r.OptOutType == OptOutStop && (r.AddressType == "" || r.Address == "") {
		return dErrors.New(dErrors.CodeValidation, "address_type and address are required for a stop optout")
	}
	return nil
}
