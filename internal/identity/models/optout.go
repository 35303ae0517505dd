package models

import (
	"time"

	id "identitystore/pkg/domain"
)

// OptOutType scopes an opt-out request.
type OptOutType string

const (
	OptOutStop        OptOutType = "stop"
	OptOutStopAll     OptOutType = "stopall"
	OptOutUnsubscribe OptOutType = "unsubscribe"
	OptOutForget      OptOutType = "forget"
)

// OptOutTypes lists every accepted kind in a stable order.
var OptOutTypes = []OptOutType{OptOutStop, OptOutStopAll, OptOutUnsubscribe, OptOutForget}

func (t OptOutType) IsValid() bool {
	switch t {
	case OptOutStop, OptOutStopAll, OptOutUnsubscribe, OptOutForget:
		return true
	}
	return false
}

func (t OptOutType) String() string { return string(t) }

// OptOut records a request to stop contacting an identity. It is immutable
// once created and is never stored without a resolved identity.
type OptOut struct {
	ID                id.OptOutID    `json:"id"`
	Identity          *id.IdentityID `json:"identity"`
	OptOutType        OptOutType     `json:"optout_type"`
	AddressType       string         `json:"address_type"`
	Address           string         `json:"address"`
	RequestSource     string         `json:"request_source"`
	RequestorSourceID string         `json:"requestor_source_id"`
	Reason            string         `json:"reason"`
	CreatedAt         time.Time      `json:"created_at"`
	CreatedBy         *id.UserID     `json:"created_by"`
}
