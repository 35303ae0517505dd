// Package metric names, records and schedules the service's business
// metrics. Realtime metrics are ".sum" counters fired on mutations;
// scheduled metrics are ".last" gauges computed from the store.
package metric

import (
	"strings"

	"identitystore/internal/identity/models"
)

const (
	IdentitiesCreated = "identities.created.sum"
	IdentitiesTotal   = "identities.total.last"
	OptOutsTotal      = "optouts.total.last"

	sumSuffix  = ".sum"
	lastSuffix = ".last"
)

// OptOutCreated names the counter for opt-outs of kind.
func OptOutCreated(kind models.OptOutType) string {
	return "optout." + string(kind) + sumSuffix
}

// AddressChanged names the counter for address additions or removals under addrType.
func AddressChanged(addrType string) string {
	return "identities.change." + addrType + sumSuffix
}

// Available lists every metric name the service can emit, realtime first.
func Available(addressTypes []string) []string {
	names := []string{IdentitiesCreated}
	for _, kind := range models.OptOutTypes {
		names = append(names, OptOutCreated(kind))
	}
	for _, addrType := range addressTypes {
		names = append(names, AddressChanged(addrType))
	}
	return append(names, IdentitiesTotal, OptOutsTotal)
}

// IsScheduled reports whether name is a last-value metric.
func IsScheduled(name string) bool {
	return strings.HasSuffix(name, lastSuffix)
}
