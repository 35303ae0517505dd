package models

import (
	"encoding/json"
	"sort"
)

// AddressMeta is the metadata attached to one address value. Absent flags are false.
type AddressMeta struct {
	Default  bool `json:"default,omitempty"`
	OptedOut bool `json:"optedout,omitempty"`
}

// UnmarshalJSON keeps only the recognised boolean flags; other keys and
// non-boolean values are dropped.
func (m *AddressMeta) UnmarshalJSON(b []byte) error {
	*m = AddressMeta{}
	if string(b) == "null" {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.Default = rawBool(raw["default"])
	m.OptedOut = rawBool(raw["optedout"])
	return nil
}

func rawBool(raw json.RawMessage) bool {
	var v bool
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return false
	}
	return v
}

// AddressBook maps address type → address value → metadata.
type AddressBook map[string]map[string]AddressMeta

// Has reports whether value is a key under addrType, regardless of its flags.
func (b AddressBook) Has(addrType, value string) bool {
	_, ok := b[addrType][value]
	return ok
}

// Set stores meta for (addrType, value), creating the type mapping when needed.
func (b AddressBook) Set(addrType, value string, meta AddressMeta) {
	if b[addrType] == nil {
		b[addrType] = make(map[string]AddressMeta)
	}
	b[addrType][value] = meta
}

// OptOut flags a single address. It reports false when the address is not on record.
func (b AddressBook) OptOut(addrType, value string) bool {
	meta, ok := b[addrType][value]
	if !ok {
		return false
	}
	meta.OptedOut = true
	b[addrType][value] = meta
	return true
}

// OptOutAll flags every address of every type, keeping other flags.
func (b AddressBook) OptOutAll() {
	for addrType, values := range b {
		for value, meta := range values {
			meta.OptedOut = true
			b[addrType][value] = meta
		}
	}
}

// Available returns the addresses of addrType that are not opted out, sorted.
//
// With defaultOnly, the default address is chosen first (the sole address
// stands in when none is flagged) and only then are opted-out addresses
// dropped, so an opted-out default yields nothing.
func (b AddressBook) Available(addrType string, defaultOnly bool) []string {
	values := b[addrType]
	candidates := make([]string, 0, len(values))
	if defaultOnly {
		for value, meta := range values {
			if meta.Default {
				candidates = append(candidates, value)
			}
		}
		if len(candidates) == 0 && len(values) == 1 {
			for value := range values {
				candidates = append(candidates, value)
			}
		}
	} else {
		for value := range values {
			candidates = append(candidates, value)
		}
	}

	found := make([]string, 0, len(candidates))
	for _, value := range candidates {
		if !values[value].OptedOut {
			found = append(found, value)
		}
	}
	sort.Strings(found)
	return found
}

// Types returns the address types on record, sorted.
func (b AddressBook) Types() []string {
	types := make([]string, 0, len(b))
	for addrType := range b {
		types = append(types, addrType)
	}
	sort.Strings(types)
	return types
}

// Clone returns a deep copy.
func (b AddressBook) Clone() AddressBook {
	if b == nil {
		return nil
	}
	out := make(AddressBook, len(b))
	for addrType, values := range b {
		copied := make(map[string]AddressMeta, len(values))
		for value, meta := range values {
			copied[value] = meta
		}
		out[addrType] = copied
	}
	return out
}

// ChangedTypes lists the address types whose set of address values differs
// between before and after, sorted.
func ChangedTypes(before, after AddressBook) []string {
	seen := make(map[string]struct{})
	var changed []string
	check := func(addrType string) {
		if _, ok := seen[addrType]; ok {
			return
		}
		seen[addrType] = struct{}{}
		if !sameKeys(before[addrType], after[addrType]) {
			changed = append(changed, addrType)
		}
	}
	for addrType := range before {
		check(addrType)
	}
	for addrType := range after {
		check(addrType)
	}
	sort.Strings(changed)
	return changed
}

func sameKeys(a, b map[string]AddressMeta) bool {
	if len(a) != len(b) {
		return false
	}
	for value := range a {
		if _, ok := b[value]; !ok {
			return false
		}
	}
	return true
}
