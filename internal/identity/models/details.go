package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

const (
	keyAddresses       = "addresses"
	keyDefaultAddrType = "default_addr_type"

	// RedactedMarker replaces every forgotten attribute value.
	RedactedMarker = "<redacted>"
)

// Details is the structured attribute document of an identity. The reserved
// keys are typed; everything else is kept as decoded JSON in Attributes, with
// numbers held as json.Number so they re-encode exactly as received.
// On the wire it is a single flat object.
//
// The reserved keys are normalised on decode: "addresses": null reads as an
// empty book, and an empty or null "default_addr_type" is treated as absent
// and is not written back.
type Details struct {
	// Addresses is nil when the document has no "addresses" key.
	Addresses       AddressBook
	DefaultAddrType string
	Attributes      map[string]any
}

func (d Details) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Attributes)+2)
	for k, v := range d.Attributes {
		out[k] = v
	}
	if d.Addresses != nil {
		out[keyAddresses] = d.Addresses
	}
	if d.DefaultAddrType != "" {
		out[keyDefaultAddrType] = d.DefaultAddrType
	}
	return json.Marshal(out)
}

func (d *Details) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("details must be an object: %w", err)
	}
	*d = Details{Attributes: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case keyAddresses:
			book := AddressBook{}
			if string(v) != "null" {
				if err := json.Unmarshal(v, &book); err != nil {
					return fmt.Errorf("addresses must map address type to address to metadata: %w", err)
				}
			}
			d.Addresses = book
		case keyDefaultAddrType:
			if err := json.Unmarshal(v, &d.DefaultAddrType); err != nil {
				return fmt.Errorf("default_addr_type must be a string: %w", err)
			}
		default:
			value, err := decodeValue(v)
			if err != nil {
				return fmt.Errorf("details.%s: %w", k, err)
			}
			d.Attributes[k] = value
		}
	}
	return nil
}

func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

// Clone returns a deep copy, used to snapshot details before mutation.
func (d Details) Clone() Details {
	out := Details{
		Addresses:       d.Addresses.Clone(),
		DefaultAddrType: d.DefaultAddrType,
	}
	if d.Attributes != nil {
		out.Attributes = make(map[string]any, len(d.Attributes))
		for k, v := range d.Attributes {
			out.Attributes[k] = cloneValue(v)
		}
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return v
	}
}

// Keys lists every top-level key present in the document, sorted.
func (d Details) Keys() []string {
	keys := make([]string, 0, len(d.Attributes)+2)
	for k := range d.Attributes {
		keys = append(keys, k)
	}
	if d.Addresses != nil {
		keys = append(keys, keyAddresses)
	}
	if d.DefaultAddrType != "" {
		keys = append(keys, keyDefaultAddrType)
	}
	sort.Strings(keys)
	return keys
}

// Lookup resolves a path of object keys and returns the value as text, the
// way Postgres' #>> operator renders it. Reserved keys are reachable too.
func (d Details) Lookup(path []string) (string, bool) {
	if len(path) == 0 {
		return "", false
	}
	var root any
	switch path[0] {
	case keyAddresses:
		if d.Addresses == nil {
			return "", false
		}
		encoded, err := json.Marshal(d.Addresses)
		if err != nil {
			return "", false
		}
		if err := json.Unmarshal(encoded, &root); err != nil {
			return "", false
		}
	case keyDefaultAddrType:
		if d.DefaultAddrType == "" {
			return "", false
		}
		root = d.DefaultAddrType
	default:
		v, ok := d.Attributes[path[0]]
		if !ok {
			return "", false
		}
		root = v
	}
	for _, key := range path[1:] {
		obj, ok := root.(map[string]any)
		if !ok {
			return "", false
		}
		if root, ok = obj[key]; !ok {
			return "", false
		}
	}
	return textValue(root)
}

func textValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(encoded), true
	}
}
