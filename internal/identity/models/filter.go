package models

import (
	"net/url"
	"strconv"
	"strings"

	id "identitystore/pkg/domain"
	dErrors "identitystore/pkg/domain-errors"
)

const (
	detailsPrefix = "details__"
	pathSep       = "__"

	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// AddressRef names one address of one type.
type AddressRef struct {
	Type    string
	Address string
}

// PathFilter matches when the text value at Path in details equals Value.
type PathFilter struct {
	Path  []string
	Value string
}

// Page selects a window of a list. A Limit of zero or less means no limit.
type Page struct {
	Limit  int
	Offset int
}

// IdentityFilter is the parsed form of the identity list/search query string.
//
//	details__addresses__msisdn=+27123   address key containment
//	details__name=foo                   path equality on details
//	version=1                           schema version equality
//	optout_type=stop                    identities with an opt-out of that kind
type IdentityFilter struct {
	Addresses  []AddressRef
	Details    []PathFilter
	Version    *int
	OptOutType OptOutType
	Page
}

// ParseIdentityFilter builds a filter from query parameters. Unknown
// parameters are ignored.
func ParseIdentityFilter(q url.Values) (IdentityFilter, error) {
	var f IdentityFilter
	for key, values := range q {
		if len(values) == 0 {
			continue
		}
		value := values[0]
		switch {
		case strings.HasPrefix(key, detailsPrefix):
			path := strings.Split(strings.TrimPrefix(key, detailsPrefix), pathSep)
			for _, seg := range path {
				if seg == "" {
					return f, dErrors.New(dErrors.CodeValidation, "invalid details filter: "+key)
				}
			}
			if len(path) == 2 && path[0] == keyAddresses {
				f.Addresses = append(f.Addresses, AddressRef{Type: path[1], Address: value})
				continue
			}
			f.Details = append(f.Details, PathFilter{Path: path, Value: value})
		case key == "version":
			v, err := strconv.Atoi(value)
			if err != nil {
				return f, dErrors.New(dErrors.CodeValidation, "version must be an integer")
			}
			f.Version = &v
		case key == "optout_type":
			t := OptOutType(value)
			if !t.IsValid() {
				return f, dErrors.New(dErrors.CodeValidation, "unknown optout_type: "+value)
			}
			f.OptOutType = t
		}
	}
	page, err := ParsePage(q)
	if err != nil {
		return f, err
	}
	f.Page = page
	return f, nil
}

// ParsePage reads limit/offset with defaults and bounds.
func ParsePage(q url.Values) (Page, error) {
	p := Page{Limit: DefaultPageSize}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer")
		}
		p.Limit = min(n, MaxPageSize)
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, dErrors.New(dErrors.CodeValidation, "offset must be a non-negative integer")
		}
		p.Offset = n
	}
	return p, nil
}

// MatchesRecord applies every filter except OptOutType, which needs the
// opt-out table and is evaluated by stores.
func (f IdentityFilter) MatchesRecord(i *Identity) bool {
	if f.Version != nil && i.Version != *f.Version {
		return false
	}
	for _, ref := range f.Addresses {
		if !i.Details.Addresses.Has(ref.Type, ref.Address) {
			return false
		}
	}
	for _, pf := range f.Details {
		got, ok := i.Details.Lookup(pf.Path)
		if !ok || got != pf.Value {
			return false
		}
	}
	return true
}

// OptOutFilter narrows GET /optouts/.
type OptOutFilter struct {
	Identity      *id.IdentityID
	OptOutType    OptOutType
	RequestSource string
	Page
}

func ParseOptOutFilter(q url.Values) (OptOutFilter, error) {
	var f OptOutFilter
	if raw := q.Get("identity"); raw != "" {
		identityID, err := id.ParseIdentityID(raw)
		if err != nil {
			return f, err
		}
		f.Identity = &identityID
	}
	if raw := q.Get("optout_type"); raw != "" {
		t := OptOutType(raw)
		if !t.IsValid() {
			return f, dErrors.New(dErrors.CodeValidation, "unknown optout_type: "+raw)
		}
		f.OptOutType = t
	}
	f.RequestSource = q.Get("request_source")
	page, err := ParsePage(q)
	if err != nil {
		return f, err
	}
	f.Page = page
	return f, nil
}

func (f OptOutFilter) Matches(o *OptOut) bool {
	if f.Identity != nil && (o.Identity == nil || *o.Identity != *f.Identity) {
		return false
	}
	if f.OptOutType != "" && o.OptOutType != f.OptOutType {
		return false
	}
	if f.RequestSource != "" && o.RequestSource != f.RequestSource {
		return false
	}
	return true
}
