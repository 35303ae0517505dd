package models

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "identitystore/pkg/domain-errors"
)

func TestParseIdentityFilter(t *testing.T) {
	q := url.Values{}
	q.Set("details__addresses__msisdn", "+27123")
	q.Set("details__personal__lang", "eng_ZA")
	q.Set("version", "2")
	q.Set("optout_type", "stop")
	q.Set("limit", "5000")
	q.Set("unrelated", "x")

	f, err := ParseIdentityFilter(q)
	require.NoError(t, err)

	assert.Equal(t, []AddressRef{{Type: "msisdn", Address: "+27123"}}, f.Addresses)
	assert.Equal(t, []PathFilter{{Path: []string{"personal", "lang"}, Value: "eng_ZA"}}, f.Details)
	require.NotNil(t, f.Version)
	assert.Equal(t, 2, *f.Version)
	assert.Equal(t, OptOutStop, f.OptOutType)
	assert.Equal(t, MaxPageSize, f.Limit)
}

func TestParseIdentityFilter_Rejects(t *testing.T) {
	for _, q := range []url.Values{
		{"version": {"one"}},
		{"optout_type": {"pause"}},
		{"details__": {"x"}},
		{"limit": {"0"}},
		{"offset": {"-1"}},
	} {
		_, err := ParseIdentityFilter(q)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "query %v", q)
	}
}

func TestIdentityFilter_MatchesRecord(t *testing.T) {
	identity := newTestIdentity(t, mixedAddresses)

	match := func(raw string) bool {
		q, err := url.ParseQuery(raw)
		require.NoError(t, err)
		f, err := ParseIdentityFilter(q)
		require.NoError(t, err)
		return f.MatchesRecord(identity)
	}

	assert.True(t, match("details__addresses__msisdn=%2B27123"))
	assert.True(t, match("details__addresses__email=foo2@bar.com"))
	assert.False(t, match("details__addresses__email=%2B27123"))
	assert.True(t, match("details__name=Jane"))
	assert.False(t, match("details__name=John"))
	assert.True(t, match("version=1"))
	assert.False(t, match("version=2"))
	assert.True(t, match("details__default_addr_type=msisdn&version=1"))
}
