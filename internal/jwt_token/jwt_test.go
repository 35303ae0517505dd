package jwttoken

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "identitystore/pkg/domain"
	dErrors "identitystore/pkg/domain-errors"
)

var (
	jwtService = NewJWTService("test-signing-key", "test-issuer", "test-audience")
	userID     = id.UserID(uuid.New())
)

func TestValidateToken(t *testing.T) {
	t.Run("round trips the user id", func(t *testing.T) {
		token, err := jwtService.GenerateAccessToken(userID, time.Hour)
		require.NoError(t, err)

		claims, err := jwtService.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, userID.String(), claims.UserID)
		assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := jwtService.ValidateToken("invalid-token-string")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("rejects expired tokens", func(t *testing.T) {
		token, err := jwtService.GenerateAccessToken(userID, -time.Hour)
		require.NoError(t, err)

		_, err = jwtService.ValidateToken(token)
		require.Error(t, err)
		de, ok := dErrors.As(err)
		require.True(t, ok)
		assert.Equal(t, "token has expired", de.Message)
	})

	t.Run("rejects tokens signed with another key", func(t *testing.T) {
		other := NewJWTService("another-key", "test-issuer", "test-audience")
		token, err := other.GenerateAccessToken(userID, time.Hour)
		require.NoError(t, err)

		_, err = jwtService.ValidateToken(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("rejects tokens for another audience", func(t *testing.T) {
		other := NewJWTService("test-signing-key", "test-issuer", "someone-else")
		token, err := other.GenerateAccessToken(userID, time.Hour)
		require.NoError(t, err)

		_, err = jwtService.ValidateToken(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func TestAdapter(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(userID, time.Hour)
	require.NoError(t, err)

	claims, err := NewJWTServiceAdapter(jwtService).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.NotEmpty(t, claims.TokenID)
}
