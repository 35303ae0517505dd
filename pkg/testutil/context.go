package testutil

import (
	"net/http"
	"time"

	id "identitystore/pkg/domain"
	"identitystore/pkg/requestcontext"
)

// WithUser sets the authenticated user on the request, as RequireAuth would.
func WithUser(req *http.Request, userID id.UserID) *http.Request {
	return req.WithContext(requestcontext.WithUserID(req.Context(), userID))
}

// WithTime pins the request clock so audit timestamps are deterministic.
func WithTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}

// WithBearer sets an Authorization header carrying token.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
