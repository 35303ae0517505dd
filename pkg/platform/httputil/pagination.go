package httputil

import (
	"net/http"
	"net/url"
	"strconv"
)

// ListResponse is the envelope of every paginated list.
type ListResponse struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  any     `json:"results"`
}

// NewListResponse builds the envelope with absolute next/previous links that
// keep the request's other query parameters.
func NewListResponse(r *http.Request, total, limit, offset int, results any) ListResponse {
	resp := ListResponse{Count: total, Results: results}
	if limit <= 0 {
		return resp
	}
	if offset+limit < total {
		next := pageURL(r, limit, offset+limit)
		resp.Next = &next
	}
	if offset > 0 {
		prev := pageURL(r, limit, max(offset-limit, 0))
		resp.Previous = &prev
	}
	return resp
}

func pageURL(r *http.Request, limit, offset int) string {
	u := url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path}
	if r.TLS != nil {
		u.Scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		u.Scheme = proto
	}
	q := r.URL.Query()
	q.Set("limit", strconv.Itoa(limit))
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	} else {
		q.Del("offset")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
