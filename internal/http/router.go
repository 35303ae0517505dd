// Package httpapi assembles the chi router: the middleware chain, bearer
// authentication and every module's routes under /api/v1.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"identitystore/internal/platform/metrics"
	"identitystore/internal/platform/middleware"
	dErrors "identitystore/pkg/domain-errors"
	"identitystore/pkg/platform/httputil"
)

const APIPrefix = "/api/v1"

// Routes is implemented by every module handler.
type Routes interface {
	Register(r chi.Router)
}

type Deps struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	Validator      middleware.JWTValidator
	RequestTimeout time.Duration
	Handlers       []Routes
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Latency(deps.Metrics))
	r.Use(middleware.Timeout(deps.RequestTimeout))
	r.Use(middleware.ContentTypeJSON)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorResponse{
			Error:            "method_not_allowed",
			ErrorDescription: "method not allowed",
		})
	})

	r.Route(APIPrefix, func(r chi.Router) {
		r.Use(middleware.RequireAuth(deps.Validator, deps.Logger))
		for _, h := range deps.Handlers {
			h.Register(r)
		}
		if deps.Gatherer != nil {
			r.Handle("/prometheus", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
		}
	})
	return r
}
