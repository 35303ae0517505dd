// Package health reports whether the service's backing stores are reachable.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"identitystore/pkg/platform/httputil"
)

const (
	accessible    = "Accessible"
	inaccessible  = "Inaccessible"
	notConfigured = "Not configured"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Response is the body of GET /health/.
type Response struct {
	Up     bool              `json:"up"`
	Result map[string]string `json:"result"`
}

type Handler struct {
	database Check
	others   []named
	timeout  time.Duration
	logger   *slog.Logger
}

type named struct {
	name  string
	check Check
}

type Option func(*Handler)

// WithCheck adds a dependency that is reported but does not take the
// service down when it fails.
func WithCheck(name string, check Check) Option {
	return func(h *Handler) {
		h.others = append(h.others, named{name, check})
	}
}

func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.timeout = d
	}
}

// New builds the handler. A nil database check reports the database as not
// configured, which is the case for the in-memory store.
func New(database Check, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{database: database, timeout: 2 * time.Second, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health/", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := Response{Up: true, Result: map[string]string{}}
	resp.Result["database"] = h.probe(ctx, "database", h.database)
	if resp.Result["database"] == inaccessible {
		resp.Up = false
	}
	for _, n := range h.others {
		resp.Result[n.name] = h.probe(ctx, n.name, n.check)
	}

	status := http.StatusOK
	if !resp.Up {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) probe(ctx context.Context, name string, check Check) string {
	if check == nil {
		return notConfigured
	}
	if err := check(ctx); err != nil {
		h.logger.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
		return inaccessible
	}
	return accessible
}
