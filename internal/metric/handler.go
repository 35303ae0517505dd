package metric

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	dErrors "identitystore/pkg/domain-errors"
	"identitystore/pkg/platform/httputil"
	"identitystore/pkg/requestcontext"
)

type Handler struct {
	available []string
	trigger   Trigger
	logger    *slog.Logger
}

func NewHandler(addressTypes []string, trigger Trigger, logger *slog.Logger) *Handler {
	return &Handler{available: Available(addressTypes), trigger: trigger, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/metrics/", h.handleList)
	r.Post("/metrics/", h.handleTrigger)
}

func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string][]string{"metrics_available": h.available})
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.trigger.TriggerScheduled(ctx); err != nil {
		h.logger.ErrorContext(ctx, "failed to schedule metrics",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to schedule metrics"))
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]bool{"scheduled_metrics_initiated": true})
}
