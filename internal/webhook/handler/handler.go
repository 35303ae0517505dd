package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"identitystore/internal/webhook/models"
	id "identitystore/pkg/domain"
	dErrors "identitystore/pkg/domain-errors"
	"identitystore/pkg/platform/httputil"
	"identitystore/pkg/requestcontext"
)

// Service defines the interface for webhook subscription operations.
type Service interface {
	Create(ctx context.Context, req *models.Request) (*models.Webhook, error)
	Get(ctx context.Context, webhookID id.WebhookID) (*models.Webhook, error)
	Update(ctx context.Context, webhookID id.WebhookID, req *models.Request) (*models.Webhook, error)
	Delete(ctx context.Context, webhookID id.WebhookID) error
	List(ctx context.Context) ([]*models.Webhook, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the webhook routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/webhook/", h.handleList)
	r.Post("/webhook/", h.handleCreate)
	r.Get("/webhook/{id}/", h.handleGet)
	r.Put("/webhook/{id}/", h.handleUpdate)
	r.Delete("/webhook/{id}/", h.handleDelete)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, r, "failed to list webhooks", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewListResponse(r, len(hooks), 0, 0, hooks))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.Request
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "invalid webhook request", err)
		return
	}
	hook, err := h.service.Create(r.Context(), &req)
	if err != nil {
		h.fail(w, r, "failed to create webhook", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, hook)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	webhookID, err := id.ParseWebhookID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "invalid webhook id", dErrors.New(dErrors.CodeNotFound, "webhook not found"))
		return
	}
	hook, err := h.service.Get(r.Context(), webhookID)
	if err != nil {
		h.fail(w, r, "failed to get webhook", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, hook)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	webhookID, err := id.ParseWebhookID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "invalid webhook id", dErrors.New(dErrors.CodeNotFound, "webhook not found"))
		return
	}
	var req models.Request
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "invalid webhook request", err)
		return
	}
	hook, err := h.service.Update(r.Context(), webhookID, &req)
	if err != nil {
		h.fail(w, r, "failed to update webhook", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, hook)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	webhookID, err := id.ParseWebhookID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "invalid webhook id", dErrors.New(dErrors.CodeNotFound, "webhook not found"))
		return
	}
	if err := h.service.Delete(r.Context(), webhookID); err != nil {
		h.fail(w, r, "failed to delete webhook", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	if de, ok := dErrors.As(err); !ok || de.Code == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "error", err, "request_id", requestcontext.RequestID(ctx))
	} else {
		h.logger.WarnContext(ctx, msg, "error", err, "request_id", requestcontext.RequestID(ctx))
	}
	httputil.WriteError(w, err)
}
