package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"identitystore/internal/identity/models"
	id "identitystore/pkg/domain"
	dErrors "identitystore/pkg/domain-errors"
	"identitystore/pkg/platform/httputil"
	"identitystore/pkg/requestcontext"
)

// Service defines the identity and opt-out operations the HTTP layer needs.
type Service interface {
	CreateIdentity(ctx context.Context, req *models.CreateIdentityRequest) (*models.Identity, error)
	GetIdentity(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	UpdateIdentity(ctx context.Context, identityID id.IdentityID, req *models.UpdateIdentityRequest, partial bool) (*models.Identity, error)
	DeleteIdentity(ctx context.Context, identityID id.IdentityID) error
	ListIdentities(ctx context.Context, filter models.IdentityFilter) ([]*models.Identity, int, error)
	Addresses(ctx context.Context, identityID id.IdentityID, addrType string, defaultOnly, useCommunicateThrough bool) ([]string, error)
	CreateOptOut(ctx context.Context, req *models.CreateOptOutRequest) (*models.OptOut, error)
	ListOptOuts(ctx context.Context, filter models.OptOutFilter) ([]*models.OptOut, int, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the identity and opt-out routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/identities", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/search/", h.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Put("/", h.handleUpdate(false))
			r.Patch("/", h.handleUpdate(true))
			r.Delete("/", h.handleDelete)
			r.Get("/addresses/{address_type}", h.handleAddresses)
			r.Get("/addresses/{address_type}/", h.handleAddresses)
		})
	})
	r.Post("/optout/", h.handleCreateOptOut)
	r.Get("/optouts/", h.handleListOptOuts)
}

// AddressResult is one entry of the addresses listing.
type AddressResult struct {
	Address string `json:"address"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := models.ParseIdentityFilter(r.URL.Query())
	if err != nil {
		h.fail(w, r, "invalid identity filter", err)
		return
	}
	identities, total, err := h.service.ListIdentities(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "failed to list identities", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK,
		httputil.NewListResponse(r, total, filter.Limit, filter.Offset, identities))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreateIdentityRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "invalid identity request", err)
		return
	}
	identity, err := h.service.CreateIdentity(r.Context(), &req)
	if err != nil {
		h.fail(w, r, "failed to create identity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, identity)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	identityID, ok := h.identityID(w, r)
	if !ok {
		return
	}
	identity, err := h.service.GetIdentity(r.Context(), identityID)
	if err != nil {
		h.fail(w, r, "failed to get identity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, identity)
}

func (h *Handler) handleUpdate(partial bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identityID, ok := h.identityID(w, r)
		if !ok {
			return
		}
		var req models.UpdateIdentityRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			h.fail(w, r, "invalid identity request", err)
			return
		}
		identity, err := h.service.UpdateIdentity(r.Context(), identityID, &req, partial)
		if err != nil {
			h.fail(w, r, "failed to update identity", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, identity)
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	identityID, ok := h.identityID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteIdentity(r.Context(), identityID); err != nil {
		h.fail(w, r, "failed to delete identity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAddresses(w http.ResponseWriter, r *http.Request) {
	identityID, ok := h.identityID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	addresses, err := h.service.Addresses(r.Context(), identityID,
		chi.URLParam(r, "address_type"),
		flag(q.Get("default")),
		flag(q.Get("use_communicate_through")),
	)
	if err != nil {
		h.fail(w, r, "failed to list addresses", err)
		return
	}
	results := make([]AddressResult, 0, len(addresses))
	for _, a := range addresses {
		results = append(results, AddressResult{Address: a})
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewListResponse(r, len(results), 0, 0, results))
}

func (h *Handler) handleCreateOptOut(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOptOutRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "invalid optout request", err)
		return
	}
	optout, err := h.service.CreateOptOut(r.Context(), &req)
	if err != nil {
		h.fail(w, r, "failed to create optout", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, optout)
}

func (h *Handler) handleListOptOuts(w http.ResponseWriter, r *http.Request) {
	filter, err := models.ParseOptOutFilter(r.URL.Query())
	if err != nil {
		h.fail(w, r, "invalid optout filter", err)
		return
	}
	optouts, total, err := h.service.ListOptOuts(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "failed to list optouts", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK,
		httputil.NewListResponse(r, total, filter.Limit, filter.Offset, optouts))
}

// identityID parses the {id} path segment. A malformed id names no identity.
func (h *Handler) identityID(w http.ResponseWriter, r *http.Request) (id.IdentityID, bool) {
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "invalid identity id", dErrors.New(dErrors.CodeNotFound, "identity not found"))
		return id.IdentityID{}, false
	}
	return identityID, true
}

func flag(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
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
