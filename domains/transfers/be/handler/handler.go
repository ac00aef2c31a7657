package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsgate-labs/backoffice-core/domains/transfers/be/service"
	"github.com/opsgate-labs/backoffice-core/platform/go/auth"
	"github.com/opsgate-labs/backoffice-core/platform/go/respond"
)

// Handler exposes the ownership transfer operations over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("transfers service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// MountOrganizationRoutes registers the routes nested under an organization.
func (h *Handler) MountOrganizationRoutes(r chi.Router) {
	r.Post("/orgs/{orgID}/transfers", h.initiate)
	r.Get("/orgs/{orgID}/transfers", h.list)
}

// MountTransferRoutes registers the routes addressed by transfer id.
func (h *Handler) MountTransferRoutes(r chi.Router) {
	r.Get("/transfers/{transferID}", h.get)
	r.Post("/transfers/{transferID}/cancel", h.cancel)
	r.Post("/transfers/{transferID}/accept", h.accept)
}

type initiateRequest struct {
	NewOwnerID uuid.UUID `json:"newOwnerId"`
	Reason     *string   `json:"reason,omitempty"`
}

type transferResponse struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organizationId"`
	FromUserID     uuid.UUID  `json:"fromUserId"`
	ToUserID       uuid.UUID  `json:"toUserId"`
	Reason         *string    `json:"reason,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

func toResponse(t service.Transfer) transferResponse {
	return transferResponse{
		ID:             t.ID,
		OrganizationID: t.OrganizationID,
		FromUserID:     t.FromUserID,
		ToUserID:       t.ToUserID,
		Reason:         t.Reason,
		Status:         string(t.Status),
		CreatedAt:      t.CreatedAt,
		ExpiresAt:      t.ExpiresAt,
		ResolvedAt:     t.ResolvedAt,
	}
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "authentication required")
		return
	}
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "invalid organization id")
		return
	}

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "malformed request body")
		return
	}
	if req.NewOwnerID == uuid.Nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "newOwnerId is required")
		return
	}

	t, err := h.svc.Initiate(r.Context(), orgID, req.NewOwnerID, identity.UserID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, http.StatusCreated, toResponse(t))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "authentication required")
		return
	}
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "invalid organization id")
		return
	}

	transfers, err := h.svc.List(r.Context(), orgID, identity.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]transferResponse, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, toResponse(t))
	}
	respond.OK(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "authentication required")
		return
	}
	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "invalid transfer id")
		return
	}

	t, err := h.svc.Get(r.Context(), transferID, identity.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, http.StatusOK, toResponse(t))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "authentication required")
		return
	}
	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "invalid transfer id")
		return
	}

	t, err := h.svc.Cancel(r.Context(), transferID, identity.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, http.StatusOK, toResponse(t))
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "authentication required")
		return
	}
	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "invalid transfer id")
		return
	}

	t, err := h.svc.Accept(r.Context(), transferID, identity.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, http.StatusOK, toResponse(t))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		respond.Error(w, http.StatusNotFound, respond.CodeNotFound, "transfer or organization not found")
	case errors.Is(err, service.ErrUnauthorized):
		respond.Error(w, http.StatusForbidden, respond.CodeUnauthorized, "caller role insufficient")
	case errors.Is(err, service.ErrOrganizationDeleted):
		respond.Error(w, http.StatusConflict, respond.CodeOrganizationDeleted, "organization is deleted")
	case errors.Is(err, service.ErrAlreadyPending):
		respond.Error(w, http.StatusConflict, respond.CodeTransferAlreadyPending, "a transfer is already pending for this organization")
	case errors.Is(err, service.ErrExpired):
		respond.Error(w, http.StatusConflict, respond.CodeTransferExpired, "transfer has expired")
	case errors.Is(err, service.ErrNotIntendedRecipient):
		respond.Error(w, http.StatusForbidden, respond.CodeNotIntendedRecipient, "only the designated recipient can accept")
	case errors.Is(err, service.ErrInvalidState):
		respond.Error(w, http.StatusConflict, respond.CodeInvalidState, "transfer is not pending")
	default:
		h.logger.Error("transfer request failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, respond.CodeInternal, "internal error")
	}
}
