package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsgate-labs/backoffice-core/domains/organizations/be/service"
	"github.com/opsgate-labs/backoffice-core/platform/go/auth"
	"github.com/opsgate-labs/backoffice-core/platform/go/respond"
)

// Handler exposes the tenant deletion lifecycle over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("organizations service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Mount registers the organization routes.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/orgs/{orgID}", h.get)
	r.Get("/orgs/{orgID}/members", h.members)
	r.Delete("/orgs/{orgID}", h.softDelete)
	r.Post("/orgs/{orgID}/restore", h.restore)
	r.Post("/orgs/{orgID}/purge", h.purge)
}

type softDeleteRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type purgeRequest struct {
	Confirmation string `json:"confirmation"`
}

type organizationResponse struct {
	ID                           uuid.UUID  `json:"id"`
	Name                         string     `json:"name"`
	CreatedAt                    time.Time  `json:"createdAt"`
	DeletedAt                    *time.Time `json:"deletedAt,omitempty"`
	DeletedBy                    *uuid.UUID `json:"deletedBy,omitempty"`
	DeletionReason               *string    `json:"deletionReason,omitempty"`
	PermanentDeletionScheduledAt *time.Time `json:"permanentDeletionScheduledAt,omitempty"`
}

type memberResponse struct {
	UserID    uuid.UUID `json:"userId"`
	Role      string    `json:"role"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func toResponse(o service.Organization) organizationResponse {
	return organizationResponse{
		ID:                           o.ID,
		Name:                         o.Name,
		CreatedAt:                    o.CreatedAt,
		DeletedAt:                    o.DeletedAt,
		DeletedBy:                    o.DeletedBy,
		DeletionReason:               o.DeletionReason,
		PermanentDeletionScheduledAt: o.PermanentDeletionScheduledAt,
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
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

	org, err := h.svc.Get(r.Context(), orgID, identity.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, http.StatusOK, toResponse(org))
}

func (h *Handler) members(w http.ResponseWriter, r *http.Request) {
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

	members, err := h.svc.Members(r.Context(), orgID, identity.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]memberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, memberResponse{
			UserID:    m.UserID,
			Role:      string(m.Role),
			Email:     m.Email,
			CreatedAt: m.CreatedAt,
		})
	}
	respond.OK(w, http.StatusOK, out)
}

func (h *Handler) softDelete(w http.ResponseWriter, r *http.Request) {
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

	// The body is optional; DELETE without one schedules with no reason.
	var req softDeleteRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "malformed request body")
			return
		}
	}

	org, err := h.svc.SoftDelete(r.Context(), orgID, identity.UserID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, http.StatusOK, toResponse(org))
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
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

	org, err := h.svc.Restore(r.Context(), orgID, identity.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, http.StatusOK, toResponse(org))
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
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

	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "malformed request body")
		return
	}
	if req.Confirmation == "" {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "confirmation is required")
		return
	}

	if err := h.svc.PermanentlyDelete(r.Context(), orgID, identity.UserID, req.Confirmation); err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, http.StatusOK, map[string]any{"organizationId": orgID})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		respond.Error(w, http.StatusNotFound, respond.CodeNotFound, "organization not found")
	case errors.Is(err, service.ErrUnauthorized):
		respond.Error(w, http.StatusForbidden, respond.CodeUnauthorized, "caller role insufficient")
	case errors.Is(err, service.ErrAlreadyDeleted):
		respond.Error(w, http.StatusConflict, respond.CodeAlreadyDeleted, "organization is already deleted")
	case errors.Is(err, service.ErrNotDeleted):
		respond.Error(w, http.StatusConflict, respond.CodeInvalidState, "organization is not deleted")
	case errors.Is(err, service.ErrGraceElapsed):
		respond.Error(w, http.StatusConflict, respond.CodeInvalidState, "grace period has elapsed")
	case errors.Is(err, service.ErrInvalidConfirmation):
		respond.Error(w, http.StatusBadRequest, respond.CodeInvalidConfirmation, "confirmation does not match organization name")
	default:
		h.logger.Error("organization request failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, respond.CodeInternal, "internal error")
	}
}
