package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsgate-labs/backoffice-core/domains/invitations/be/service"
	"github.com/opsgate-labs/backoffice-core/platform/go/auth"
	"github.com/opsgate-labs/backoffice-core/platform/go/persistence"
	"github.com/opsgate-labs/backoffice-core/platform/go/respond"
)

// Handler exposes the invitation lifecycle over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("invitations service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// MountOrganizationRoutes registers the routes nested under an organization.
func (h *Handler) MountOrganizationRoutes(r chi.Router) {
	r.Post("/orgs/{orgID}/invitations", h.invite)
	r.Get("/orgs/{orgID}/invitations", h.list)
}

// MountInvitationRoutes registers the routes addressed by invitation id.
func (h *Handler) MountInvitationRoutes(r chi.Router) {
	r.Get("/invitations/{invitationID}", h.get)
	r.Post("/invitations/{invitationID}/resend", h.resend)
	r.Post("/invitations/{invitationID}/cancel", h.cancel)
	r.Post("/invitations/{invitationID}/accept", h.accept)
	r.Post("/invitations/bulk-cancel", h.bulkCancel)
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type bulkCancelRequest struct {
	InvitationIDs []uuid.UUID `json:"invitationIds"`
}

type bulkCancelItem struct {
	InvitationID uuid.UUID          `json:"invitationId"`
	Success      bool               `json:"success"`
	Error        *respond.ErrorBody `json:"error,omitempty"`
}

type invitationResponse struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organizationId"`
	Email          string     `json:"email"`
	Role           string     `json:"role"`
	Status         string     `json:"status"`
	InvitedBy      uuid.UUID  `json:"invitedBy"`
	InvitedAt      time.Time  `json:"invitedAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

func toResponse(inv service.Invitation) invitationResponse {
	return invitationResponse{
		ID:             inv.ID,
		OrganizationID: inv.OrganizationID,
		Email:          inv.Email,
		Role:           string(inv.Role),
		Status:         string(inv.Status),
		InvitedBy:      inv.InvitedBy,
		InvitedAt:      inv.InvitedAt,
		ExpiresAt:      inv.ExpiresAt,
		ResolvedAt:     inv.ResolvedAt,
	}
}

func (h *Handler) invite(w http.ResponseWriter, r *http.Request) {
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

	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "malformed request body")
		return
	}

	inv, err := h.svc.Invite(r.Context(), orgID, req.Email, persistence.Role(req.Role), identity.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, http.StatusCreated, toResponse(inv))
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

	invs, err := h.svc.List(r.Context(), orgID, identity.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]invitationResponse, 0, len(invs))
	for _, inv := range invs {
		out = append(out, toResponse(inv))
	}
	respond.OK(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "authentication required")
		return
	}
	invitationID, err := uuid.Parse(chi.URLParam(r, "invitationID"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "invalid invitation id")
		return
	}

	inv, err := h.svc.Get(r.Context(), invitationID, identity.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, http.StatusOK, toResponse(inv))
}

func (h *Handler) resend(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "authentication required")
		return
	}
	invitationID, err := uuid.Parse(chi.URLParam(r, "invitationID"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "invalid invitation id")
		return
	}

	inv, err := h.svc.Resend(r.Context(), invitationID, identity.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, http.StatusOK, toResponse(inv))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "authentication required")
		return
	}
	invitationID, err := uuid.Parse(chi.URLParam(r, "invitationID"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "invalid invitation id")
		return
	}

	inv, err := h.svc.Cancel(r.Context(), invitationID, identity.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, http.StatusOK, toResponse(inv))
}

// bulkCancel cancels each id on its own; the envelope succeeds whenever the
// request itself is well formed, with per-item outcomes in the payload.
func (h *Handler) bulkCancel(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "authentication required")
		return
	}

	var req bulkCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "malformed request body")
		return
	}
	if len(req.InvitationIDs) == 0 {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "invitationIds is required")
		return
	}

	results := h.svc.BulkCancel(r.Context(), req.InvitationIDs, identity.UserID)
	items := make([]bulkCancelItem, 0, len(results))
	for _, res := range results {
		item := bulkCancelItem{InvitationID: res.InvitationID, Success: res.Err == nil}
		if res.Err != nil {
			code, message := errorCode(res.Err)
			item.Error = &respond.ErrorBody{Code: code, Message: message}
		}
		items = append(items, item)
	}
	respond.OK(w, http.StatusOK, items)
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "authentication required")
		return
	}
	invitationID, err := uuid.Parse(chi.URLParam(r, "invitationID"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeValidationError, "invalid invitation id")
		return
	}

	inv, err := h.svc.Accept(r.Context(), invitationID, identity.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.OK(w, http.StatusOK, toResponse(inv))
}

func errorCode(err error) (code, message string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return respond.CodeNotFound, "invitation or organization not found"
	case errors.Is(err, service.ErrUnauthorized):
		return respond.CodeUnauthorized, "caller role insufficient"
	case errors.Is(err, service.ErrOrganizationDeleted):
		return respond.CodeOrganizationDeleted, "organization is deleted"
	case errors.Is(err, service.ErrAlreadyMember):
		return respond.CodeAlreadyMember, "email already belongs to a member"
	case errors.Is(err, service.ErrExists):
		return respond.CodeInvitationExists, "a pending invitation already exists for this email"
	case errors.Is(err, service.ErrExpired):
		return respond.CodeInvitationExpired, "invitation has expired"
	case errors.Is(err, service.ErrAlreadyAccepted):
		return respond.CodeAlreadyAccepted, "invitation was already accepted"
	case errors.Is(err, service.ErrInvalidState):
		return respond.CodeInvalidState, "invitation is not pending"
	case errors.Is(err, service.ErrInvalidInput):
		return respond.CodeValidationError, "invalid email or role"
	default:
		return respond.CodeInternal, "internal error"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code, message := errorCode(err)
	status := http.StatusConflict
	switch code {
	case respond.CodeNotFound:
		status = http.StatusNotFound
	case respond.CodeUnauthorized:
		status = http.StatusForbidden
	case respond.CodeValidationError:
		status = http.StatusBadRequest
	case respond.CodeInternal:
		h.logger.Error("invitation request failed", zap.Error(err))
		status = http.StatusInternalServerError
	}
	respond.Error(w, status, code, message)
}
