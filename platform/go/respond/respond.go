package respond

import (
	"encoding/json"
	"net/http"
)

// Stable error codes. Presentation layers branch on these strings; changing
// one is a breaking API change.
const (
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeNotFound               = "NOT_FOUND"
	CodeValidationError        = "VALIDATION_ERROR"
	CodeInvalidState           = "INVALID_STATE"
	CodeTransferAlreadyPending = "TRANSFER_ALREADY_PENDING"
	CodeTransferExpired        = "TRANSFER_EXPIRED"
	CodeNotIntendedRecipient   = "NOT_INTENDED_RECIPIENT"
	CodeAlreadyDeleted         = "ALREADY_DELETED"
	CodeOrganizationDeleted    = "ORGANIZATION_DELETED"
	CodeAlreadyMember          = "ALREADY_MEMBER"
	CodeInvitationExists       = "INVITATION_EXISTS"
	CodeInvitationExpired      = "INVITATION_EXPIRED"
	CodeAlreadyAccepted        = "ALREADY_ACCEPTED"
	CodeInvalidConfirmation    = "INVALID_CONFIRMATION"
	CodeInternal               = "INTERNAL"
)

// ErrorBody is the error half of the result envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the discriminated envelope every endpoint returns.
type Result struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// OK writes a success envelope with the given payload.
func OK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Result{Success: true, Data: data})
}

// Error writes a failure envelope with a stable code.
func Error(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Result{Success: false, Error: &ErrorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body Result) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
