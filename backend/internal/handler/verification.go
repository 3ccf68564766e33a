package handler

import (
	"net/http"

	"github.com/examportal/trustcore/shared/api"
	mw "github.com/examportal/trustcore/shared/middleware"
	"github.com/examportal/trustcore/shared/utils"
)

// PendingVerifications handles GET /v1/verification/pending
func (h *Handler) PendingVerifications(w http.ResponseWriter, r *http.Request) {
	users, err := h.verification.VerifiableUsers(r.Context(), mw.GetAuthorityFromContext(r))
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	writeJSON(w, api.UserListResponse{Users: users})
}

// EscalatedVerifications handles GET /v1/verification/escalated
func (h *Handler) EscalatedVerifications(w http.ResponseWriter, r *http.Request) {
	users, err := h.verification.EscalatedUsers(r.Context(), mw.GetAuthorityFromContext(r))
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	writeJSON(w, api.UserListResponse{Users: users})
}

// VerifyUser handles POST /v1/verification/{userId}/verify
func (h *Handler) VerifyUser(w http.ResponseWriter, r *http.Request) {
	userId, err := parseIdParam(r, "userId")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	cred, err := h.verification.VerifyAndIssueCredential(r.Context(), mw.GetAuthorityFromContext(r), userId)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	writeJSON(w, api.VerifyResponse{Message: "User verified, credential sent", Credential: cred})
}

// RejectUser handles POST /v1/verification/{userId}/reject
func (h *Handler) RejectUser(w http.ResponseWriter, r *http.Request) {
	userId, err := parseIdParam(r, "userId")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	var body api.RejectRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	if _, err := h.verification.Reject(r.Context(), mw.GetAuthorityFromContext(r), userId, body.Reason); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	writeJSON(w, api.RejectResponse{Message: "Verification request rejected"})
}

// EscalateOverdue handles POST /v1/admin/verification/escalate
func (h *Handler) EscalateOverdue(w http.ResponseWriter, r *http.Request) {
	n, err := h.verification.EscalateOverdue(r.Context())
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	writeJSON(w, api.EscalateResponse{Escalated: n})
}
