package handler

import (
	"net/http"
	"net/url"
	"time"

	"github.com/examportal/trustcore/shared/api"
	"github.com/examportal/trustcore/shared/errors"
	"github.com/examportal/trustcore/shared/utils"
	"github.com/go-chi/chi/v5"
)

// BlacklistIP handles POST /v1/admin/blacklist/ips
func (h *Handler) BlacklistIP(w http.ResponseWriter, r *http.Request) {
	var body api.BlacklistIPRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	var duration time.Duration
	if body.Duration != "" {
		d, err := time.ParseDuration(body.Duration)
		if err != nil {
			utils.WriteErrorAndStatusCode(w, errors.Validation("Invalid duration"))
			return
		}
		duration = d
	}

	if err := h.blacklist.BanIP(r.Context(), body.IP, body.Reason, duration); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, api.MessageResponse{Message: "IP blacklisted"})
}

// UnblacklistIP handles DELETE /v1/admin/blacklist/ips/{ip}
func (h *Handler) UnblacklistIP(w http.ResponseWriter, r *http.Request) {
	ip, err := url.PathUnescape(chi.URLParam(r, "ip"))
	if err != nil || ip == "" {
		utils.WriteErrorAndStatusCode(w, errors.Validation("Invalid IP address"))
		return
	}

	if err := h.blacklist.UnbanIP(r.Context(), ip); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	writeJSON(w, api.MessageResponse{Message: "IP removed from blacklist"})
}

// BlacklistedIPs handles GET /v1/admin/blacklist/ips
func (h *Handler) BlacklistedIPs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.blacklist.Entries(r.Context())
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	writeJSON(w, api.BlacklistResponse{Entries: entries})
}

// RefreshBlacklistCache handles POST /v1/admin/blacklist/refresh
func (h *Handler) RefreshBlacklistCache(w http.ResponseWriter, r *http.Request) {
	if err := h.blacklist.RefreshCache(r.Context()); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	writeJSON(w, api.MessageResponse{Message: "Blacklist cache refreshed"})
}
