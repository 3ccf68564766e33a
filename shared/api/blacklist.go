package api

import "github.com/examportal/trustcore/shared/domain"

// Request DTOs

type BlacklistIPRequest struct {
	IP       string        `json:"ip" validate:"required,ip"`
	Reason   string        `json:"reason" validate:"max=500"`
	Duration string `json:"duration"` // Go duration such as "24h"; empty blocks indefinitely
}

// Response DTOs

type BlacklistResponse struct {
	Entries []domain.IPBlacklistEntry `json:"entries"`
}
