package domain

import "time"

type Session struct {
	Id           string    `json:"id"`
	Nonce        string    `json:"nonce"`
	Authority    Authority `json:"authority"`
	Fingerprint  string    `json:"fingerprint"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	RotatedAt    time.Time `json:"rotated_at"`
}

func (s Session) Authenticated() bool {
	return s.Authority.Authenticated()
}
