// Package api holds the request and response bodies of the HTTP surface.
package api

type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
