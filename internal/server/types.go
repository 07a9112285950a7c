package server

import "card-agents/internal/api"

// PodsResponse is the card-back list of one card.
type PodsResponse struct {
	CardID     string         `json:"cardId"`
	Configured bool           `json:"configured"`
	Status     string         `json:"status,omitempty"`
	Running    int            `json:"running"`
	Total      int            `json:"total"`
	Error      string         `json:"error,omitempty"`
	Groups     []api.PodGroup `json:"groups"`
}

// StopResponse reports the outcome of a pod stop.
type StopResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
