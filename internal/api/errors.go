package api

import (
	"errors"
	"net/http"

	"github.com/Origanire/netfilm-backend/internal/game"
	"github.com/Origanire/netfilm-backend/internal/service"
)

// Error codes returned in the "error" field
const (
	CodeInvalidInput        = "invalid_input"
	CodeNotFound            = "not_found"
	CodeInvalidState        = "invalid_state"
	CodeSessionBusy         = "session_busy"
	CodeStorageDisabled     = "storage_disabled"
	CodeProviderTimeout     = "provider_timeout"
	CodeProviderRateLimited = "provider_rate_limited"
	CodeProviderUnavailable = "provider_unavailable"
	CodeProviderAuthInvalid = "provider_auth_invalid"
	CodeProviderMalformed   = "provider_malformed_response"
	CodeInternal            = "internal"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classify maps a domain error to its HTTP status, code and client message
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, game.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput, err.Error()
	case errors.Is(err, game.ErrSessionNotFound):
		return http.StatusNotFound, CodeNotFound, "session not found"
	case errors.Is(err, game.ErrInvalidState):
		return http.StatusConflict, CodeInvalidState, err.Error()
	case errors.Is(err, game.ErrSessionBusy):
		return http.StatusConflict, CodeSessionBusy, "another request for this session is in progress"
	case errors.Is(err, game.ErrGameNotFound):
		return http.StatusNotFound, CodeNotFound, "game not found"
	case errors.Is(err, game.ErrStorageDisabled):
		return http.StatusServiceUnavailable, CodeStorageDisabled, "game history is not stored by this server"
	}

	var perr *service.ProviderError
	if !errors.As(err, &perr) {
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}

	// Vendor messages may echo request details; only the kind is exposed
	switch perr.Kind {
	case service.KindTimeout:
		return http.StatusGatewayTimeout, CodeProviderTimeout, "the AI provider did not answer in time"
	case service.KindRateLimited:
		return http.StatusServiceUnavailable, CodeProviderRateLimited, "the AI provider is rate limiting requests, try again shortly"
	case service.KindAuthInvalid:
		return http.StatusBadGateway, CodeProviderAuthInvalid, "the AI provider rejected the configured credentials"
	case service.KindMalformedResponse:
		return http.StatusBadGateway, CodeProviderMalformed, "the AI provider returned an unusable reply"
	default:
		return http.StatusServiceUnavailable, CodeProviderUnavailable, "the AI provider is unavailable, try again later"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError || code == CodeProviderAuthInvalid || code == CodeProviderMalformed {
		s.logger.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", code,
			"error", err)
	}
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}
