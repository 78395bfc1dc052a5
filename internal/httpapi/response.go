package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"pricehub/internal/market"
	"pricehub/internal/service"
	"pricehub/internal/storage"
)

// ErrorResponse is the envelope of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

const (
	CodeInvalidParameter    = "INVALID_PARAMETER"
	CodeNotFound            = "NOT_FOUND"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeRateLimited         = "RATE_LIMITED"
	CodePersistenceError    = "PERSISTENCE_ERROR"
	CodeNotConfigured       = "NOT_CONFIGURED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInternal            = "INTERNAL_ERROR"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message, code string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// respondCached writes a price payload with its X-Cache header.
func respondCached(w http.ResponseWriter, status service.CacheStatus, data any) {
	w.Header().Set("X-Cache", string(status))
	respondJSON(w, http.StatusOK, data)
}

// statusFor maps domain and store errors onto HTTP status and envelope code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, market.ErrInvalidParam):
		return http.StatusBadRequest, CodeInvalidParameter
	case errors.Is(err, market.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, market.ErrUpstreamUnavailable):
		return http.StatusBadGateway, CodeUpstreamUnavailable
	case errors.Is(err, market.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, storage.ErrNotConfigured):
		return http.StatusServiceUnavailable, CodeNotConfigured
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func handleError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	respondError(w, status, message, code)
}
