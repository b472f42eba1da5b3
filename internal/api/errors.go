package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/leadnexus/internal/apperr"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to the HTTP status and envelope type.
func statusFor(k apperr.Kind) (int, string) {
	switch k {
	case apperr.ValidationFailure, apperr.MissingRequiredField:
		return http.StatusBadRequest, "invalid_request_error"
	case apperr.Unauthorized:
		return http.StatusUnauthorized, "authentication_error"
	case apperr.NotFound:
		return http.StatusNotFound, "not_found"
	case apperr.DuplicateEmail:
		return http.StatusConflict, "conflict_error"
	case apperr.InvalidReference:
		return http.StatusUnprocessableEntity, "invalid_reference_error"
	case apperr.UpstreamProviderFailure:
		return http.StatusBadGateway, "upstream_error"
	case apperr.ConfigurationMissing:
		return http.StatusServiceUnavailable, "configuration_error"
	}
	return http.StatusInternalServerError, "api_error"
}

// writeError renders err in the error envelope. Only the public message of
// a classified error is sent; anything else is logged and reported as an
// internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, errType := statusFor(apperr.KindOf(err))
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		httpError(w, code, errType, "internal error")
		return
	}
	if code >= http.StatusInternalServerError {
		slog.Warn("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	httpError(w, code, errType, "%s", apperr.PublicMessage(err))
}
