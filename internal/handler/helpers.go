package handler

import (
	"errors"
	"net/http"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error  string         `json:"error"`
	Code   string         `json:"code,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// classify maps a domain error to an HTTP status, a stable code and the
// message shown to the user. Store and provider failures get a generic
// message.
func classify(err error) (int, string, string) {
	var unauthorized *domain.ErrUnauthorized
	var forbidden *domain.ErrForbidden
	var dataFormat *domain.ErrDataFormat
	var validation *domain.ErrValidation
	var limitExceeded *domain.ErrLimitExceeded
	var conflict *domain.ErrConflict
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &unauthorized):
		return http.StatusUnauthorized, "unauthorized", err.Error()
	case errors.As(err, &forbidden):
		return http.StatusForbidden, "forbidden", err.Error()
	case errors.As(err, &dataFormat):
		return http.StatusBadRequest, "data_format", err.Error()
	case errors.As(err, &validation):
		return http.StatusBadRequest, "validation", validation.Message
	case errors.As(err, &limitExceeded):
		return http.StatusTooManyRequests, "limit_exceeded", err.Error()
	case errors.As(err, &conflict):
		return http.StatusConflict, "conflict", err.Error()
	case errors.As(err, &notFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.As(err, &circuitOpen), errors.As(err, &external):
		return http.StatusServiceUnavailable, "unavailable", "the service is temporarily unavailable, please try again in a few minutes"
	default:
		return http.StatusInternalServerError, "internal", "internal server error"
	}
}

// handleServiceError maps domain errors to JSON responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status, code, msg := classify(err)
	logServiceError(logger, status, err)

	resp := errorResponse{Error: msg, Code: code}
	var forbidden *domain.ErrForbidden
	if errors.As(err, &forbidden) {
		resp.Detail = map[string]any{"dashboard": forbidden.Dashboard, "upsell": forbidden.Upsell}
	}
	var limit *domain.ErrLimitExceeded
	if errors.As(err, &limit) {
		resp.Detail = map[string]any{"limit": limit.Limit, "used": limit.Used, "resets_at": limit.ResetsAt}
	}
	var dataFormat *domain.ErrDataFormat
	if errors.As(err, &dataFormat) && len(dataFormat.Missing) > 0 {
		resp.Detail = map[string]any{"file": dataFormat.File, "missing": dataFormat.Missing}
	}
	writeJSON(w, status, resp)
}

func logServiceError(logger *zap.Logger, status int, err error) {
	switch {
	case status >= 500:
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusTooManyRequests:
		logger.Warn("request refused", zap.Int("status", status), zap.String("error", err.Error()))
	default:
		logger.Debug("request rejected", zap.Int("status", status), zap.String("error", err.Error()))
	}
}

func asForbidden(err error) (*domain.ErrForbidden, bool) {
	var forbidden *domain.ErrForbidden
	ok := errors.As(err, &forbidden)
	return forbidden, ok
}
