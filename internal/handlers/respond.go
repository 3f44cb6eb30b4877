// Package handlers exposes the service layer over HTTP. Responses use a JSON
// envelope: successes carry {data, pagination?}, failures carry
// {error: {code, message, details?}}.
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"docsync/internal/models"
)

// DataResponse is the success envelope.
type DataResponse struct {
	Data       interface{}        `json:"data"`
	Pagination *models.Pagination `json:"pagination,omitempty"`
}

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the taxonomy code and a human-readable message.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// statusForCode maps the error taxonomy onto HTTP status codes.
func statusForCode(code models.ErrorCode) int {
	switch code {
	case models.ErrValidation:
		return http.StatusBadRequest
	case models.ErrNotFound:
		return http.StatusNotFound
	case models.ErrConflict:
		return http.StatusConflict
	case models.ErrRateLimited:
		return http.StatusTooManyRequests
	case models.ErrDependencyUnavailable:
		return http.StatusServiceUnavailable
	case models.ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func sendJSON(logger *log.Logger, w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Printf("Failed to encode JSON response: %v", err)
	}
}

func sendData(logger *log.Logger, w http.ResponseWriter, status int, data interface{}, pagination *models.Pagination) {
	sendJSON(logger, w, status, DataResponse{Data: data, Pagination: pagination})
}

// sendError translates a service error into the envelope. Unclassified errors
// are reported as INTERNAL without leaking their text.
func sendError(logger *log.Logger, w http.ResponseWriter, err error) {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		logger.Printf("Internal error: %v", err)
		sendJSON(logger, w, http.StatusInternalServerError, ErrorResponse{
			Error: ErrorBody{Code: string(models.ErrInternal), Message: "internal error"},
		})
		return
	}
	sendJSON(logger, w, statusForCode(appErr.Code), ErrorResponse{
		Error: ErrorBody{Code: string(appErr.Code), Message: appErr.Message, Details: appErr.Details},
	})
}

func sendValidationError(logger *log.Logger, w http.ResponseWriter, message string) {
	sendError(logger, w, models.Errorf(models.ErrValidation, "%s", message))
}

// decodeJSON reads a request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// queryValue returns the first non-empty value among the given parameter
// names. Filters are published in camelCase with snake_case accepted as an
// alias.
func queryValue(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := r.URL.Query().Get(name); v != "" {
			return v
		}
	}
	return ""
}

func queryInt(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func listOptionsFromQuery(r *http.Request) models.ListOptions {
	return models.ListOptions{
		Page:  queryInt(r, "page", 1),
		Limit: queryInt(r, "limit", models.DefaultPageLimit),
		Sort:  r.URL.Query().Get("sort"),
		Order: r.URL.Query().Get("order"),
	}
}
