package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ausocean/utils/logging"

	"github.com/camden-git/membersync/repository"
	"github.com/camden-git/membersync/services"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	resp := APIErrorResponse{
		Errors: []APIErrorDetail{
			{
				Code:   code,
				Status: strconv.Itoa(httpStatus),
				Detail: detail,
			},
		},
	}

	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeServiceError maps the service error types onto HTTP statuses.
// Anything unclassified is logged and reported as a 500.
func writeServiceError(w http.ResponseWriter, log logging.Logger, err error) {
	switch {
	case services.IsAuthentication(err):
		WriteAPIError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case services.IsValidation(err):
		WriteAPIError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case services.IsNotConfigured(err):
		WriteAPIError(w, http.StatusServiceUnavailable, "not_configured", err.Error())
	case errors.Is(err, repository.ErrNotFound):
		WriteAPIError(w, http.StatusNotFound, "not_found", "record not found")
	default:
		log.Error("request failed", "error", err)
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
