package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"gemini-chat-relay/internal/models"
	"gemini-chat-relay/internal/services"
)

const upstreamErrorMessage = "Failed to get response from Gemini API"

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(message, details string) models.ErrorResponse {
	return models.ErrorResponse{Error: message, Details: details}
}

// handleServiceError maps a service error type to its HTTP status and body.
func handleServiceError(w http.ResponseWriter, err error) {
	var (
		validationErr *services.ValidationError
		configErr     *services.ConfigError
		rateErr       *services.RateLimitError
		upstreamErr   *services.UpstreamError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorResp(validationErr.Message, ""))
	case errors.As(err, &configErr):
		writeJSON(w, http.StatusInternalServerError, errorResp(configErr.Message, ""))
	case errors.As(err, &rateErr):
		details := ""
		if rateErr.Err != nil {
			details = rateErr.Err.Error()
		}
		writeJSON(w, http.StatusTooManyRequests, errorResp(rateErr.Message, details))
	case errors.As(err, &upstreamErr):
		writeJSON(w, http.StatusInternalServerError, errorResp(upstreamErrorMessage, upstreamErr.Details()))
	default:
		writeJSON(w, http.StatusInternalServerError, errorResp(upstreamErrorMessage, err.Error()))
	}
}
