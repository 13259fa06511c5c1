package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/kookbook/kookbook/internal/apierr"
)

type successBody struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

type errorDetail struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

type errorBody struct {
	Success bool        `json:"success"`
	Error   errorDetail `json:"error"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteSuccess writes {success: true, data, message?}.
func WriteSuccess(w http.ResponseWriter, status int, data any, message string) {
	WriteJSON(w, status, successBody{Success: true, Data: data, Message: message})
}

// WriteError translates err into {success: false, error: {...}}. Errors that are
// not *apierr.Error are logged and reported as a generic internal error.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierr.From(err)

	switch apiErr.Kind {
	case apierr.KindRateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(max(apiErr.RetryAfter, 1)))
	case apierr.KindUnauthenticated, apierr.KindInvalidCredentials:
		w.Header().Set("Cache-Control", "no-store")
	case apierr.KindInternal, apierr.KindUnavailable:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	case apierr.KindForbidden, apierr.KindCsrfRejected, apierr.KindPayloadTooLarge,
		apierr.KindValidation, apierr.KindNotFound, apierr.KindConflict:
	}

	WriteJSON(w, apiErr.Status(), errorBody{
		Error: errorDetail{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		},
	})
}

// DecodeJSON decodes the request body into v. Oversized bodies become
// PayloadTooLarge and malformed ones a validation error.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return apierr.Validation("Request body is required")
	}

	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return nil
	}

	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return apierr.PayloadTooLarge()
	case errors.Is(err, io.EOF):
		return apierr.Validation("Request body is required")
	default:
		return apierr.Validation("Invalid JSON body")
	}
}
