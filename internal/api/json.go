package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/kataras/figma-slides/internal/apperr"
	"github.com/kataras/figma-slides/pkg/figma"
	"github.com/kataras/figma-slides/pkg/syncer"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// decodeValidate decodes a JSON body into dst and validates its struct tags.
func decodeValidate(r io.Reader, dst any) error {
	if err := json.NewDecoder(r).Decode(dst); err != nil {
		return fmt.Errorf("%w: body is invalid JSON", apperr.ErrInvalidInput)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: field %s failed on %q", apperr.ErrInvalidInput, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	return nil
}

// statusFor maps service and engine errors to HTTP status codes.
func statusFor(err error) int {
	var apiErr *figma.APIError
	switch {
	case syncer.IsTransient(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, syncer.ErrMissingToken):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, syncer.ErrFrameNotFound):
		return http.StatusNotFound
	case errors.Is(err, syncer.ErrNoFramesFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, syncer.ErrFileUnavailable), errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	} else {
		h.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody(msg))
}
