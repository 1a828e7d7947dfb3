package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/andresmejia3/faced/internal/imageio"
	"github.com/andresmejia3/faced/internal/pipeline"
	"github.com/cockroachdb/errors"
)

type errorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message, hint string) {
	writeJSON(w, status, errorResponse{Error: message, Hint: hint})
}

// writeFailure maps err onto a status code and writes it. NoInput is not a
// failure and yields an empty 204.
func writeFailure(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return status
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "detection failed"
	}
	writeError(w, status, msg, strings.Join(errors.GetAllHints(err), "; "))
	return status
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, imageio.ErrNoInput):
		return http.StatusNoContent
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, imageio.ErrDecodeFailure),
		errors.Is(err, imageio.ErrInvalidColor),
		errors.Is(err, pipeline.ErrInvalidConfig),
		errors.Is(err, pipeline.ErrInvalidInput),
		errors.Is(err, errMalformedForm):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// requireMethod checks if the request method matches the expected method
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return false
	}
	return true
}
