// Package transport contains the HTTP router, middleware chain, and all
// request handlers of the regelwerk API.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:      http.StatusBadRequest,
	model.ErrNotFound:        http.StatusNotFound,
	model.ErrConflict:        http.StatusConflict,
	model.ErrValidationError: http.StatusUnprocessableEntity,
	model.ErrInternalError:   http.StatusInternalServerError,
	model.ErrUnavailable:     http.StatusServiceUnavailable,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. Wrapped envelopes are found with errors.As; any other
// error becomes a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	writeEnvelope(w, envelopeOf(err))
}

// respondError writes err with the trace id of the request attached.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	env := *envelopeOf(err)
	env.TraceID = observability.TraceIDFromContext(r.Context())
	writeEnvelope(w, &env)
}

func envelopeOf(err error) *model.ErrorEnvelope {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}
	return ee
}

func writeEnvelope(w http.ResponseWriter, ee *model.ErrorEnvelope) {
	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewBadRequestError(msg))
}
